// Package config loads memoryd's runtime configuration from the environment
// (optionally via a .env file), following the teacher's env-first Load()
// shape: start from hardcoded defaults, overlay the optional tuning YAML
// file, then read every var with strings.TrimSpace(os.Getenv(...)) so env
// (including .env) overrides always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PostgresConfig configures the primary Store backend.
type PostgresConfig struct {
	DSN string
	Dim int
}

// RedisConfig configures the debounce-guard / cross-replica dedup cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the JobBus.
type KafkaConfig struct {
	Brokers            string
	SegmentationTopic  string
	ReviewTopic        string
	ConsolidationTopic string
	DLQTopic           string
	ConsumerGroup      string
}

// QdrantConfig configures the optional Qdrant vector leg.
type QdrantConfig struct {
	Enabled bool
	Addr    string
}

// EmbeddingConfig configures the embedding HTTP endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Timeout   time.Duration
	Dimension int
}

// PlannerConfig selects and configures the structured-output LLM backend.
type PlannerConfig struct {
	Provider       string // "anthropic" or "openai"
	Model          string
	AnthropicKey   string
	AnthropicBase  string
	OpenAIKey      string
	OpenAIBase     string
}

// TuningConfig holds the forgetting-curve / segmentation / consolidation /
// retrieval constants that the spec allows operators to tune per deployment.
// Core package defaults (queue.MinMessages, fsrs.DesiredRetention, etc.)
// remain the fallback when a value here is zero.
type TuningConfig struct {
	MinMessages             int
	WindowBase              int
	WindowMax               int
	SoftTimeTrigger         time.Duration
	FenceTTL                time.Duration
	EpisodeThreshold        int
	FlashbulbSurpriseThresh float64
	DedupeThreshold         float64
	CandidateLimit          int
	RelatedFactsLimit       int
	DesiredRetention        float64
	SurpriseBoostFactor     float64
}

// HTTPConfig configures the daemon's HTTP surface.
type HTTPConfig struct {
	Addr string
}

// ObsConfig configures logging, metrics, and tracing.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	MetricsAddr    string
	OTLP           string
}

// Config is the fully resolved runtime configuration for cmd/memoryd.
type Config struct {
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	Planner   PlannerConfig
	Tuning    TuningConfig
	HTTP      HTTPConfig
	Obs       ObsConfig
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func parseIntEnv(key string, dst *int) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseFloatEnv(key string, dst *float64) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func parseDurationSecondsEnv(key string, dst *time.Duration) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func parseBoolEnv(key string, dst *bool) {
	if v := getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
}

// tuningYAML mirrors TuningConfig for the optional static defaults file.
// Every field is a pointer so an absent key leaves the hardcoded default (or
// a later env override) untouched rather than zeroing it out.
type tuningYAML struct {
	MinMessages             *int     `yaml:"minMessages"`
	WindowBase              *int     `yaml:"windowBase"`
	WindowMax               *int     `yaml:"windowMax"`
	SoftTimeTriggerSeconds  *int     `yaml:"softTimeTriggerSeconds"`
	FenceTTLSeconds         *int     `yaml:"fenceTTLSeconds"`
	EpisodeThreshold        *int     `yaml:"episodeThreshold"`
	FlashbulbSurpriseThresh *float64 `yaml:"flashbulbSurpriseThreshold"`
	DedupeThreshold         *float64 `yaml:"dedupeThreshold"`
	CandidateLimit          *int     `yaml:"candidateLimit"`
	RelatedFactsLimit       *int     `yaml:"relatedFactsLimit"`
	DesiredRetention        *float64 `yaml:"desiredRetention"`
	SurpriseBoostFactor     *float64 `yaml:"surpriseBoostFactor"`
}

// loadTuningDefaults overlays t with values from an optional static YAML
// file, read before env overrides are applied (env always wins). The file
// is entirely optional: TUNING_CONFIG names it explicitly, otherwise
// tuning.yaml/tuning.yml in the working directory is used if present.
func loadTuningDefaults(t *TuningConfig) error {
	var paths []string
	if p := getenv("TUNING_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "tuning.yaml", "tuning.yml")

	var data []byte
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", p, err)
		}
	}
	if len(data) == 0 {
		return nil
	}

	var y tuningYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse tuning defaults: %w", err)
	}

	if y.MinMessages != nil {
		t.MinMessages = *y.MinMessages
	}
	if y.WindowBase != nil {
		t.WindowBase = *y.WindowBase
	}
	if y.WindowMax != nil {
		t.WindowMax = *y.WindowMax
	}
	if y.SoftTimeTriggerSeconds != nil {
		t.SoftTimeTrigger = time.Duration(*y.SoftTimeTriggerSeconds) * time.Second
	}
	if y.FenceTTLSeconds != nil {
		t.FenceTTL = time.Duration(*y.FenceTTLSeconds) * time.Second
	}
	if y.EpisodeThreshold != nil {
		t.EpisodeThreshold = *y.EpisodeThreshold
	}
	if y.FlashbulbSurpriseThresh != nil {
		t.FlashbulbSurpriseThresh = *y.FlashbulbSurpriseThresh
	}
	if y.DedupeThreshold != nil {
		t.DedupeThreshold = *y.DedupeThreshold
	}
	if y.CandidateLimit != nil {
		t.CandidateLimit = *y.CandidateLimit
	}
	if y.RelatedFactsLimit != nil {
		t.RelatedFactsLimit = *y.RelatedFactsLimit
	}
	if y.DesiredRetention != nil {
		t.DesiredRetention = *y.DesiredRetention
	}
	if y.SurpriseBoostFactor != nil {
		t.SurpriseBoostFactor = *y.SurpriseBoostFactor
	}
	return nil
}

// Load reads configuration from the environment, optionally overlaid by a
// .env file in the working directory (godotenv.Overload, same as the
// teacher: local/.env values win over any pre-existing OS environment).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Kafka: KafkaConfig{
			SegmentationTopic:  "memoryd.segmentation",
			ReviewTopic:        "memoryd.review",
			ConsolidationTopic: "memoryd.consolidation",
			DLQTopic:           "memoryd.dlq",
			ConsumerGroup:      "memoryd",
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com",
			Path:      "/v1/embeddings",
			Model:     "text-embedding-3-small",
			APIHeader: "Authorization",
			Timeout:   30 * time.Second,
			Dimension: 1024,
		},
		Planner: PlannerConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
		},
		Tuning: TuningConfig{
			MinMessages:             5,
			WindowBase:              20,
			WindowMax:               40,
			SoftTimeTrigger:         2 * time.Hour,
			FenceTTL:                120 * time.Minute,
			EpisodeThreshold:        3,
			FlashbulbSurpriseThresh: 0.85,
			DedupeThreshold:         0.95,
			CandidateLimit:          100,
			RelatedFactsLimit:       20,
			DesiredRetention:        0.9,
			SurpriseBoostFactor:     0.5,
		},
		HTTP: HTTPConfig{Addr: ":8090"},
		Obs:  ObsConfig{ServiceName: "memoryd", ServiceVersion: "dev", Environment: "development", LogLevel: "info", MetricsAddr: ":9090"},
	}

	if err := loadTuningDefaults(&cfg.Tuning); err != nil {
		return Config{}, err
	}

	cfg.Postgres.DSN = firstNonEmpty(getenv("DATABASE_URL"), getenv("POSTGRES_DSN"))
	parseIntEnv("VECTOR_DIMENSIONS", &cfg.Postgres.Dim)
	if cfg.Postgres.Dim == 0 {
		cfg.Postgres.Dim = 1024
	}

	cfg.Redis.Addr = getenv("REDIS_ADDR")
	cfg.Redis.Password = getenv("REDIS_PASSWORD")
	parseIntEnv("REDIS_DB", &cfg.Redis.DB)

	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = v
	}
	if v := getenv("KAFKA_SEGMENTATION_TOPIC"); v != "" {
		cfg.Kafka.SegmentationTopic = v
	}
	if v := getenv("KAFKA_REVIEW_TOPIC"); v != "" {
		cfg.Kafka.ReviewTopic = v
	}
	if v := getenv("KAFKA_CONSOLIDATION_TOPIC"); v != "" {
		cfg.Kafka.ConsolidationTopic = v
	}
	if v := getenv("KAFKA_DLQ_TOPIC"); v != "" {
		cfg.Kafka.DLQTopic = v
	}
	if v := getenv("KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}

	parseBoolEnv("QDRANT_ENABLED", &cfg.Qdrant.Enabled)
	cfg.Qdrant.Addr = getenv("QDRANT_ADDR")

	if v := getenv("EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := getenv("EMBED_PATH"); v != "" {
		cfg.Embedding.Path = v
	}
	if v := getenv("EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	cfg.Embedding.APIKey = getenv("EMBED_API_KEY")
	if v := getenv("EMBED_API_HEADER"); v != "" {
		cfg.Embedding.APIHeader = v
	}
	parseDurationSecondsEnv("EMBED_TIMEOUT_SECONDS", &cfg.Embedding.Timeout)
	parseIntEnv("EMBED_DIMENSION", &cfg.Embedding.Dimension)

	if v := getenv("PLANNER_PROVIDER"); v != "" {
		cfg.Planner.Provider = strings.ToLower(v)
	}
	if v := getenv("PLANNER_MODEL"); v != "" {
		cfg.Planner.Model = v
	}
	cfg.Planner.AnthropicKey = getenv("ANTHROPIC_API_KEY")
	cfg.Planner.AnthropicBase = getenv("ANTHROPIC_BASE_URL")
	cfg.Planner.OpenAIKey = getenv("OPENAI_API_KEY")
	cfg.Planner.OpenAIBase = firstNonEmpty(getenv("OPENAI_BASE_URL"), getenv("OPENAI_API_BASE_URL"))

	parseIntEnv("MIN_MESSAGES", &cfg.Tuning.MinMessages)
	parseIntEnv("WINDOW_BASE", &cfg.Tuning.WindowBase)
	parseIntEnv("WINDOW_MAX", &cfg.Tuning.WindowMax)
	parseDurationSecondsEnv("SOFT_TIME_TRIGGER_SECONDS", &cfg.Tuning.SoftTimeTrigger)
	parseDurationSecondsEnv("FENCE_TTL_SECONDS", &cfg.Tuning.FenceTTL)
	parseIntEnv("EPISODE_THRESHOLD", &cfg.Tuning.EpisodeThreshold)
	parseFloatEnv("FLASHBULB_SURPRISE_THRESHOLD", &cfg.Tuning.FlashbulbSurpriseThresh)
	parseFloatEnv("DEDUPE_THRESHOLD", &cfg.Tuning.DedupeThreshold)
	parseIntEnv("CANDIDATE_LIMIT", &cfg.Tuning.CandidateLimit)
	parseIntEnv("RELATED_FACTS_LIMIT", &cfg.Tuning.RelatedFactsLimit)
	parseFloatEnv("DESIRED_RETENTION", &cfg.Tuning.DesiredRetention)
	parseFloatEnv("SURPRISE_BOOST_FACTOR", &cfg.Tuning.SurpriseBoostFactor)

	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := getenv("OTEL_SERVICE_VERSION"); v != "" {
		cfg.Obs.ServiceVersion = v
	}
	if v := getenv("DEPLOYMENT_ENVIRONMENT"); v != "" {
		cfg.Obs.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Obs.LogLevel = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		cfg.Obs.MetricsAddr = v
	}
	cfg.Obs.OTLP = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if cfg.Postgres.DSN == "" {
		return Config{}, errors.New("DATABASE_URL (or POSTGRES_DSN) is required")
	}
	switch cfg.Planner.Provider {
	case "anthropic":
		if cfg.Planner.AnthropicKey == "" {
			return Config{}, errors.New("ANTHROPIC_API_KEY is required for planner.provider=anthropic")
		}
	case "openai":
		if cfg.Planner.OpenAIKey == "" {
			return Config{}, errors.New("OPENAI_API_KEY is required for planner.provider=openai")
		}
	default:
		return Config{}, fmt.Errorf("planner provider must be anthropic or openai (got %q)", cfg.Planner.Provider)
	}
	if cfg.Kafka.Brokers == "" {
		return Config{}, errors.New("KAFKA_BROKERS is required")
	}

	return cfg, nil
}
