package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"memoryd/internal/config"
	"memoryd/internal/core/consolidate"
	"memoryd/internal/core/episode"
	"memoryd/internal/core/fsrs"
	"memoryd/internal/core/orchestrator"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/queue"
	"memoryd/internal/core/retrieve"
	"memoryd/internal/core/review"
	"memoryd/internal/core/segment"
	"memoryd/internal/dedupe"
	"memoryd/internal/embedding"
	"memoryd/internal/httpapi"
	"memoryd/internal/jobqueue"
	"memoryd/internal/metrics"
	"memoryd/internal/observability"
	"memoryd/internal/planner"
	"memoryd/internal/store"
	"memoryd/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("memoryd")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", cfg.Obs.LogLevel)

	baseCtx := context.Background()
	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	applyTuning(cfg.Tuning)

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	pool, err := store.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool, cfg.Postgres.Dim)
	if err := pg.Init(ctx); err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}

	var backingStore ports.Store = pg
	if cfg.Qdrant.Enabled {
		episodesIdx, err := vectorindex.NewQdrant(cfg.Qdrant.Addr, "episodes", cfg.Postgres.Dim)
		if err != nil {
			return fmt.Errorf("init qdrant episodes collection: %w", err)
		}
		defer episodesIdx.Close()
		factsIdx, err := vectorindex.NewQdrant(cfg.Qdrant.Addr, "facts", cfg.Postgres.Dim)
		if err != nil {
			return fmt.Errorf("init qdrant facts collection: %w", err)
		}
		defer factsIdx.Close()
		backingStore = store.NewQdrantStore(pg, episodesIdx, factsIdx)
		log.Info().Str("addr", cfg.Qdrant.Addr).Msg("vector search routed through qdrant")
	}

	emb := embedding.New(cfg.Embedding).WithHTTPClient(httpClient)

	var plan ports.Planner
	switch cfg.Planner.Provider {
	case "openai":
		plan = planner.NewOpenAI(cfg.Planner.OpenAIKey, cfg.Planner.OpenAIBase, cfg.Planner.Model, httpClient)
	default:
		plan = planner.NewAnthropic(cfg.Planner.AnthropicKey, cfg.Planner.AnthropicBase, cfg.Planner.Model, httpClient)
	}

	// config.Load requires KAFKA_BROKERS; jobqueue.NewMemory backs local
	// development and tests (internal/httpapi, internal/core/orchestrator)
	// where running a broker would be overkill.
	bus, err := jobqueue.NewKafka(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka job bus: %w", err)
	}
	defer bus.Close()

	var guard ports.Guard
	if cfg.Redis.Addr != "" {
		redisGuard, err := dedupe.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("redis dedupe guard unavailable, continuing without it")
		} else {
			defer redisGuard.Close()
			guard = redisGuard
		}
	}

	orch := orchestrator.New(
		bus,
		backingStore,
		backingStore,
		segment.New(plan),
		episode.New(backingStore, emb),
		review.New(backingStore, plan),
		consolidate.New(backingStore, backingStore, emb, plan),
		retrieve.New(backingStore, backingStore, emb, backingStore),
	)
	if guard != nil {
		orch.SetGuard(guard)
	}
	if err := orch.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe job handlers: %w", err)
	}

	registry := prometheus.NewRegistry()
	_ = metrics.New(registry)

	metricsSrv := &http.Server{Addr: cfg.Obs.MetricsAddr, Handler: metricsMux(registry)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Shutdown(context.Background())

	apiSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: httpapi.NewServer(orch)}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("memoryd http api listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http api server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return apiSrv.Shutdown(shutdownCtx)
}

// applyTuning overrides the core packages' tunable vars from cfg, leaving
// the package-default zero value in place when a setting was not
// explicitly configured (config.Load never leaves these zero once a .env
// or environment default applies, but an operator can still zero one out
// deliberately to mean "use the built-in default").
func applyTuning(t config.TuningConfig) {
	if t.MinMessages > 0 {
		queue.MinMessages = t.MinMessages
	}
	if t.WindowBase > 0 {
		queue.WindowBase = t.WindowBase
	}
	if t.WindowMax > 0 {
		queue.WindowMax = t.WindowMax
	}
	if t.SoftTimeTrigger > 0 {
		queue.SoftTimeTrigger = t.SoftTimeTrigger
	}
	if t.FenceTTL > 0 {
		queue.FenceTTL = t.FenceTTL
	}
	if t.EpisodeThreshold > 0 {
		consolidate.EpisodeThreshold = t.EpisodeThreshold
	}
	if t.FlashbulbSurpriseThresh > 0 {
		consolidate.FlashbulbSurpriseThreshold = t.FlashbulbSurpriseThresh
	}
	if t.DedupeThreshold > 0 {
		consolidate.DedupeThreshold = t.DedupeThreshold
	}
	if t.CandidateLimit > 0 {
		retrieve.CandidateLimit = t.CandidateLimit
	}
	if t.RelatedFactsLimit > 0 {
		consolidate.RelatedFactsLimit = t.RelatedFactsLimit
	}
	if t.DesiredRetention > 0 {
		fsrs.DesiredRetention = t.DesiredRetention
	}
	if t.SurpriseBoostFactor > 0 {
		fsrs.SurpriseBoostFactor = t.SurpriseBoostFactor
	}
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	return mux
}
