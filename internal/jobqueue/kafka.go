// Package jobqueue adapts internal/core/ports.JobBus to Kafka, following the
// teacher's internal/tools/kafka producer construction and the worker-pool,
// retry-with-backoff, commit-after-handling, DLQ-on-exhaustion shape of
// internal/orchestrator/kafka.go's StartKafkaConsumer.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"memoryd/internal/config"
	"memoryd/internal/core/errs"
	"memoryd/internal/core/ports"
)

const (
	defaultWorkerCount = 4
	maxAttempts        = 3
)

// Kafka is a ports.JobBus backed by one *kafka.Writer per topic and, per
// Subscribe call, a dedicated reader pumped by its own worker pool.
type Kafka struct {
	cfg     config.KafkaConfig
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader

	wg sync.WaitGroup
}

func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errs.New(errs.BadInput, "kafka: no brokers configured")
	}
	return &Kafka{cfg: cfg, brokers: brokers, writers: map[string]*kafka.Writer{}}, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (k *Kafka) topicFor(jobType ports.JobType) string {
	switch jobType {
	case ports.JobSegmentation:
		return k.cfg.SegmentationTopic
	case ports.JobReview:
		return k.cfg.ReviewTopic
	case ports.JobConsolidation:
		return k.cfg.ConsolidationTopic
	default:
		return string(jobType)
	}
}

func (k *Kafka) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(k.brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	k.writers[topic] = w
	return w
}

func (k *Kafka) Publish(ctx context.Context, jobType ports.JobType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.BadInput, "marshal job payload", err)
	}
	topic := k.topicFor(jobType)
	w := k.writerFor(topic)
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		return errs.Wrap(errs.Transient, fmt.Sprintf("publish to topic %s", topic), err)
	}
	return nil
}

// Subscribe starts a reader for jobType's topic and pumps it through a fixed
// worker pool. Each message is retried with exponential backoff on handler
// error; after maxAttempts it is published to the DLQ topic and committed
// regardless, so a poison message never blocks the partition.
func (k *Kafka) Subscribe(ctx context.Context, jobType ports.JobType, handler func(ctx context.Context, payload []byte) error) error {
	topic := k.topicFor(jobType)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  k.cfg.ConsumerGroup,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	dlqWriter := k.writerFor(k.cfg.DLQTopic)

	jobs := make(chan kafka.Message, defaultWorkerCount*4)

	k.wg.Add(defaultWorkerCount)
	for i := 0; i < defaultWorkerCount; i++ {
		go func() {
			defer k.wg.Done()
			for msg := range jobs {
				k.process(ctx, reader, dlqWriter, msg, handler)
			}
		}()
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(500 * time.Millisecond)
				continue
			}
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (k *Kafka) process(ctx context.Context, reader *kafka.Reader, dlqWriter *kafka.Writer, msg kafka.Message, handler func(ctx context.Context, payload []byte) error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := handler(ctx, msg.Value); err != nil {
			lastErr = err
			if attempt < maxAttempts && ctx.Err() == nil {
				backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
				timer := time.NewTimer(backoff)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
				}
				continue
			}
			publishDLQ(ctx, dlqWriter, msg, attempt, lastErr)
		}
		break
	}
	_ = reader.CommitMessages(ctx, msg)
}

func publishDLQ(ctx context.Context, dlqWriter *kafka.Writer, msg kafka.Message, attempts int, lastErr error) {
	envelope := map[string]any{
		"topic":    msg.Topic,
		"key":      string(msg.Key),
		"payload":  json.RawMessage(msg.Value),
		"attempts": attempts,
		"error":    fmt.Sprintf("%v", lastErr),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	_ = dlqWriter.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: body})
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	readers := k.readers
	writers := k.writers
	k.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
	for _, w := range writers {
		_ = w.Close()
	}
	return nil
}

var _ ports.JobBus = (*Kafka)(nil)
