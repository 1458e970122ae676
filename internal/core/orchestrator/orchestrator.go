// Package orchestrator wires the core pipeline together over a JobBus:
// pushing a message may trigger a SegmentationJob, segmentation may queue
// flashbulb episodes for out-of-band ReviewJobs and fire a
// ConsolidationJob, and retrieval runs synchronously (a request/response
// path has no use for at-least-once redelivery). The wiring shape follows
// cmd/orchestrator/main.go's command-dispatch loop, generalized from one
// Kafka topic to the three job types this pipeline needs.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"memoryd/internal/core/consolidate"
	"memoryd/internal/core/episode"
	"memoryd/internal/core/errs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/queue"
	"memoryd/internal/core/retrieve"
	"memoryd/internal/core/review"
	"memoryd/internal/core/segment"
	"memoryd/internal/core/types"
)

// Orchestrator holds every core component and the bus that connects them.
type Orchestrator struct {
	bus          ports.JobBus
	queueStore   ports.QueueStore
	episodes     ports.EpisodeStore
	queue        *queue.Queue
	segmenter    *segment.Segmenter
	builder      *episode.Builder
	reviewer     *review.Worker
	consolidator *consolidate.Consolidator
	retriever    *retrieve.Engine
	guard        ports.Guard
}

// reviewGuardTTL and consolidationGuardTTL bound how long a claimed guard
// key blocks a replica from re-attempting the same work; both comfortably
// outlast a single job handler's runtime.
const (
	reviewGuardTTL        = time.Hour
	consolidationGuardTTL = time.Minute
)

// New assembles an Orchestrator from already-constructed core components.
func New(
	bus ports.JobBus,
	queueStore ports.QueueStore,
	episodes ports.EpisodeStore,
	segmenter *segment.Segmenter,
	builder *episode.Builder,
	reviewer *review.Worker,
	consolidator *consolidate.Consolidator,
	retriever *retrieve.Engine,
) *Orchestrator {
	return &Orchestrator{
		bus:          bus,
		queueStore:   queueStore,
		episodes:     episodes,
		queue:        queue.New(queueStore),
		segmenter:    segmenter,
		builder:      builder,
		reviewer:     reviewer,
		consolidator: consolidator,
		retriever:    retriever,
	}
}

// SetGuard installs an optional dedupe guard consulted by handleReview and
// handleConsolidation. Leaving it unset (the default) disables the
// fast-path and relies solely on the SQL-level checks those handlers
// already make.
func (o *Orchestrator) SetGuard(g ports.Guard) {
	o.guard = g
}

// PushMessage appends msgs to conversationID's queue and, if the queue's
// fence protocol decides this batch warrants segmentation, publishes a
// SegmentationJob (C5 → JobBus → C6).
func (o *Orchestrator) PushMessage(ctx context.Context, conversationID string, msgs []types.Message) error {
	check, err := o.queue.Push(ctx, conversationID, msgs)
	if err != nil {
		return err
	}
	if check == nil {
		return nil
	}
	return o.bus.Publish(ctx, ports.JobSegmentation, conversationID, ports.SegmentationJob{
		ConversationID: conversationID,
		FenceCount:     check.FenceCount,
	})
}

// Subscribe registers every job handler on bus; call once at daemon
// startup after New.
func (o *Orchestrator) Subscribe(ctx context.Context) error {
	if err := o.bus.Subscribe(ctx, ports.JobSegmentation, o.handleSegmentation); err != nil {
		return err
	}
	if err := o.bus.Subscribe(ctx, ports.JobReview, o.handleReview); err != nil {
		return err
	}
	return o.bus.Subscribe(ctx, ports.JobConsolidation, o.handleConsolidation)
}

// handleSegmentation is C6→C7→(JobBus)→C10: segment the fenced prefix,
// build an episode per segment, drain the consumed messages, queue
// flashbulb episodes for review, and fire a consolidation check.
func (o *Orchestrator) handleSegmentation(ctx context.Context, payload []byte) error {
	var job ports.SegmentationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errs.Wrap(errs.BadInput, "decode segmentation job", err)
	}

	state, err := o.queueStore.GetOrCreateQueue(ctx, job.ConversationID)
	if err != nil {
		return err
	}
	n := int(job.FenceCount)
	if n > len(state.Messages) {
		n = len(state.Messages)
	}
	batch := state.Messages[:n]

	segments, err := o.segmenter.Split(ctx, state.PrevSummary, batch)
	if err != nil {
		return err
	}

	episodes, err := o.builder.BuildAll(ctx, job.ConversationID, segments)
	if err != nil {
		return err
	}

	summary := ""
	if len(episodes) > 0 {
		summary = episodes[len(episodes)-1].Summary
	}
	doubleWindow := !state.WindowDoubled
	if err := o.queue.Finalize(ctx, job.ConversationID, n, summary, doubleWindow); err != nil {
		return err
	}

	var flashbulb []types.EpisodeID
	for _, ep := range episodes {
		if ep.Surprise >= consolidate.FlashbulbSurpriseThreshold {
			flashbulb = append(flashbulb, ep.ID)
		}
	}
	if len(flashbulb) > 0 {
		if err := o.queueStore.AddPendingReviews(ctx, job.ConversationID, flashbulb); err != nil {
			return err
		}
		for _, id := range flashbulb {
			if err := o.bus.Publish(ctx, ports.JobReview, job.ConversationID, ports.ReviewJob{EpisodeID: id}); err != nil {
				return err
			}
		}
	}

	return o.bus.Publish(ctx, ports.JobConsolidation, job.ConversationID, ports.ConsolidationJob{
		ConversationID: job.ConversationID,
	})
}

func (o *Orchestrator) handleReview(ctx context.Context, payload []byte) error {
	var job ports.ReviewJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errs.Wrap(errs.BadInput, "decode review job", err)
	}
	if o.guard != nil {
		key := "review-debounce:" + job.EpisodeID.String() + ":" + time.Now().UTC().Format("2006-01-02")
		claimed, err := o.guard.Acquire(ctx, key, reviewGuardTTL)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
	}
	return o.reviewer.Review(ctx, job.EpisodeID, "")
}

func (o *Orchestrator) handleConsolidation(ctx context.Context, payload []byte) error {
	var job ports.ConsolidationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errs.Wrap(errs.BadInput, "decode consolidation job", err)
	}
	if o.guard != nil && !job.Force {
		key := "consolidation-guard:" + job.ConversationID
		claimed, err := o.guard.Acquire(ctx, key, consolidationGuardTTL)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
	}
	return o.consolidator.Run(ctx, job.ConversationID, job.Force)
}

// Retrieve runs the hybrid retrieval engine synchronously (C8): a
// request/response read path gains nothing from at-least-once redelivery,
// so unlike the write-side pipeline this is not routed through the JobBus.
// It performs no pending-review recording or rendering; see RetrieveMemory.
func (o *Orchestrator) Retrieve(ctx context.Context, conversationID, query string, episodicLimit, semanticLimit int) (retrieve.Result, error) {
	return o.retriever.Retrieve(ctx, conversationID, query, episodicLimit, semanticLimit)
}

// RetrieveEpisodic exposes retrieve_episodic directly.
func (o *Orchestrator) RetrieveEpisodic(ctx context.Context, conversationID, query string, limit int) ([]retrieve.RankedEpisode, error) {
	return o.retriever.RetrieveEpisodic(ctx, conversationID, query, limit)
}

// RetrieveSemantic exposes retrieve_semantic directly.
func (o *Orchestrator) RetrieveSemantic(ctx context.Context, conversationID, query string, limit int, category string) ([]retrieve.RankedFact, error) {
	return o.retriever.RetrieveSemantic(ctx, conversationID, query, limit, category)
}

// ContextPreRetrieve exposes context_pre_retrieve directly.
func (o *Orchestrator) ContextPreRetrieve(ctx context.Context, conversationID, query string, semanticLimit int) (string, error) {
	return o.retriever.ContextPreRetrieve(ctx, conversationID, query, semanticLimit)
}

// RetrieveMemory exposes retrieve_memory directly.
func (o *Orchestrator) RetrieveMemory(ctx context.Context, conversationID, query string, episodicLimit, semanticLimit int, detail retrieve.DetailLevel) (string, error) {
	return o.retriever.RetrieveMemory(ctx, conversationID, query, episodicLimit, semanticLimit, detail)
}

// RecentEpisodes exposes recent_memory: conversationID's episodes newest
// first, optionally bounded to the last daysLimit days (0 means no bound),
// capped at limit.
func (o *Orchestrator) RecentEpisodes(ctx context.Context, conversationID string, daysLimit, limit int) ([]types.Episode, error) {
	var since time.Time
	if daysLimit > 0 {
		since = time.Now().AddDate(0, 0, -daysLimit)
	}
	return o.episodes.RecentEpisodes(ctx, conversationID, since, limit)
}
