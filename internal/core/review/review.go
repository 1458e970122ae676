// Package review implements the Review Worker: it aggregates an episode's
// pending reviews, debounces same-day re-review, asks the Planner to grade
// recall, and steps the episode's FSRS state accordingly. The
// access-tracking shape (read, decide, write back) follows the teacher's
// EvolvingMemory.updateAccessMetrics.
package review

import (
	"context"
	"time"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/fsrs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

const systemPrompt = `You grade how well a past episodic memory holds up against the
current conversation. Rate recall on a four-point scale: again (forgotten or
contradicted), hard (partially recalled), good (recalled as expected), or
easy (recalled and reinforced strongly).`

var ratingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rating": map[string]any{"type": "string", "enum": []any{"again", "hard", "good", "easy"}},
	},
	"required": []any{"rating"},
}

type ratingOut struct {
	Rating string `json:"rating"`
}

// Worker runs the review step for one episode at a time.
type Worker struct {
	episodes ports.EpisodeStore
	planner  ports.Planner
	now      func() time.Time
}

func New(episodes ports.EpisodeStore, planner ports.Planner) *Worker {
	return &Worker{episodes: episodes, planner: planner, now: time.Now}
}

// Review loads episodeID, skips a stale or out-of-order review and debounces
// a same-day re-review, asks the Planner for a rating, and persists the
// stepped FSRS state.
func (w *Worker) Review(ctx context.Context, episodeID types.EpisodeID, context_ string) error {
	ep, err := w.episodes.GetEpisode(ctx, episodeID)
	if err != nil {
		return errs.Wrap(errs.Internal, "load episode", err)
	}

	now := w.now()
	// Skip a stale or out-of-order review (reviewed_at not after the
	// episode's last review) and debounce a same-day re-review, rather than
	// relying on calendar-date equality: two reviews straddling midnight
	// minutes apart must still debounce, and a reviewed_at that arrives
	// before the episode's last_reviewed_at must never feed a negative
	// elapsed duration into fsrs.Next.
	if !now.After(ep.LastReviewedAt) || now.Sub(ep.LastReviewedAt) < 24*time.Hour {
		return nil
	}

	rating, err := w.gradeRating(ctx, ep, context_)
	if err != nil {
		return err
	}

	daysElapsed := now.Sub(ep.LastReviewedAt).Hours() / 24
	next := fsrs.Next(fsrs.State{Stability: ep.Stability, Difficulty: ep.Difficulty}, daysElapsed, rating)

	ep.Stability = next.Stability
	ep.Difficulty = next.Difficulty
	ep.LastReviewedAt = now

	if err := w.episodes.UpdateReview(ctx, episodeID, ep); err != nil {
		return errs.Wrap(errs.Internal, "persist reviewed episode", err)
	}
	return nil
}

func (w *Worker) gradeRating(ctx context.Context, ep types.Episode, context_ string) (fsrs.Rating, error) {
	prompt := "Episode summary:\n" + ep.Summary + "\n\nCurrent context:\n" + context_
	var out ratingOut
	if err := w.planner.GenerateObject(ctx, systemPrompt, prompt, ratingSchema, &out); err != nil {
		return 0, errs.Wrap(errs.UpstreamLLM, "grade episode review", err)
	}
	switch out.Rating {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "easy":
		return fsrs.Easy, nil
	case "good", "":
		return fsrs.Good, nil
	default:
		return fsrs.Good, nil
	}
}

// ReviewBatch drains conversationID's pending review list and reviews each
// episode in turn, stopping on the first error (the caller may retry the
// remainder by re-queuing the job; reviews already applied are idempotent
// for the rest of the day thanks to the same-day debounce).
func ReviewBatch(ctx context.Context, w *Worker, queue ports.QueueStore, conversationID, context_ string) error {
	ids, err := queue.TakePendingReviews(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.Review(ctx, id, context_); err != nil {
			return err
		}
	}
	return nil
}
