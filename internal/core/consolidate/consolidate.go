// Package consolidate implements the Consolidator: it batches unconsolidated
// episodes for a conversation, asks the Planner to distill them into
// semantic facts, and commits new/reinforce/update/invalidate actions
// transactionally. The similarity-threshold merge idea is carried from the
// teacher's EvolvingMemory.smartPruneBeforeAdd; the action state machine,
// thresholds, and related-facts batching are ported from the original
// implementation's memory/semantic/consolidation.rs.
package consolidate

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

// Tunable thresholds, overridable from config.TuningConfig at startup (see
// the comment on internal/core/queue's equivalent var block).
var (
	// EpisodeThreshold is the default number of unconsolidated episodes a
	// conversation accumulates before a ConsolidationJob fires without Force.
	EpisodeThreshold = 3
	// FlashbulbSurpriseThreshold marks an episode surprising enough to be
	// queued for an out-of-band review rather than waiting for the normal
	// schedule.
	FlashbulbSurpriseThreshold = 0.85
	// DedupeThreshold is the cosine-similarity floor above which a proposed
	// fact is treated as the same fact and reinforced instead of inserted
	// as new.
	DedupeThreshold = 0.95
	// RelatedFactsLimit bounds how many existing facts are loaded as
	// Planner context candidates per episode.
	RelatedFactsLimit = 20
)

const systemPrompt = `You distill conversation episodes into durable facts about the
user: identity, preferences, interests, personality, relationships,
experiences, goals, and guidelines. Ignore transient states (the user is
tired right now) in favor of durable ones (the user works night shifts).
Express each fact as a subject-predicate-object statement. If a fact
matches one already listed as existing, reference its id and choose
reinforce (still true, same wording), update (still true, details
changed), or invalidate (no longer true); otherwise choose new.`

var consolidationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"facts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":           map[string]any{"type": "string", "enum": []any{"new", "reinforce", "update", "invalidate"}},
					"existing_fact_id": map[string]any{"type": "string"},
					"subject":          map[string]any{"type": "string"},
					"predicate":        map[string]any{"type": "string"},
					"object":           map[string]any{"type": "string"},
					"fact":             map[string]any{"type": "string"},
					"category":         map[string]any{"type": "string"},
				},
				"required": []any{"action", "existing_fact_id", "subject", "predicate", "object", "fact", "category"},
			},
		},
	},
	"required": []any{"facts"},
}

type planOut struct {
	Facts []struct {
		Action         string `json:"action"`
		ExistingFactID string `json:"existing_fact_id"`
		Subject        string `json:"subject"`
		Predicate      string `json:"predicate"`
		Object         string `json:"object"`
		Fact           string `json:"fact"`
		Category       string `json:"category"`
	} `json:"facts"`
}

// Consolidator distills episodes into facts for one conversation at a time.
type Consolidator struct {
	episodes ports.EpisodeStore
	facts    ports.FactStore
	embedder ports.Embedder
	planner  ports.Planner
	now      func() time.Time
	sf       singleflight.Group
}

func New(episodes ports.EpisodeStore, facts ports.FactStore, embedder ports.Embedder, planner ports.Planner) *Consolidator {
	return &Consolidator{episodes: episodes, facts: facts, embedder: embedder, planner: planner, now: time.Now}
}

// Run consolidates conversationID's unconsolidated episodes. force waives
// the EpisodeThreshold count gate but never the conversation scoping: only
// episodes belonging to conversationID are ever loaded or mutated.
func (c *Consolidator) Run(ctx context.Context, conversationID string, force bool) error {
	episodes, err := c.episodes.UnconsolidatedEpisodes(ctx, conversationID, 0)
	if err != nil {
		return errs.Wrap(errs.Internal, "load unconsolidated episodes", err)
	}
	if len(episodes) == 0 {
		return nil
	}
	if !force && len(episodes) < EpisodeThreshold {
		return nil
	}

	related, err := c.loadContextFacts(ctx, conversationID, episodes)
	if err != nil {
		return err
	}

	prompt := buildPrompt(episodes, related)
	// Concurrent ConsolidationJobs for the same conversation within this
	// process (the Redis guard is only a fast-path, not a guarantee) collapse
	// into one Planner call instead of two, keyed on the conversation.
	outAny, err, _ := c.sf.Do(conversationID, func() (any, error) {
		var out planOut
		if err := c.planner.GenerateObject(ctx, systemPrompt, prompt, consolidationSchema, &out); err != nil {
			return planOut{}, err
		}
		return out, nil
	})
	if err != nil {
		return errs.Wrap(errs.UpstreamLLM, "consolidate episodes", err)
	}
	out := outAny.(planOut)

	texts := make([]string, len(out.Facts))
	for i, f := range out.Facts {
		texts[i] = f.Fact
	}
	var embeddings [][]float32
	if len(texts) > 0 {
		embeddings, err = c.embedder.Embed(ctx, texts)
		if err != nil {
			return errs.Wrap(errs.UpstreamLLM, "embed consolidated facts", err)
		}
	}

	episodeIDs := make([]types.EpisodeID, len(episodes))
	for i, ep := range episodes {
		episodeIDs[i] = ep.ID
	}

	existingByID := map[string]types.Fact{}
	for _, sf := range related {
		existingByID[sf.Fact.ID.String()] = sf.Fact
	}

	now := c.now()
	for i, pf := range out.Facts {
		var emb []float32
		if i < len(embeddings) {
			emb = embeddings[i]
		}
		if err := c.applyAction(ctx, pf.Action, pf.ExistingFactID, existingByID, types.Fact{
			ConversationID:    conversationID,
			Subject:           pf.Subject,
			Predicate:         pf.Predicate,
			Object:            pf.Object,
			Fact:              pf.Fact,
			Category:          pf.Category,
			Embedding:         emb,
			SourceEpisodicIDs: episodeIDs,
			CreatedAt:         now,
			ValidAt:           now,
		}, now); err != nil {
			return err
		}
	}

	return c.episodes.MarkConsolidated(ctx, episodeIDs, now)
}

// applyAction commits one consolidated fact's action. A hallucinated
// existing_fact_id (one the planner invented, not present in existingByID)
// is demoted to "new" rather than failing the whole job — a single bad
// reference from the model should not block the rest of the batch.
func (c *Consolidator) applyAction(ctx context.Context, action, existingID string, existingByID map[string]types.Fact, proposed types.Fact, now time.Time) error {
	action = strings.ToLower(strings.TrimSpace(action))

	if action != "new" && existingID != "" {
		if _, ok := existingByID[existingID]; !ok {
			action = "new"
		}
	}

	switch action {
	case "reinforce":
		existing := existingByID[existingID]
		return c.facts.ReinforceFact(ctx, existing.ID, proposed.SourceEpisodicIDs)
	case "update":
		existing := existingByID[existingID]
		proposed.ID = existing.ID
		proposed.ValidAt = existing.ValidAt
		return c.facts.UpdateFact(ctx, existing.ID, proposed)
	case "invalidate":
		existing := existingByID[existingID]
		return c.facts.InvalidateFact(ctx, existing.ID, now)
	default: // "new"
		if len(proposed.Embedding) > 0 {
			dup, err := c.findDuplicateFact(ctx, proposed)
			if err != nil {
				return err
			}
			if dup != nil {
				return c.facts.ReinforceFact(ctx, dup.ID, proposed.SourceEpisodicIDs)
			}
		}
		id, err := types.NewFactID()
		if err != nil {
			return errs.Wrap(errs.Internal, "generate fact id", err)
		}
		proposed.ID = id
		return c.facts.InsertFact(ctx, proposed)
	}
}

// findDuplicateFact searches for an already-active fact in proposed's
// conversation whose embedding exceeds DedupeThreshold similarity to
// proposed's own, per the "new" action's required merge-or-insert step: a
// fact the Planner labeled "new" can still collide with one already on
// file (e.g. the same fact re-surfacing in a later episode the Planner
// wasn't shown as context), and such a collision must reinforce the
// existing row rather than duplicate it.
func (c *Consolidator) findDuplicateFact(ctx context.Context, proposed types.Fact) (*types.Fact, error) {
	scored, err := c.facts.RelatedFacts(ctx, proposed.ConversationID, proposed.Embedding, DedupeThreshold, 1)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "search for duplicate fact", err)
	}
	if len(scored) == 0 {
		return nil, nil
	}
	return &scored[0].Fact, nil
}

// loadContextFacts gathers existing facts to show the Planner as context
// (step 2: so it can recognize a proposed fact as a reinforce/update/
// invalidate of one already on file) via a plain top-K similarity search
// per episode — unlike the "new" action's own dedupe check, this is
// context for the model's judgment, not a merge decision, so it is not
// gated behind DedupeThreshold (which would normally return nothing
// useful as context). Results are deduped by fact ID across episodes.
func (c *Consolidator) loadContextFacts(ctx context.Context, conversationID string, episodes []types.Episode) ([]ports.ScoredFact, error) {
	seen := map[string]bool{}
	var out []ports.ScoredFact
	for _, ep := range episodes {
		if len(ep.Embedding) == 0 {
			continue
		}
		scored, err := c.facts.SearchFacts(ctx, conversationID, ep.Embedding, RelatedFactsLimit)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "load context facts", err)
		}
		for _, sf := range scored {
			id := sf.Fact.ID.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, sf)
		}
	}
	return out, nil
}

func buildPrompt(episodes []types.Episode, related []ports.ScoredFact) string {
	var b strings.Builder
	b.WriteString("Episodes:\n")
	for _, ep := range episodes {
		b.WriteString("- ")
		b.WriteString(ep.Summary)
		b.WriteString("\n")
	}
	if len(related) > 0 {
		b.WriteString("\nExisting facts (id: subject predicate object):\n")
		for _, sf := range related {
			b.WriteString("- ")
			b.WriteString(sf.Fact.ID.String())
			b.WriteString(": ")
			b.WriteString(sf.Fact.Subject)
			b.WriteString(" ")
			b.WriteString(sf.Fact.Predicate)
			b.WriteString(" ")
			b.WriteString(sf.Fact.Object)
			b.WriteString("\n")
		}
	}
	return b.String()
}
