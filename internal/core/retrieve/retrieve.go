// Package retrieve implements the Retrieval Engine: hybrid lexical+vector
// candidate fetch fused with Reciprocal Rank Fusion, and the markdown
// rendering contract consumed by the calling agent. The parallel-leg fetch
// and RRF math are adapted from internal/rag/retrieve/{candidates,fusion}.go,
// generalized from document chunks to episodes and facts; the concurrency
// primitive is an errgroup instead of the teacher's raw channel pair. The
// markdown formatting rules are ported from the original implementation's
// memory/retrieval.rs.
package retrieve

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"memoryd/internal/core/fsrs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

// maxElapsedDays clamps the days-since-last-review window used in the
// retrievability weighting, defending against clock skew producing an
// absurdly large or negative exponent.
const maxElapsedDays = 36500

// CandidateLimit bounds how many candidates each retrieval leg fetches
// before fusion. A var, not a const, so cmd/memoryd can override it from
// config.TuningConfig at startup.
var CandidateLimit = 100

// RRFK is the Reciprocal Rank Fusion rank-offset constant.
const RRFK = 60

// Engine runs hybrid retrieval over episodes and facts for one conversation.
type Engine struct {
	episodes ports.EpisodeStore
	facts    ports.FactStore
	embedder ports.Embedder
	queue    ports.QueueStore
	now      func() time.Time
}

func New(episodes ports.EpisodeStore, facts ports.FactStore, embedder ports.Embedder, queue ports.QueueStore) *Engine {
	return &Engine{episodes: episodes, facts: facts, embedder: embedder, queue: queue, now: time.Now}
}

// Result is the fused, ranked retrieval output for one conversation.
type Result struct {
	Episodes []RankedEpisode
	Facts    []RankedFact
}

// RankedEpisode is an episode with its fused RRF score and 1-indexed rank.
type RankedEpisode struct {
	Episode types.Episode
	Score   float64
	Rank    int
}

// RankedFact is a fact with its fused RRF score and 1-indexed rank.
type RankedFact struct {
	Fact  types.Fact
	Score float64
	Rank  int
}

// embedQuery embeds query once, returning nil if the engine has no embedder
// configured (lexical-only deployments stay functional).
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.embedder == nil {
		return nil, nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, nil
	}
	return vecs[0], nil
}

// retrieveEpisodic runs retrieve_episodic: hybrid lexical+vector search over
// episodes, fused with RRF, then weighted by FSRS retrievability so episodes
// that are overdue for review surface no higher than their true recall
// probability warrants.
func (e *Engine) retrieveEpisodic(ctx context.Context, conversationID, query string, limit int) ([]RankedEpisode, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		queryVec    []float32
		lexEpisodes []ports.ScoredEpisode
	)
	g.Go(func() error {
		var err error
		queryVec, err = e.embedQuery(gctx, query)
		return err
	})
	g.Go(func() error {
		var err error
		lexEpisodes, err = e.episodes.LexicalSearchEpisodes(gctx, conversationID, query, CandidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var vecEpisodes []ports.ScoredEpisode
	if queryVec != nil {
		var err error
		vecEpisodes, err = e.episodes.SearchEpisodes(ctx, conversationID, queryVec, CandidateLimit)
		if err != nil {
			return nil, err
		}
	}

	episodes := fuseEpisodes(lexEpisodes, vecEpisodes)
	e.weightByRetrievability(episodes)

	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

// retrieveSemantic runs retrieve_semantic: hybrid lexical+vector search over
// facts, fused with RRF. If category is non-empty, results are filtered to
// that category after fusion.
func (e *Engine) retrieveSemantic(ctx context.Context, conversationID, query string, limit int, category string) ([]RankedFact, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		queryVec []float32
		lexFacts []ports.ScoredFact
	)
	g.Go(func() error {
		var err error
		queryVec, err = e.embedQuery(gctx, query)
		return err
	})
	g.Go(func() error {
		var err error
		lexFacts, err = e.facts.LexicalSearchFacts(gctx, conversationID, query, CandidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var vecFacts []ports.ScoredFact
	if queryVec != nil {
		var err error
		vecFacts, err = e.facts.SearchFacts(ctx, conversationID, queryVec, CandidateLimit)
		if err != nil {
			return nil, err
		}
	}

	facts := fuseFacts(lexFacts, vecFacts)
	if category != "" {
		filtered := facts[:0]
		for _, rf := range facts {
			if rf.Fact.Category == category {
				filtered = append(filtered, rf)
			}
		}
		facts = filtered
	}
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

// weightByRetrievability multiplies each episode's fused score by its FSRS
// retrievability, then re-ranks descending by the weighted score. Days
// elapsed since the episode's last review is clamped to [0, maxElapsedDays].
func (e *Engine) weightByRetrievability(episodes []RankedEpisode) {
	now := e.now()
	for i, re := range episodes {
		elapsed := now.Sub(re.Episode.LastReviewedAt).Hours() / 24
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > maxElapsedDays {
			elapsed = maxElapsedDays
		}
		episodes[i].Score *= fsrs.Retrievability(elapsed, re.Episode.Stability)
	}
	sort.Slice(episodes, func(i, j int) bool {
		if episodes[i].Score != episodes[j].Score {
			return episodes[i].Score > episodes[j].Score
		}
		return episodes[i].Episode.ID.String() < episodes[j].Episode.ID.String()
	})
	for i := range episodes {
		episodes[i].Rank = i + 1
	}
}

// recordPendingReview appends ids to conversationID's pending-review log, a
// best-effort side effect of a retrieval call: future episode review passes
// consult this log to prioritize recently-surfaced memories.
func (e *Engine) recordPendingReview(ctx context.Context, conversationID string, episodes []RankedEpisode) error {
	if e.queue == nil || len(episodes) == 0 {
		return nil
	}
	ids := make([]types.EpisodeID, len(episodes))
	for i, re := range episodes {
		ids[i] = re.Episode.ID
	}
	return e.queue.AddPendingReviews(ctx, conversationID, ids)
}

// RetrieveEpisodic runs retrieve_episodic in isolation: hybrid search over
// episodes only, retrievability-weighted, with no pending-review recording.
func (e *Engine) RetrieveEpisodic(ctx context.Context, conversationID, query string, limit int) ([]RankedEpisode, error) {
	return e.retrieveEpisodic(ctx, conversationID, query, limit)
}

// RetrieveSemantic runs retrieve_semantic in isolation: hybrid search over
// facts only, optionally filtered to category.
func (e *Engine) RetrieveSemantic(ctx context.Context, conversationID, query string, limit int, category string) ([]RankedFact, error) {
	return e.retrieveSemantic(ctx, conversationID, query, limit, category)
}

// ContextPreRetrieve runs context_pre_retrieve: semantic-only retrieval
// rendered as markdown for injection ahead of a response, with no
// pending-review side effect (pre-retrieval context calls never record).
func (e *Engine) ContextPreRetrieve(ctx context.Context, conversationID, query string, semanticLimit int) (string, error) {
	facts, err := e.retrieveSemantic(ctx, conversationID, query, semanticLimit, "")
	if err != nil {
		return "", err
	}
	return FormatMarkdown(facts, nil, DetailAuto), nil
}

// RetrieveMemory runs retrieve_memory: both episodic and semantic retrieval,
// rendered as markdown at the given detail level. A non-empty episodic
// result is appended to the conversation's pending-review log.
func (e *Engine) RetrieveMemory(ctx context.Context, conversationID, query string, episodicLimit, semanticLimit int, detail DetailLevel) (string, error) {
	result, err := e.Retrieve(ctx, conversationID, query, episodicLimit, semanticLimit)
	if err != nil {
		return "", err
	}
	if err := e.recordPendingReview(ctx, conversationID, result.Episodes); err != nil {
		return "", err
	}
	return FormatMarkdown(result.Facts, result.Episodes, detail), nil
}

// Retrieve runs retrieve_episodic and retrieve_semantic concurrently, fuses
// each entity type's legs with RRF, weights episodes by retrievability, and
// returns the top episodicLimit/semanticLimit of each, most relevant first.
// It performs no pending-review recording and no rendering; callers needing
// either use RetrieveMemory.
func (e *Engine) Retrieve(ctx context.Context, conversationID, query string, episodicLimit, semanticLimit int) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		episodes []RankedEpisode
		facts    []RankedFact
	)
	g.Go(func() error {
		var err error
		episodes, err = e.retrieveEpisodic(gctx, conversationID, query, episodicLimit)
		return err
	})
	g.Go(func() error {
		var err error
		facts, err = e.retrieveSemantic(gctx, conversationID, query, semanticLimit, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{Episodes: episodes, Facts: facts}, nil
}

func fuseEpisodes(lex, vec []ports.ScoredEpisode) []RankedEpisode {
	lexRank := rankByScoreEpisodes(lex)
	vecRank := rankByScoreEpisodes(vec)

	byID := map[types.EpisodeID]types.Episode{}
	scores := map[types.EpisodeID]float64{}
	for id, r := range lexRank {
		scores[id] += 1.0 / float64(RRFK+r)
	}
	for id, r := range vecRank {
		scores[id] += 1.0 / float64(RRFK+r)
	}
	for _, s := range lex {
		byID[s.Episode.ID] = s.Episode
	}
	for _, s := range vec {
		byID[s.Episode.ID] = s.Episode
	}

	out := make([]RankedEpisode, 0, len(byID))
	for id, ep := range byID {
		out = append(out, RankedEpisode{Episode: ep, Score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Episode.ID.String() < out[j].Episode.ID.String()
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func fuseFacts(lex, vec []ports.ScoredFact) []RankedFact {
	lexRank := rankByScoreFacts(lex)
	vecRank := rankByScoreFacts(vec)

	byID := map[types.FactID]types.Fact{}
	scores := map[types.FactID]float64{}
	for id, r := range lexRank {
		scores[id] += 1.0 / float64(RRFK+r)
	}
	for id, r := range vecRank {
		scores[id] += 1.0 / float64(RRFK+r)
	}
	for _, s := range lex {
		byID[s.Fact.ID] = s.Fact
	}
	for _, s := range vec {
		byID[s.Fact.ID] = s.Fact
	}

	out := make([]RankedFact, 0, len(byID))
	for id, f := range byID {
		out = append(out, RankedFact{Fact: f, Score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Fact.ID.String() < out[j].Fact.ID.String()
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// rankByScoreEpisodes returns a 1-indexed rank per episode ID, sorted by
// descending leg-local score (the ranking RRF needs, not the raw score).
func rankByScoreEpisodes(scored []ports.ScoredEpisode) map[types.EpisodeID]int {
	sorted := append([]ports.ScoredEpisode(nil), scored...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	out := make(map[types.EpisodeID]int, len(sorted))
	for i, s := range sorted {
		out[s.Episode.ID] = i + 1
	}
	return out
}

func rankByScoreFacts(scored []ports.ScoredFact) map[types.FactID]int {
	sorted := append([]ports.ScoredFact(nil), scored...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	out := make(map[types.FactID]int, len(sorted))
	for i, s := range sorted {
		out[s.Fact.ID] = i + 1
	}
	return out
}
