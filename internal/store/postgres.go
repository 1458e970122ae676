package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

// Postgres is the default Store backend: a pgx pool over tables created by
// Init, with vector similarity via the pgvector extension's `<#>` (inner
// product) operator. The transaction shape (BeginTx, deferred Rollback,
// Commit) follows internal/persistence/databases/chat_store_postgres.go;
// the table-bootstrap-in-Init and raw-SQL upsert style follows
// postgres_vector.go.
type Postgres struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgres(pool *pgxpool.Pool, dim int) *Postgres {
	return &Postgres{pool: pool, dim: dim}
}

// Init creates the vector extension and the three tables this store needs.
func (p *Postgres) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS message_queue (
			conversation_id TEXT PRIMARY KEY,
			messages JSONB NOT NULL DEFAULT '[]',
			window_doubled BOOLEAN NOT NULL DEFAULT false,
			in_progress_fence INTEGER,
			fence_set_at TIMESTAMPTZ,
			pending_reviews UUID[] NOT NULL DEFAULT '{}',
			prev_summary TEXT NOT NULL DEFAULT ''
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodic_memory (
			id UUID PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			messages JSONB NOT NULL DEFAULT '[]',
			embedding VECTOR(%d),
			surprise REAL NOT NULL DEFAULT 0,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_reviewed_at TIMESTAMPTZ NOT NULL,
			consolidated_at TIMESTAMPTZ
		)`, p.dim),
		`CREATE INDEX IF NOT EXISTS episodic_memory_conv_idx ON episodic_memory (conversation_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS semantic_memory (
			id UUID PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			fact TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			embedding VECTOR(%d),
			source_episodic_ids UUID[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			valid_at TIMESTAMPTZ NOT NULL,
			invalid_at TIMESTAMPTZ
		)`, p.dim),
		`CREATE INDEX IF NOT EXISTS semantic_memory_conv_idx ON semantic_memory (conversation_id)`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func toVectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func uuidsToPg(ids []types.EpisodeID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = uuid.UUID(id)
	}
	return out
}

// --- QueueStore ---

func (p *Postgres) GetOrCreateQueue(ctx context.Context, conversationID string) (types.QueueState, error) {
	_, err := p.pool.Exec(ctx, `INSERT INTO message_queue (conversation_id) VALUES ($1) ON CONFLICT DO NOTHING`, conversationID)
	if err != nil {
		return types.QueueState{}, err
	}
	return p.readQueue(ctx, p.pool, conversationID)
}

func (p *Postgres) readQueue(ctx context.Context, q queryer, conversationID string) (types.QueueState, error) {
	var (
		messagesRaw []byte
		windowDoubled bool
		fence       *int32
		fenceSetAt  *time.Time
		pendingRaw  []uuid.UUID
		prevSummary string
	)
	row := q.QueryRow(ctx, `SELECT messages, window_doubled, in_progress_fence, fence_set_at, pending_reviews, prev_summary
		FROM message_queue WHERE conversation_id = $1 FOR UPDATE`, conversationID)
	if err := row.Scan(&messagesRaw, &windowDoubled, &fence, &fenceSetAt, &pendingRaw, &prevSummary); err != nil {
		return types.QueueState{}, err
	}
	var msgs []types.Message
	if len(messagesRaw) > 0 {
		if err := json.Unmarshal(messagesRaw, &msgs); err != nil {
			return types.QueueState{}, err
		}
	}
	pending := make([]types.EpisodeID, len(pendingRaw))
	for i, id := range pendingRaw {
		pending[i] = types.EpisodeID(id)
	}
	state := types.QueueState{
		ConversationID:  conversationID,
		Messages:        msgs,
		WindowDoubled:   windowDoubled,
		InProgressFence: fence,
		PendingReviews:  pending,
		PrevSummary:     prevSummary,
	}
	if fenceSetAt != nil {
		state.FenceSetAt = *fenceSetAt
	}
	return state, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) (int, error) {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return 0, err
	}
	var count int
	err = p.pool.QueryRow(ctx, `UPDATE message_queue
		SET messages = messages || $2::jsonb
		WHERE conversation_id = $1
		RETURNING jsonb_array_length(messages)`, conversationID, payload).Scan(&count)
	return count, err
}

func (p *Postgres) TryAcquireFence(ctx context.Context, conversationID string, triggerCount int32, staleAfter time.Duration) (bool, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE message_queue
		SET in_progress_fence = $2, fence_set_at = now()
		WHERE conversation_id = $1
		  AND (in_progress_fence IS NULL OR fence_set_at < now() - ($3 * interval '1 second'))`,
		conversationID, triggerCount, staleAfter.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ClearFenceAndMaybeDouble(ctx context.Context, conversationID string, doubled bool) error {
	_, err := p.pool.Exec(ctx, `UPDATE message_queue
		SET in_progress_fence = NULL, window_doubled = window_doubled OR $2
		WHERE conversation_id = $1`, conversationID, doubled)
	return err
}

func (p *Postgres) DrainPrefix(ctx context.Context, conversationID string, n int, summary string) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	state, err := p.readQueue(ctx, tx, conversationID)
	if err != nil {
		return err
	}
	if n > len(state.Messages) {
		n = len(state.Messages)
	}
	remaining, err := json.Marshal(state.Messages[n:])
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE message_queue SET messages = $2::jsonb, prev_summary = $3 WHERE conversation_id = $1`,
		conversationID, remaining, summary); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) AddPendingReviews(ctx context.Context, conversationID string, ids []types.EpisodeID) error {
	_, err := p.pool.Exec(ctx, `UPDATE message_queue
		SET pending_reviews = pending_reviews || $2::uuid[]
		WHERE conversation_id = $1`, conversationID, uuidsToPg(ids))
	return err
}

func (p *Postgres) TakePendingReviews(ctx context.Context, conversationID string) ([]types.EpisodeID, error) {
	var raw []uuid.UUID
	err := p.pool.QueryRow(ctx, `UPDATE message_queue
		SET pending_reviews = '{}'
		WHERE conversation_id = $1
		RETURNING pending_reviews`, conversationID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	out := make([]types.EpisodeID, len(raw))
	for i, id := range raw {
		out[i] = types.EpisodeID(id)
	}
	return out, nil
}

// --- EpisodeStore ---

func (p *Postgres) InsertEpisode(ctx context.Context, ep types.Episode) error {
	msgs, err := json.Marshal(ep.Messages)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO episodic_memory
		(id, conversation_id, title, summary, keywords, messages, embedding, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		uuid.UUID(ep.ID), ep.ConversationID, ep.Title, ep.Summary, ep.Keywords, msgs, toVectorLiteral(ep.Embedding),
		ep.Surprise, ep.Stability, ep.Difficulty, ep.StartAt, ep.EndAt, ep.CreatedAt, ep.LastReviewedAt, ep.ConsolidatedAt)
	return err
}

func (p *Postgres) GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error) {
	var ep types.Episode
	var rawID uuid.UUID
	var embStr string
	var msgsRaw []byte
	err := p.pool.QueryRow(ctx, `SELECT id, conversation_id, title, summary, keywords, messages, embedding::text, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at
		FROM episodic_memory WHERE id = $1`, uuid.UUID(id)).Scan(
		&rawID, &ep.ConversationID, &ep.Title, &ep.Summary, &ep.Keywords, &msgsRaw, &embStr,
		&ep.Surprise, &ep.Stability, &ep.Difficulty, &ep.StartAt, &ep.EndAt, &ep.CreatedAt, &ep.LastReviewedAt, &ep.ConsolidatedAt)
	if err != nil {
		return types.Episode{}, err
	}
	ep.ID = types.EpisodeID(rawID)
	ep.Embedding = parseVectorLiteral(embStr)
	if len(msgsRaw) > 0 {
		if err := json.Unmarshal(msgsRaw, &ep.Messages); err != nil {
			return types.Episode{}, err
		}
	}
	return ep, nil
}

func (p *Postgres) UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error {
	_, err := p.pool.Exec(ctx, `UPDATE episodic_memory SET stability = $2, difficulty = $3, last_reviewed_at = $4 WHERE id = $1`,
		uuid.UUID(id), st.Stability, st.Difficulty, st.LastReviewedAt)
	return err
}

func (p *Postgres) UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error) {
	query := `SELECT id, conversation_id, title, summary, keywords, messages, embedding::text, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at
		FROM episodic_memory WHERE conversation_id = $1 AND consolidated_at IS NULL ORDER BY created_at ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var rawID uuid.UUID
		var embStr string
		var msgsRaw []byte
		if err := rows.Scan(&rawID, &ep.ConversationID, &ep.Title, &ep.Summary, &ep.Keywords, &msgsRaw, &embStr,
			&ep.Surprise, &ep.Stability, &ep.Difficulty, &ep.StartAt, &ep.EndAt, &ep.CreatedAt, &ep.LastReviewedAt, &ep.ConsolidatedAt); err != nil {
			return nil, err
		}
		ep.ID = types.EpisodeID(rawID)
		ep.Embedding = parseVectorLiteral(embStr)
		if len(msgsRaw) > 0 {
			if err := json.Unmarshal(msgsRaw, &ep.Messages); err != nil {
				return nil, err
			}
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkConsolidated(ctx context.Context, ids []types.EpisodeID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE episodic_memory SET consolidated_at = $2 WHERE id = ANY($1)`, uuidsToPg(ids), at)
	return err
}

func (p *Postgres) RecentEpisodes(ctx context.Context, conversationID string, since time.Time, limit int) ([]types.Episode, error) {
	query := `SELECT id, conversation_id, title, summary, keywords, messages, embedding::text, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at
		FROM episodic_memory WHERE conversation_id = $1`
	args := []any{conversationID}
	if !since.IsZero() {
		query += ` AND end_at >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY end_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var rawID uuid.UUID
		var embStr string
		var msgsRaw []byte
		if err := rows.Scan(&rawID, &ep.ConversationID, &ep.Title, &ep.Summary, &ep.Keywords, &msgsRaw, &embStr,
			&ep.Surprise, &ep.Stability, &ep.Difficulty, &ep.StartAt, &ep.EndAt, &ep.CreatedAt, &ep.LastReviewedAt, &ep.ConsolidatedAt); err != nil {
			return nil, err
		}
		ep.ID = types.EpisodeID(rawID)
		ep.Embedding = parseVectorLiteral(embStr)
		if len(msgsRaw) > 0 {
			if err := json.Unmarshal(msgsRaw, &ep.Messages); err != nil {
				return nil, err
			}
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (p *Postgres) SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredEpisode, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, conversation_id, title, summary, keywords, messages, embedding::text, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at,
		-(embedding <#> $2) AS score
		FROM episodic_memory WHERE conversation_id = $1
		ORDER BY score DESC LIMIT $3`, conversationID, toVectorLiteral(queryVec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.ScoredEpisode
	for rows.Next() {
		var ep types.Episode
		var rawID uuid.UUID
		var embStr string
		var msgsRaw []byte
		var score float64
		if err := rows.Scan(&rawID, &ep.ConversationID, &ep.Title, &ep.Summary, &ep.Keywords, &msgsRaw, &embStr,
			&ep.Surprise, &ep.Stability, &ep.Difficulty, &ep.StartAt, &ep.EndAt, &ep.CreatedAt, &ep.LastReviewedAt, &ep.ConsolidatedAt, &score); err != nil {
			return nil, err
		}
		ep.ID = types.EpisodeID(rawID)
		ep.Embedding = parseVectorLiteral(embStr)
		if len(msgsRaw) > 0 {
			if err := json.Unmarshal(msgsRaw, &ep.Messages); err != nil {
				return nil, err
			}
		}
		out = append(out, ports.ScoredEpisode{Episode: ep, Score: score})
	}
	return out, rows.Err()
}

func (p *Postgres) LexicalSearchEpisodes(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredEpisode, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, conversation_id, title, summary, keywords, messages, embedding::text, surprise, stability, difficulty, start_at, end_at, created_at, last_reviewed_at, consolidated_at,
		ts_rank_cd(to_tsvector('english', summary), plainto_tsquery('english', $2)) AS score
		FROM episodic_memory WHERE conversation_id = $1 AND to_tsvector('english', summary) @@ plainto_tsquery('english', $2)
		ORDER BY score DESC LIMIT $3`, conversationID, query, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.ScoredEpisode
	for rows.Next() {
		var ep types.Episode
		var rawID uuid.UUID
		var embStr string
		var msgsRaw []byte
		var score float64
		if err := rows.Scan(&rawID, &ep.ConversationID, &ep.Title, &ep.Summary, &ep.Keywords, &msgsRaw, &embStr,
			&ep.Surprise, &ep.Stability, &ep.Difficulty, &ep.StartAt, &ep.EndAt, &ep.CreatedAt, &ep.LastReviewedAt, &ep.ConsolidatedAt, &score); err != nil {
			return nil, err
		}
		ep.ID = types.EpisodeID(rawID)
		ep.Embedding = parseVectorLiteral(embStr)
		if len(msgsRaw) > 0 {
			if err := json.Unmarshal(msgsRaw, &ep.Messages); err != nil {
				return nil, err
			}
		}
		out = append(out, ports.ScoredEpisode{Episode: ep, Score: score})
	}
	return out, rows.Err()
}

// --- FactStore ---

func (p *Postgres) InsertFact(ctx context.Context, f types.Fact) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO semantic_memory
		(id, conversation_id, subject, predicate, object, fact, category, embedding, source_episodic_ids, created_at, valid_at, invalid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		uuid.UUID(f.ID), f.ConversationID, f.Subject, f.Predicate, f.Object, f.Fact, f.Category,
		toVectorLiteral(f.Embedding), uuidsToPgFact(f.SourceEpisodicIDs), f.CreatedAt, f.ValidAt, f.InvalidAt)
	return err
}

func uuidsToPgFact(ids []types.EpisodeID) []uuid.UUID { return uuidsToPg(ids) }

func (p *Postgres) GetFact(ctx context.Context, id types.FactID) (types.Fact, error) {
	var f types.Fact
	var rawID uuid.UUID
	var embStr string
	var sources []uuid.UUID
	err := p.pool.QueryRow(ctx, `SELECT id, conversation_id, subject, predicate, object, fact, category, embedding::text, source_episodic_ids, created_at, valid_at, invalid_at
		FROM semantic_memory WHERE id = $1`, uuid.UUID(id)).Scan(
		&rawID, &f.ConversationID, &f.Subject, &f.Predicate, &f.Object, &f.Fact, &f.Category, &embStr, &sources, &f.CreatedAt, &f.ValidAt, &f.InvalidAt)
	if err != nil {
		return types.Fact{}, err
	}
	f.ID = types.FactID(rawID)
	f.Embedding = parseVectorLiteral(embStr)
	f.SourceEpisodicIDs = make([]types.EpisodeID, len(sources))
	for i, s := range sources {
		f.SourceEpisodicIDs[i] = types.EpisodeID(s)
	}
	return f, nil
}

// ReinforceFact appends newSourceEpisodes to the fact's source list,
// skipping IDs already present, following the append_source_episodic_ids
// dedup-before-concat pattern.
func (p *Postgres) ReinforceFact(ctx context.Context, id types.FactID, newSourceEpisodes []types.EpisodeID) error {
	existing, err := p.GetFact(ctx, id)
	if err != nil {
		return err
	}
	present := map[types.EpisodeID]bool{}
	for _, e := range existing.SourceEpisodicIDs {
		present[e] = true
	}
	var toAdd []types.EpisodeID
	for _, e := range newSourceEpisodes {
		if !present[e] {
			toAdd = append(toAdd, e)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	_, err = p.pool.Exec(ctx, `UPDATE semantic_memory SET source_episodic_ids = source_episodic_ids || $2::uuid[] WHERE id = $1`,
		uuid.UUID(id), uuidsToPg(toAdd))
	return err
}

func (p *Postgres) UpdateFact(ctx context.Context, id types.FactID, f types.Fact) error {
	_, err := p.pool.Exec(ctx, `UPDATE semantic_memory
		SET subject=$2, predicate=$3, object=$4, fact=$5, category=$6, embedding=$7
		WHERE id = $1`,
		uuid.UUID(id), f.Subject, f.Predicate, f.Object, f.Fact, f.Category, toVectorLiteral(f.Embedding))
	return err
}

func (p *Postgres) InvalidateFact(ctx context.Context, id types.FactID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE semantic_memory SET invalid_at = $2 WHERE id = $1`, uuid.UUID(id), at)
	return err
}

// RelatedFacts mirrors consolidation.rs's find_similar_facts: active facts
// for this conversation above the similarity threshold, most similar
// first. valid_at is deliberately not filtered here (see DESIGN.md's open
// question decision); only invalid_at is checked.
func (p *Postgres) RelatedFacts(ctx context.Context, conversationID string, queryVec []float32, threshold float64, limit int) ([]ports.ScoredFact, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, conversation_id, subject, predicate, object, fact, category, embedding::text, source_episodic_ids, created_at, valid_at, invalid_at,
		-(embedding <#> $2) AS score
		FROM semantic_memory
		WHERE conversation_id = $1 AND invalid_at IS NULL AND -(embedding <#> $2) > $3
		ORDER BY score DESC LIMIT $4`, conversationID, toVectorLiteral(queryVec), threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredFacts(rows)
}

func (p *Postgres) SearchFacts(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredFact, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, conversation_id, subject, predicate, object, fact, category, embedding::text, source_episodic_ids, created_at, valid_at, invalid_at,
		-(embedding <#> $2) AS score
		FROM semantic_memory
		WHERE conversation_id = $1 AND invalid_at IS NULL
		ORDER BY score DESC LIMIT $3`, conversationID, toVectorLiteral(queryVec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredFacts(rows)
}

func (p *Postgres) LexicalSearchFacts(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredFact, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, conversation_id, subject, predicate, object, fact, category, embedding::text, source_episodic_ids, created_at, valid_at, invalid_at,
		ts_rank_cd(to_tsvector('english', fact), plainto_tsquery('english', $2)) AS score
		FROM semantic_memory
		WHERE conversation_id = $1 AND invalid_at IS NULL AND to_tsvector('english', fact) @@ plainto_tsquery('english', $2)
		ORDER BY score DESC LIMIT $3`, conversationID, query, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredFacts(rows)
}

func scanScoredFacts(rows pgx.Rows) ([]ports.ScoredFact, error) {
	var out []ports.ScoredFact
	for rows.Next() {
		var f types.Fact
		var rawID uuid.UUID
		var embStr string
		var sources []uuid.UUID
		var score float64
		if err := rows.Scan(&rawID, &f.ConversationID, &f.Subject, &f.Predicate, &f.Object, &f.Fact, &f.Category, &embStr, &sources, &f.CreatedAt, &f.ValidAt, &f.InvalidAt, &score); err != nil {
			return nil, err
		}
		f.ID = types.FactID(rawID)
		f.Embedding = parseVectorLiteral(embStr)
		f.SourceEpisodicIDs = make([]types.EpisodeID, len(sources))
		for i, s := range sources {
			f.SourceEpisodicIDs[i] = types.EpisodeID(s)
		}
		out = append(out, ports.ScoredFact{Fact: f, Score: score})
	}
	return out, rows.Err()
}

// parseVectorLiteral parses pgvector's `[1,2,3]` text representation back
// into a []float32; malformed input yields nil rather than an error since
// it only ever originates from our own toVectorLiteral output.
func parseVectorLiteral(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, _ := strconv.ParseFloat(strings.TrimSpace(p), 32)
		out[i] = float32(v)
	}
	return out
}

var _ ports.Store = (*Postgres)(nil)
