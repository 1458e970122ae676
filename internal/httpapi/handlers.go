package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/retrieve"
	"memoryd/internal/core/types"
)

const maxRecentLimit = 100

type addMessageRequest struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, errors.New("content must not be empty"))
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	msg := types.Message{
		ConversationID: conversationID,
		Role:           req.Role,
		Content:        req.Content,
		Timestamp:      req.Timestamp,
	}
	if err := s.orch.PushMessage(r.Context(), conversationID, []types.Message{msg}); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (s *Server) handleRetrieveMemory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	q, episodicLimit, semanticLimit := parseRetrieveQuery(r)
	detail := parseDetailLevel(r.URL.Query().Get("detail"))

	markdown, err := s.orch.RetrieveMemory(r.Context(), conversationID, q, episodicLimit, semanticLimit, detail)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

func (s *Server) handleRetrieveMemoryRaw(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	q, episodicLimit, semanticLimit := parseRetrieveQuery(r)

	result, err := s.orch.Retrieve(r.Context(), conversationID, q, episodicLimit, semanticLimit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"semantic": result.Facts,
		"episodic": result.Episodes,
	})
}

func (s *Server) handleRecentMemory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	daysLimit, limit := parseRecentQuery(r)

	episodes, err := s.orch.RecentEpisodes(r.Context(), conversationID, daysLimit, limit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(retrieve.FormatMarkdown(nil, toRankedEpisodes(episodes), retrieve.DetailHigh)))
}

func (s *Server) handleRecentMemoryRaw(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	daysLimit, limit := parseRecentQuery(r)

	episodes, err := s.orch.RecentEpisodes(r.Context(), conversationID, daysLimit, limit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"episodic": episodes})
}

func (s *Server) handleContextPreRetrieve(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	q := r.URL.Query().Get("q")
	semanticLimit, err := strconv.Atoi(r.URL.Query().Get("semantic_limit"))
	if err != nil || semanticLimit <= 0 {
		semanticLimit = 5
	}

	markdown, err := s.orch.ContextPreRetrieve(r.Context(), conversationID, q, semanticLimit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func parseRetrieveQuery(r *http.Request) (query string, episodicLimit, semanticLimit int) {
	query = r.URL.Query().Get("q")
	episodicLimit, err := strconv.Atoi(r.URL.Query().Get("episodic_limit"))
	if err != nil || episodicLimit <= 0 {
		episodicLimit = 5
	}
	semanticLimit, err = strconv.Atoi(r.URL.Query().Get("semantic_limit"))
	if err != nil || semanticLimit <= 0 {
		semanticLimit = 5
	}
	return query, episodicLimit, semanticLimit
}

func parseRecentQuery(r *http.Request) (daysLimit, limit int) {
	daysLimit, _ = strconv.Atoi(r.URL.Query().Get("days_limit"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return daysLimit, limit
}

func parseDetailLevel(raw string) retrieve.DetailLevel {
	switch raw {
	case "none":
		return retrieve.DetailNone
	case "low":
		return retrieve.DetailLow
	case "high":
		return retrieve.DetailHigh
	default:
		return retrieve.DetailAuto
	}
}

// toRankedEpisodes wraps plain episodes for the markdown renderer, which
// only needs Episode and Rank; recent_memory has no relevance score.
func toRankedEpisodes(episodes []types.Episode) []retrieve.RankedEpisode {
	out := make([]retrieve.RankedEpisode, len(episodes))
	for i, ep := range episodes {
		out[i] = retrieve.RankedEpisode{Episode: ep, Rank: i + 1}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}
