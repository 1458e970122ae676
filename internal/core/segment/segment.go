// Package segment implements the Batch Segmenter: one Planner call that
// splits a fenced run of messages into coherent segments, each later
// promoted to an Episode by internal/core/episode. Shaped after the
// chunk-then-reassemble flow in internal/rag/ingest/preprocess.go, with the
// Planner call itself following internal/core/ports.Planner's
// GenerateObject contract.
package segment

import (
	"context"
	"strconv"
	"strings"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

const systemPrompt = `You segment a run of conversation messages into coherent episodes.
Each segment covers a contiguous run of messages that share one topic or
activity. Return segments in message order, covering every message exactly
once. For each segment, estimate a surprise score in [0,1]: how unexpected
or memorable the content is relative to ordinary conversation.`

// segmentSchema is the strict JSON Schema passed to the Planner.
var segmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"segments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"num_messages": map[string]any{"type": "integer"},
					"title":        map[string]any{"type": "string"},
					"summary":      map[string]any{"type": "string"},
					"keywords":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"surprise":     map[string]any{"type": "number"},
				},
				"required": []any{"num_messages", "title", "summary", "keywords", "surprise"},
			},
		},
	},
	"required": []any{"segments"},
}

// planOut is the Planner's decoded response shape.
type planOut struct {
	Segments []struct {
		NumMessages int      `json:"num_messages"`
		Title       string   `json:"title"`
		Summary     string   `json:"summary"`
		Keywords    []string `json:"keywords"`
		Surprise    float32  `json:"surprise"`
	} `json:"segments"`
}

// Segment is one contiguous run of messages the planner grouped together.
type Segment struct {
	Messages []types.Message
	Title    string
	Summary  string
	Keywords []string
	Surprise float32
}

// Segmenter splits a message batch into Segments via one Planner call.
type Segmenter struct {
	planner ports.Planner
}

func New(planner ports.Planner) *Segmenter {
	return &Segmenter{planner: planner}
}

// Split calls the Planner once for the given batch (with prevSummary as
// context carried from the previous segmentation run) and re-slices the
// messages accordingly.
func (s *Segmenter) Split(ctx context.Context, prevSummary string, batch []types.Message) ([]Segment, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	userPrompt := buildUserPrompt(prevSummary, batch)

	var out planOut
	if err := s.planner.GenerateObject(ctx, systemPrompt, userPrompt, segmentSchema, &out); err != nil {
		return nil, err
	}

	segments := resliceSegments(batch, out)
	return segments, nil
}

func buildUserPrompt(prevSummary string, batch []types.Message) string {
	var b strings.Builder
	if prevSummary != "" {
		b.WriteString("Summary of the conversation so far:\n")
		b.WriteString(prevSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Messages to segment (index: role: content):\n")
	for i, m := range batch {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// resliceSegments maps the Planner's num_messages boundaries back onto the
// original batch. If the planner returns no segments, the whole batch
// becomes a single fallback segment. If its counts don't consume the whole
// batch, the last planner segment absorbs the remainder; only when that
// last segment has a non-positive count is the remainder folded into a
// fallback segment instead. No message is dropped.
func resliceSegments(batch []types.Message, out planOut) []Segment {
	if len(out.Segments) == 0 {
		return []Segment{fallbackSegment(batch)}
	}

	segments := make([]Segment, 0, len(out.Segments))
	idx := 0
	for i, ps := range out.Segments {
		n := ps.NumMessages
		if n <= 0 {
			continue
		}
		remaining := len(batch) - idx
		if remaining <= 0 {
			break
		}
		if n > remaining {
			n = remaining
		}
		// The tail segment absorbs any messages the planner's counts left
		// uncovered, so every message ends up in exactly one segment.
		if i == len(out.Segments)-1 {
			n = remaining
		}
		segments = append(segments, Segment{
			Messages: batch[idx : idx+n],
			Title:    ps.Title,
			Summary:  ps.Summary,
			Keywords: ps.Keywords,
			Surprise: clamp01(ps.Surprise),
		})
		idx += n
	}

	if idx < len(batch) {
		segments = append(segments, fallbackSegment(batch[idx:]))
	}
	if len(segments) == 0 {
		return []Segment{fallbackSegment(batch)}
	}
	return segments
}

func fallbackSegment(batch []types.Message) Segment {
	return Segment{
		Messages: batch,
		Title:    "Untitled segment",
		Summary:  firstNWords(batch, 40),
		Keywords: nil,
		Surprise: 0,
	}
}

func firstNWords(batch []types.Message, n int) string {
	var b strings.Builder
	count := 0
	for _, m := range batch {
		for _, w := range strings.Fields(m.Content) {
			if count >= n {
				return b.String()
			}
			if count > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(w)
			count++
		}
	}
	return b.String()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
