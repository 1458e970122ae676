package retrieve

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// DetailLevel controls how much of a retrieved episode's transcript the
// markdown renderer includes alongside its summary.
type DetailLevel int

const (
	// DetailAuto includes the full transcript for ranks 1-2 when the
	// episode's surprise score is high enough to mark it a key moment.
	DetailAuto DetailLevel = iota
	// DetailNone never includes a transcript, summary only.
	DetailNone
	// DetailLow includes the full transcript for rank 1 only, and only
	// when it is a key moment.
	DetailLow
	// DetailHigh always includes the full transcript.
	DetailHigh
)

// surpriseKeyMomentThreshold is the surprise score above which an episode is
// annotated as a "key moment" and becomes eligible for transcript inclusion.
const surpriseKeyMomentThreshold = 0.7

// includeDetails reports whether rank's episode should carry its full
// transcript under d, given its surprise score.
func (d DetailLevel) includeDetails(rank int, surprise float32) bool {
	keyMoment := surprise >= surpriseKeyMomentThreshold
	switch d {
	case DetailHigh:
		return true
	case DetailNone:
		return false
	case DetailLow:
		return rank == 1 && keyMoment
	default: // DetailAuto
		return rank <= 2 && keyMoment
	}
}

// FormatMarkdown renders facts and episodes per the markdown rendering
// contract: each episode entry gets a title (or "Memory N"), a relative
// time for its end, its summary, an optional key-moment annotation, and an
// optional transcript; facts render as a flat "Known Facts" list.
func FormatMarkdown(facts []RankedFact, episodes []RankedEpisode, detail DetailLevel) string {
	var b strings.Builder

	if len(facts) > 0 {
		b.WriteString("## Known Facts\n\n")
		for _, rf := range facts {
			renderFact(&b, rf)
		}
	}

	if len(episodes) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Relevant Memories\n\n")
		for _, re := range episodes {
			renderEpisode(&b, re, detail)
		}
	}

	if b.Len() == 0 {
		return "No relevant memories found."
	}
	return b.String()
}

func renderEpisode(b *strings.Builder, re RankedEpisode, detail DetailLevel) {
	ep := re.Episode
	title := ep.Title
	if title == "" {
		title = fmt.Sprintf("Memory %d", re.Rank)
	}

	b.WriteString(fmt.Sprintf("### %s (%s)\n", title, humanize.Time(ep.EndAt)))
	if ep.Surprise >= surpriseKeyMomentThreshold {
		b.WriteString("_key moment_\n")
	}
	b.WriteString(ep.Summary)
	b.WriteString("\n")

	if detail.includeDetails(re.Rank, ep.Surprise) && len(ep.Messages) > 0 {
		b.WriteString("\n")
		for _, msg := range ep.Messages {
			b.WriteString("> **")
			b.WriteString(msg.Role)
			b.WriteString(":** ")
			b.WriteString(strings.ReplaceAll(msg.Content, "\n", "\n> "))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

func renderFact(b *strings.Builder, rf RankedFact) {
	f := rf.Fact
	b.WriteString(fmt.Sprintf("- [%s] %s (sources: %d conversations)\n", f.Category, f.Fact, len(f.SourceEpisodicIDs)))
}
