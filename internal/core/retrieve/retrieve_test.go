package retrieve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

func TestFuseEpisodesRanksAgreementHigher(t *testing.T) {
	e1, err := types.NewEpisodeID()
	require.NoError(t, err)
	e2, err := types.NewEpisodeID()
	require.NoError(t, err)

	ep1 := types.Episode{ID: e1}
	ep2 := types.Episode{ID: e2}
	lex := []ports.ScoredEpisode{{Episode: ep1, Score: 1}, {Episode: ep2, Score: 0.5}}
	vec := []ports.ScoredEpisode{{Episode: ep1, Score: 1}, {Episode: ep2, Score: 0.9}}

	out := fuseEpisodes(lex, vec)
	require.Len(t, out, 2)
	require.Equal(t, e1, out[0].Episode.ID, "an episode ranked #1 on both legs should fuse to the top")
	require.Equal(t, 1, out[0].Rank)
}

func TestFuseFactsDedupesByID(t *testing.T) {
	f1, err := types.NewFactID()
	require.NoError(t, err)
	fact1 := types.Fact{ID: f1}
	lex := []ports.ScoredFact{{Fact: fact1, Score: 1}}
	vec := []ports.ScoredFact{{Fact: fact1, Score: 1}}

	out := fuseFacts(lex, vec)
	require.Len(t, out, 1, "the same fact appearing on both legs must fuse into a single ranked result")
}

func TestFormatMarkdownIncludesKeyMomentMarker(t *testing.T) {
	ep := types.Episode{Title: "Birthday", Surprise: 0.95, Summary: "A surprising thing happened."}
	md := FormatMarkdown(nil, []RankedEpisode{{Episode: ep, Rank: 1}}, DetailAuto)
	require.Contains(t, md, "key moment")
	require.Contains(t, md, "Birthday")
}

func TestFormatMarkdownHeaderFallsBackToRank(t *testing.T) {
	ep := types.Episode{Title: "", Surprise: 0.1, Summary: "ordinary"}
	md := FormatMarkdown(nil, []RankedEpisode{{Episode: ep, Rank: 3}}, DetailNone)
	require.Contains(t, md, "Memory 3")
}

func TestFormatMarkdownKnownFactsSection(t *testing.T) {
	fact := types.Fact{Category: "Personal", Fact: "likes tea", SourceEpisodicIDs: []types.EpisodeID{{}, {}}}
	md := FormatMarkdown([]RankedFact{{Fact: fact, Rank: 1}}, nil, DetailNone)
	require.Contains(t, md, "## Known Facts")
	require.Contains(t, md, "[Personal] likes tea (sources: 2 conversations)")
}

func TestFormatMarkdownDetailHighRendersMessageTranscript(t *testing.T) {
	ep := types.Episode{
		Title:   "Trip planning",
		Summary: "Discussed a trip to Osaka.",
		Messages: []types.Message{
			{Role: "user", Content: "I'm thinking of visiting Osaka."},
			{Role: "assistant", Content: "Osaka is great in autumn."},
		},
	}
	md := FormatMarkdown(nil, []RankedEpisode{{Episode: ep, Rank: 1}}, DetailHigh)
	require.Contains(t, md, "user")
	require.Contains(t, md, "I'm thinking of visiting Osaka.")
	require.Contains(t, md, "assistant")
	require.Contains(t, md, "Osaka is great in autumn.")
}

func TestFormatMarkdownNoTranscriptWithoutMessages(t *testing.T) {
	ep := types.Episode{Title: "Trip planning", Summary: "Discussed a trip to Osaka."}
	md := FormatMarkdown(nil, []RankedEpisode{{Episode: ep, Rank: 1}}, DetailHigh)
	require.Equal(t, 1, strings.Count(md, "Discussed a trip to Osaka."), "with no message snapshot there is nothing to quote, so the summary must not be duplicated")
}

func TestDetailLevelAutoOnlyTopTwoKeyMoments(t *testing.T) {
	require.True(t, DetailAuto.includeDetails(1, 0.9))
	require.True(t, DetailAuto.includeDetails(2, 0.8))
	require.False(t, DetailAuto.includeDetails(3, 0.9))
	require.False(t, DetailAuto.includeDetails(1, 0.5))
}
