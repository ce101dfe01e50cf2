package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexSearchRanking(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", &Item{Summary: "grocery list for the weekend"}))
	require.NoError(t, idx.Add("b", &Item{Summary: "grocery store opens at nine, grocery runs on saturday"}))
	require.NoError(t, idx.Add("c", &Item{Summary: "flight booking confirmation"}))

	hits, err := idx.Search("grocery")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Higher term frequency wins despite the longer document.
	assert.Equal(t, "b", hits[0].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestIndexTagsSearchable(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("a", &Item{Summary: "quarterly numbers", Tags: []string{"finance"}}))

	hits, err := idx.Search("finance")
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestIndexReindexReplaces(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("a", &Item{Summary: "old topic"}))
	require.NoError(t, idx.Add("a", &Item{Summary: "new topic"}))

	hits, err := idx.Search("old")
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = idx.Search("new")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexRemove(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("a", &Item{Summary: "disposable"}))
	require.NoError(t, idx.Remove("a"))

	hits, err := idx.Search("disposable")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("a", &Item{Summary: "anything"}))

	hits, err := idx.Search("  ... ")
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestRecencyFactorHalfLife(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, recencyFactor(now, now), 1e-9)
	assert.InDelta(t, 0.5, recencyFactor(now.Add(-RecencyHalfLife), now), 1e-9)
	assert.InDelta(t, 0.25, recencyFactor(now.Add(-2*RecencyHalfLife), now), 1e-9)
}

func TestFrequencyFactor(t *testing.T) {
	assert.InDelta(t, 1.0, frequencyFactor(0), 1e-9)
	assert.InDelta(t, 1.15, frequencyFactor(1), 1e-9)
	assert.Greater(t, frequencyFactor(10), frequencyFactor(5))
}

func TestSourceTrustOrdering(t *testing.T) {
	assert.Greater(t, sourceTrust(SourceUserInstruction), sourceTrust(SourceAgentAnalysis))
	assert.Greater(t, sourceTrust(SourceAgentAnalysis), sourceTrust(SourceToolOutput))
	assert.Greater(t, sourceTrust(SourceToolOutput), sourceTrust("unknown"))
}
