package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/event"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func mustCreate(t *testing.T, m *Manager, it Item) *Item {
	t.Helper()
	ok, err := m.CreateItem(&it)
	require.NoError(t, err)
	require.True(t, ok)
	return &it
}

func TestCreateAndRecall(t *testing.T) {
	m := newTestManager(t, Config{})

	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "the deploy pipeline runs on fridays",
		SourceType: SourceUserInstruction, Tags: []string{"deploy"},
	})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "coffee machine is on the third floor",
		SourceType: SourceToolOutput,
	})

	results, err := m.Recall("deploy pipeline", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Item.Summary, "deploy pipeline")
	assert.Greater(t, results[0].Score, 0.0)
}

func TestRecallEmptyQuery(t *testing.T) {
	m := newTestManager(t, Config{})
	mustCreate(t, m, Item{Type: TypeFact, Summary: "something", SourceType: SourceToolOutput})

	results, err := m.Recall("", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecallDoesNotBumpAccessCount(t *testing.T) {
	m := newTestManager(t, Config{})
	it := mustCreate(t, m, Item{
		Type: TypeFact, Summary: "salmon is preferred for dinner",
		SourceType: SourceUserInstruction,
	})

	_, err := m.Recall("salmon dinner", 10)
	require.NoError(t, err)

	stored, err := m.Items.Get(it.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessCount)

	// Get is the path that bumps.
	_, err = m.Get(it.ID)
	require.NoError(t, err)
	stored, err = m.Items.Get(it.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AccessCount)
}

func TestSourceTrustOrdersEqualRelevance(t *testing.T) {
	m := newTestManager(t, Config{})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "backup runs nightly at two",
		SourceType: SourceToolOutput,
	})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "backup schedule nightly preferred",
		SourceType: SourceUserInstruction,
	})

	results, err := m.Recall("backup nightly", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SourceUserInstruction, results[0].Item.SourceType)
}

func TestCreateItemDeduplicates(t *testing.T) {
	m := newTestManager(t, Config{})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "the user prefers dark roast coffee in the morning",
		SourceType: SourceUserInstruction,
	})

	ok, err := m.CreateItem(&Item{
		Type: TypeFact, Summary: "the user prefers dark roast coffee in the morning always",
		SourceType: SourceAgentAnalysis,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Items.Count())

	// A genuinely different summary is accepted.
	ok, err = m.CreateItem(&Item{
		Type: TypeFact, Summary: "weekly review happens sunday evenings",
		SourceType: SourceAgentAnalysis,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateItemValidates(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.CreateItem(&Item{Type: "bogus", Summary: "x", SourceType: SourceToolOutput})
	assert.Error(t, err)
	_, err = m.CreateItem(&Item{Type: TypeFact, Summary: "  ", SourceType: SourceToolOutput})
	assert.Error(t, err)
	_, err = m.CreateItem(&Item{Type: TypeFact, Summary: "x", SourceType: "nope"})
	assert.Error(t, err)
}

func TestDeleteItemIsSoft(t *testing.T) {
	m := newTestManager(t, Config{})
	it := mustCreate(t, m, Item{
		Type: TypeFact, Summary: "ephemeral fact about gardening",
		SourceType: SourceToolOutput,
	})

	require.NoError(t, m.DeleteItem(it.ID))
	assert.Zero(t, m.Items.Count())

	// Archived, not gone.
	_, err := os.Stat(filepath.Join(m.dir, "items", "archive", it.ID+".json"))
	assert.NoError(t, err)

	// And no longer searchable.
	results, err := m.Recall("gardening", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLoadContextProgressiveIndex(t *testing.T) {
	m := newTestManager(t, Config{})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "project alpha ships in june",
		SourceType: SourceUserInstruction, Category: "work",
	})
	require.NoError(t, m.Daily.Append("did a thing"))
	require.NoError(t, m.AppendLongTerm("- knows the user's timezone is CET"))

	ctx := m.LoadContext()
	assert.Contains(t, ctx, "Structured items: 1")
	assert.Contains(t, ctx, "work")
	assert.Contains(t, ctx, time.Now().Format("2006-01-02"))
	assert.Contains(t, ctx, "memory_search")
	assert.Contains(t, ctx, "timezone is CET")
}

func TestLoadFullContext(t *testing.T) {
	m := newTestManager(t, Config{})
	mustCreate(t, m, Item{
		Type: TypeFact, Summary: "project alpha ships in june",
		SourceType: SourceUserInstruction, Category: "work",
	})

	full := m.LoadFullContext(7)
	assert.Contains(t, full, "Category: work")
	assert.Contains(t, full, "project alpha ships in june")
}

func TestConsolidate(t *testing.T) {
	var reflected string
	m := newTestManager(t, Config{
		ConsolidateAfter: 24 * time.Hour,
		Reflect: func(ctx context.Context, notes string) ([]Item, error) {
			reflected = notes
			return []Item{{
				Type: TypeFact, Summary: "learned something from old notes",
				SourceType: SourceAgentAnalysis,
			}}, nil
		},
	})

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, m.Daily.AppendOn(old, "ancient history"))
	require.NoError(t, m.Daily.Append("fresh today"))

	n, err := m.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Contains(t, reflected, "ancient history")
	assert.Equal(t, 1, m.Items.Count())

	// Old note archived, today's untouched.
	oldName := old.Format("2006-01-02")
	_, err = os.Stat(filepath.Join(m.dir, "daily", "archive", oldName+".md"))
	assert.NoError(t, err)
	assert.Equal(t, time.Now().Format("2006-01-02"), m.Daily.MostRecentDate())

	// Tier 1 records the sweep.
	assert.Contains(t, m.LongTerm(), "consolidated 1 daily note")

	// Second run is a no-op.
	n, err = m.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir, Config{})
	require.NoError(t, err)
	mustCreate(t, m1, Item{
		Type: TypeFact, Summary: "persistent fact about lighthouses",
		SourceType: SourceToolOutput,
	})
	require.NoError(t, m1.Close())

	m2, err := NewManager(dir, Config{})
	require.NoError(t, err)
	defer m2.Close()

	results, err := m2.Recall("lighthouses", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestExtractFromTask(t *testing.T) {
	m := newTestManager(t, Config{})

	events := []event.Event{
		event.NewText("p", "I checked the calendar."),
		event.NewDone("p", event.DoneData{Text: "Your dentist appointment is on March 3rd."}),
	}
	extract := func(ctx context.Context, transcript string) (string, error) {
		assert.Contains(t, transcript, "dentist")
		return `Here you go:
[
  {"type":"fact","summary":"dentist appointment on march 3rd","source_type":"agent_analysis"},
  {"type":"bogus","summary":"invalid item","source_type":"agent_analysis"}
]`, nil
	}

	created := m.ExtractFromTask(context.Background(), "job-1", events, extract)
	assert.Equal(t, 1, created)

	// Duplicate extraction is suppressed.
	created = m.ExtractFromTask(context.Background(), "job-1", events, extract)
	assert.Zero(t, created)
}

func TestIntegrityWarnOnly(t *testing.T) {
	m := newTestManager(t, Config{})
	require.NoError(t, m.AppendLongTerm("- baseline line"))
	assert.True(t, checkBaseline(m.baselinePath(), m.longTermPath()))

	// Outside edit: mismatch is reported but nothing fails.
	require.NoError(t, os.WriteFile(m.longTermPath(), []byte("tampered"), 0600))
	assert.False(t, checkBaseline(m.baselinePath(), m.longTermPath()))
	assert.Equal(t, "tampered", m.LongTerm())
}
