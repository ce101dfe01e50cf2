package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"zora/pkg/logger"
)

// DedupeThreshold is the Jaccard similarity above which a candidate item
// is considered a duplicate of an existing one and not persisted.
const DedupeThreshold = 0.80

// DefaultConsolidateAfter is how old a daily note must be before the
// consolidation sweep archives it.
const DefaultConsolidateAfter = 7 * 24 * time.Hour

// ReflectFunc distills archived daily notes into persistent items;
// LLM-backed in production, injected for tests. Returned items are
// persisted through the normal dedupe path.
type ReflectFunc func(ctx context.Context, notes string) ([]Item, error)

// Config tunes a Manager.
type Config struct {
	ConsolidateAfter time.Duration
	Summarize        SummarizeFunc
	Reflect          ReflectFunc
}

// RecallResult pairs an item with its salience score.
type RecallResult struct {
	Item  *Item   `json:"item"`
	Score float64 `json:"score"`
}

// Manager owns the three memory tiers rooted at one directory:
// MEMORY.md (Tier 1), daily/ (Tier 2), items/ + categories/ + the search
// index (Tier 3).
type Manager struct {
	dir string
	cfg Config

	Items     *ItemStore
	Daily     *DailyNotes
	Organizer *CategoryOrganizer
	index     *Index

	mu sync.Mutex
}

// NewManager opens the memory directory, creating the layout on first
// use, and rebuilds the search index from the item files so the two can
// never drift apart.
func NewManager(dir string, cfg Config) (*Manager, error) {
	if cfg.ConsolidateAfter <= 0 {
		cfg.ConsolidateAfter = DefaultConsolidateAfter
	}
	items, err := NewItemStore(filepath.Join(dir, "items"))
	if err != nil {
		return nil, err
	}
	daily, err := NewDailyNotes(filepath.Join(dir, "daily"))
	if err != nil {
		return nil, err
	}
	organizer, err := NewCategoryOrganizer(filepath.Join(dir, "categories"), items, cfg.Summarize)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:       dir,
		cfg:       cfg,
		Items:     items,
		Daily:     daily,
		Organizer: organizer,
		index:     index,
	}
	if err := m.reindex(); err != nil {
		index.Close()
		return nil, err
	}
	checkBaseline(m.baselinePath(), m.longTermPath())
	return m, nil
}

// Close releases the index handle.
func (m *Manager) Close() error { return m.index.Close() }

func (m *Manager) longTermPath() string { return filepath.Join(m.dir, "MEMORY.md") }
func (m *Manager) baselinePath() string { return filepath.Join(m.dir, ".memory-integrity.json") }

func (m *Manager) reindex() error {
	items, err := m.Items.All()
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := m.index.Add(it.ID, it); err != nil {
			return fmt.Errorf("reindex %s: %w", it.ID, err)
		}
	}
	return nil
}

// LongTerm reads the Tier-1 curated file, checking the integrity
// baseline (warn-only).
func (m *Manager) LongTerm() string {
	checkBaseline(m.baselinePath(), m.longTermPath())
	data, err := os.ReadFile(m.longTermPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// AppendLongTerm adds a line to Tier 1 and refreshes the baseline.
func (m *Manager) AppendLongTerm(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.longTermPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return refreshBaseline(m.baselinePath(), m.longTermPath())
}

// LoadContext returns the progressive memory index injected into the
// system prompt: cheap counts and names plus the always-included Tier-1
// content, with a directive to retrieve details on demand.
func (m *Manager) LoadContext() string {
	var b strings.Builder
	b.WriteString("## Memory\n\n")

	count := m.Items.Count()
	categories := m.Organizer.Names()
	recent := m.Daily.MostRecentDate()

	fmt.Fprintf(&b, "Structured items: %d", count)
	if len(categories) > 0 {
		fmt.Fprintf(&b, " across categories: %s", strings.Join(categories, ", "))
	}
	b.WriteString("\n")
	if recent != "" {
		fmt.Fprintf(&b, "Most recent daily note: %s\n", recent)
	}
	b.WriteString("Use the memory_search, recall_context and memory_save tools to retrieve or store details on demand.\n")

	if lt := m.LongTerm(); lt != "" {
		b.WriteString("\n### Long-term memory\n\n")
		b.WriteString(lt)
	}
	return b.String()
}

// LoadFullContext dumps category digests, the top salience-ranked items
// and the last `days` of daily notes; for batch jobs that cannot call
// tools mid-flight.
func (m *Manager) LoadFullContext(days int) string {
	var b strings.Builder
	b.WriteString(m.LoadContext())

	for _, name := range m.Organizer.Names() {
		if cs, err := m.Organizer.Load(name); err == nil {
			fmt.Fprintf(&b, "\n### Category: %s (%d items)\n%s\n", cs.Category, cs.ItemCount, cs.Summary)
		}
	}

	items, err := m.Items.All()
	if err == nil && len(items) > 0 {
		now := time.Now()
		sort.Slice(items, func(i, j int) bool {
			return salience(1, items[i], now) > salience(1, items[j], now)
		})
		const topN = 20
		if len(items) > topN {
			items = items[:topN]
		}
		b.WriteString("\n### Top items\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- [%s] %s\n", it.Type, it.Summary)
		}
	}

	if days > 0 {
		allDays := m.Daily.listDays()
		if len(allDays) > days {
			allDays = allDays[len(allDays)-days:]
		}
		for _, day := range allDays {
			if content, err := m.Daily.Read(day); err == nil {
				b.WriteString("\n")
				b.WriteString(content)
			}
		}
	}
	return b.String()
}

// Recall searches the index and ranks hits by salience. Searching does
// not bump access counters: a peek is not a get.
func (m *Manager) Recall(query string, limit int) ([]RecallResult, error) {
	hits, err := m.index.Search(query)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var results []RecallResult
	for _, h := range hits {
		it, err := m.Items.Get(h.ID)
		if err != nil {
			continue // index ahead of a just-deleted item
		}
		results = append(results, RecallResult{
			Item:  it,
			Score: salience(h.Score, it, now),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get loads one item and bumps its access accounting.
func (m *Manager) Get(id string) (*Item, error) {
	if err := m.Items.Touch(id); err != nil {
		return nil, err
	}
	return m.Items.Get(id)
}

// CreateItem validates, deduplicates and persists a candidate item. A
// summary that is ≥ 80% Jaccard-similar to an existing item's is dropped
// and (false, nil) returned.
func (m *Manager) CreateItem(it *Item) (bool, error) {
	if err := it.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.Items.All()
	if err != nil {
		return false, err
	}
	candidate := indexTokenize(it.Summary)
	for _, e := range existing {
		if tokenJaccard(candidate, indexTokenize(e.Summary)) >= DedupeThreshold {
			logger.Debug().Str("duplicate_of", e.ID).Msg("memory item deduplicated")
			return false, nil
		}
	}

	if err := m.Items.Create(it); err != nil {
		return false, err
	}
	if err := m.index.Add(it.ID, it); err != nil {
		return false, err
	}
	if it.Category != "" {
		if err := m.Organizer.Refresh(context.Background(), it.Category); err != nil {
			logger.Warn().Err(err).Str("category", it.Category).Msg("category refresh failed")
		}
	}
	return true, nil
}

// DeleteItem soft-deletes an item and drops it from the index.
func (m *Manager) DeleteItem(id string) error {
	if err := m.Items.Delete(id); err != nil {
		return err
	}
	return m.index.Remove(id)
}

// Consolidate archives daily notes older than the threshold. Their
// concatenated content is offered to the reflector (which may yield new
// items), each note is atomically renamed into archive/, a summary line
// lands in Tier 1, and the integrity baseline is refreshed.
func (m *Manager) Consolidate(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.cfg.ConsolidateAfter)
	days := m.Daily.OlderThan(cutoff)
	if len(days) == 0 {
		return 0, nil
	}

	var contents []string
	for _, day := range days {
		if c, err := m.Daily.Read(day); err == nil {
			contents = append(contents, c)
		}
	}

	if m.cfg.Reflect != nil && len(contents) > 0 {
		items, err := m.cfg.Reflect(ctx, strings.Join(contents, "\n"))
		if err != nil {
			logger.Warn().Err(err).Msg("memory reflection failed, archiving anyway")
		}
		for i := range items {
			if _, err := m.CreateItem(&items[i]); err != nil {
				logger.Warn().Err(err).Msg("reflected item rejected")
			}
		}
	}

	archived := 0
	for _, day := range days {
		if err := m.Daily.Archive(day); err != nil {
			logger.Error().Err(err).Str("day", day).Msg("daily note archive failed")
			continue
		}
		archived++
	}
	if archived > 0 {
		line := fmt.Sprintf("- %s consolidated %d daily note(s): %s",
			time.Now().Format("2006-01-02"), archived, strings.Join(days, ", "))
		if err := m.AppendLongTerm(line); err != nil {
			return archived, err
		}
	}
	return archived, nil
}

// tokenJaccard is set Jaccard over two token slices.
func tokenJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
