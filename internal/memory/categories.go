package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"zora/pkg/logger"
)

// SummarizeFunc condenses a category's item summaries into a short
// digest; LLM-backed in production, injected for tests.
type SummarizeFunc func(ctx context.Context, category string, summaries []string) (string, error)

// CategorySummary is one maintained digest, stored at
// categories/<slug>.json.
type CategorySummary struct {
	Category  string    `json:"category"`
	Summary   string    `json:"summary"`
	ItemCount int       `json:"item_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CategoryOrganizer maintains per-category digests of the item store.
type CategoryOrganizer struct {
	dir       string
	items     *ItemStore
	summarize SummarizeFunc
	mu        sync.Mutex
}

// NewCategoryOrganizer creates the categories directory. summarize may be
// nil, in which case digests fall back to joining the first few
// summaries.
func NewCategoryOrganizer(dir string, items *ItemStore, summarize SummarizeFunc) (*CategoryOrganizer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create categories dir: %w", err)
	}
	return &CategoryOrganizer{dir: dir, items: items, summarize: summarize}, nil
}

func slugify(category string) string {
	s := strings.ToLower(strings.TrimSpace(category))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	return strings.Trim(s, "-")
}

// Names lists the categories currently present in the item store.
func (o *CategoryOrganizer) Names() []string {
	items, err := o.items.All()
	if err != nil {
		return nil
	}
	set := make(map[string]struct{})
	for _, it := range items {
		if it.Category != "" {
			set[it.Category] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Refresh rebuilds the digest for one category.
func (o *CategoryOrganizer) Refresh(ctx context.Context, category string) error {
	items, err := o.items.All()
	if err != nil {
		return err
	}
	var summaries []string
	for _, it := range items {
		if it.Category == category {
			summaries = append(summaries, it.Summary)
		}
	}
	if len(summaries) == 0 {
		return os.Remove(filepath.Join(o.dir, slugify(category)+".json"))
	}

	digest := joinDigest(summaries)
	if o.summarize != nil {
		if s, err := o.summarize(ctx, category, summaries); err == nil && s != "" {
			digest = s
		} else if err != nil {
			logger.Warn().Err(err).Str("category", category).Msg("category summarize failed, using fallback")
		}
	}

	cs := CategorySummary{
		Category:  category,
		Summary:   digest,
		ItemCount: len(summaries),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	path := filepath.Join(o.dir, slugify(category)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a stored digest.
func (o *CategoryOrganizer) Load(category string) (*CategorySummary, error) {
	data, err := os.ReadFile(filepath.Join(o.dir, slugify(category)+".json"))
	if err != nil {
		return nil, err
	}
	var cs CategorySummary
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func joinDigest(summaries []string) string {
	const max = 5
	if len(summaries) > max {
		summaries = summaries[:max]
	}
	return "- " + strings.Join(summaries, "\n- ")
}
