// Package memory implements the three-tier memory system: the curated
// long-term file, append-only daily notes, and structured items with a
// BM25+ search index and salience-ranked recall.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item types.
const (
	TypeKnowledge  = "knowledge"
	TypePreference = "preference"
	TypeTask       = "task"
	TypeFact       = "fact"
)

// Source types, in descending order of trust.
const (
	SourceUserInstruction = "user_instruction"
	SourceAgentAnalysis   = "agent_analysis"
	SourceToolOutput      = "tool_output"
)

// ValidItemType reports whether t is a known item type.
func ValidItemType(t string) bool {
	switch t {
	case TypeKnowledge, TypePreference, TypeTask, TypeFact:
		return true
	}
	return false
}

// ValidSourceType reports whether s is a known source type.
func ValidSourceType(s string) bool {
	switch s {
	case SourceUserInstruction, SourceAgentAnalysis, SourceToolOutput:
		return true
	}
	return false
}

// Item is one persistent knowledge unit, stored one-per-file keyed by id.
type Item struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Summary      string    `json:"summary"`
	Source       string    `json:"source,omitempty"`
	SourceType   string    `json:"source_type"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	Tags         []string  `json:"tags,omitempty"`
	Category     string    `json:"category,omitempty"`
}

// Validate checks required fields and enum values.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.Summary) == "" {
		return fmt.Errorf("memory item: empty summary")
	}
	if !ValidItemType(it.Type) {
		return fmt.Errorf("memory item: invalid type %q", it.Type)
	}
	if !ValidSourceType(it.SourceType) {
		return fmt.Errorf("memory item: invalid source_type %q", it.SourceType)
	}
	return nil
}

// ItemStore persists items under items/, with soft deletion into
// items/archive/.
type ItemStore struct {
	dir string
	mu  sync.Mutex
}

// NewItemStore creates the items directory.
func NewItemStore(dir string) (*ItemStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0755); err != nil {
		return nil, fmt.Errorf("create items dir: %w", err)
	}
	return &ItemStore{dir: dir}, nil
}

func (s *ItemStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create assigns an id and timestamps if missing and persists the item.
func (s *ItemStore) Create(it *Item) error {
	if err := it.Validate(); err != nil {
		return err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.LastAccessed.IsZero() {
		it.LastAccessed = now
	}
	return s.write(it)
}

func (s *ItemStore) write(it *Item) error {
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(it.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(it.ID))
}

// Get loads one item by id.
func (s *ItemStore) Get(id string) (*Item, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("parse item %s: %w", id, err)
	}
	return &it, nil
}

// Touch bumps access accounting; used by "get" paths, never by search.
func (s *ItemStore) Touch(id string) error {
	it, err := s.Get(id)
	if err != nil {
		return err
	}
	it.AccessCount++
	it.LastAccessed = time.Now().UTC()
	return s.write(it)
}

// All loads every live item.
func (s *ItemStore) All() ([]*Item, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var items []*Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		it, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// Delete soft-deletes by moving the file into archive/.
func (s *ItemStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.path(id)
	dst := filepath.Join(s.dir, "archive", id+".json")
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// Count returns the number of live items.
func (s *ItemStore) Count() int {
	items, err := s.All()
	if err != nil {
		return 0
	}
	return len(items)
}
