package memory

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	_ "modernc.org/sqlite"
)

// BM25+ parameters.
const (
	bm25K1    = 1.2
	bm25B     = 0.75
	bm25Delta = 0.5
)

// Index is the persistent inverted index over item summaries and tags,
// scored with BM25+. Writes go through write-then-invalidate under the
// mutex; readers may see results staled by at most one invalidation.
type Index struct {
	mu sync.RWMutex
	db *sql.DB

	avgDocLen float64
	docCount  int
}

// OpenIndex opens (or creates) the index database.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	id      TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	doc_len INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS postings (
	term TEXT NOT NULL,
	id   TEXT NOT NULL,
	tf   INTEGER NOT NULL,
	PRIMARY KEY (term, id)
);
CREATE INDEX IF NOT EXISTS idx_postings_term ON postings(term);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory index schema: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.refreshStats(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the database handle.
func (x *Index) Close() error { return x.db.Close() }

// Add indexes (or reindexes) one item's searchable text.
func (x *Index) Add(id string, it *Item) error {
	content := it.Summary
	if len(it.Tags) > 0 {
		content += " " + strings.Join(it.Tags, " ")
	}
	terms := indexTokenize(content)

	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM postings WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO documents (id, content, doc_len) VALUES (?, ?, ?)`,
		id, content, len(terms)); err != nil {
		return err
	}
	tf := make(map[string]int)
	for _, t := range terms {
		tf[t]++
	}
	for term, n := range tf {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO postings (term, id, tf) VALUES (?, ?, ?)`,
			term, id, n); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return x.refreshStatsLocked()
}

// Remove drops an item from the index.
func (x *Index) Remove(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, err := x.db.Exec(`DELETE FROM postings WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := x.db.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return x.refreshStatsLocked()
}

// Scored is one index hit.
type Scored struct {
	ID    string
	Score float64
}

// Search returns BM25+ scores for documents matching the query, best
// first. An empty query matches nothing.
func (x *Index) Search(query string) ([]Scored, error) {
	terms := indexTokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.docCount == 0 {
		return nil, nil
	}
	n := float64(x.docCount)
	avg := x.avgDocLen
	if avg == 0 {
		avg = 1
	}

	type docAcc struct {
		score float64
	}
	acc := make(map[string]*docAcc)

	seen := make(map[string]struct{})
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		var df int
		if err := x.db.QueryRow(
			`SELECT COUNT(*) FROM postings WHERE term = ?`, term).Scan(&df); err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))

		rows, err := x.db.Query(
			`SELECT p.id, p.tf, d.doc_len FROM postings p
			 JOIN documents d ON d.id = p.id WHERE p.term = ?`, term)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			var tf, docLen int
			if err := rows.Scan(&id, &tf, &docLen); err != nil {
				rows.Close()
				return nil, err
			}
			norm := (float64(tf) * (bm25K1 + 1)) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*float64(docLen)/avg))
			a := acc[id]
			if a == nil {
				a = &docAcc{}
				acc[id] = a
			}
			// The +delta term is the BM25+ lower bound on long documents.
			a.score += idf * (norm + bm25Delta)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	results := make([]Scored, 0, len(acc))
	for id, a := range acc {
		results = append(results, Scored{ID: id, Score: a.score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func (x *Index) refreshStats() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.refreshStatsLocked()
}

func (x *Index) refreshStatsLocked() error {
	var count int
	var avg sql.NullFloat64
	err := x.db.QueryRow(`SELECT COUNT(*), AVG(doc_len) FROM documents`).Scan(&count, &avg)
	if err != nil {
		return fmt.Errorf("memory index stats: %w", err)
	}
	x.docCount = count
	if avg.Valid {
		x.avgDocLen = avg.Float64
	} else {
		x.avgDocLen = 0
	}
	return nil
}

// indexTokenize lowercases and splits on non-letter/digit runes, dropping
// single-rune tokens.
func indexTokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
