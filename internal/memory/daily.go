package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DailyNotes is Tier 2: one append-only markdown file per calendar day
// under daily/, with consolidated files moved into daily/archive/.
type DailyNotes struct {
	dir string
	mu  sync.Mutex
}

// NewDailyNotes creates the daily and archive directories.
func NewDailyNotes(dir string) (*DailyNotes, error) {
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0755); err != nil {
		return nil, fmt.Errorf("create daily notes dir: %w", err)
	}
	return &DailyNotes{dir: dir}, nil
}

func noteName(day time.Time) string {
	return day.Format("2006-01-02") + ".md"
}

// Append adds a timestamped line to today's note, creating the file with
// a date heading on first write.
func (d *DailyNotes) Append(line string) error {
	return d.AppendOn(time.Now(), line)
}

// AppendOn appends to a specific day's note.
func (d *DailyNotes) AppendOn(day time.Time, line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dir, noteName(day))
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open daily note: %w", err)
	}
	defer f.Close()

	if os.IsNotExist(statErr) {
		if _, err := fmt.Fprintf(f, "# %s\n\n", day.Format("2006-01-02")); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(f, "- %s %s\n", time.Now().Format("15:04"), line)
	return err
}

// MostRecentDate returns the newest live note's date, or "" when none
// exist.
func (d *DailyNotes) MostRecentDate() string {
	days := d.listDays()
	if len(days) == 0 {
		return ""
	}
	return days[len(days)-1]
}

func (d *DailyNotes) listDays() []string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		days = append(days, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(days)
	return days
}

// Read returns a day's note content.
func (d *DailyNotes) Read(day string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, day+".md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// OlderThan lists live note dates strictly older than the cutoff.
func (d *DailyNotes) OlderThan(cutoff time.Time) []string {
	limit := cutoff.Format("2006-01-02")
	var out []string
	for _, day := range d.listDays() {
		if day < limit {
			out = append(out, day)
		}
	}
	return out
}

// Archive atomically moves a day's note into archive/.
func (d *DailyNotes) Archive(day string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := filepath.Join(d.dir, day+".md")
	dst := filepath.Join(d.dir, "archive", day+".md")
	return os.Rename(src, dst)
}
