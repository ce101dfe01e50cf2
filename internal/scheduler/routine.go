package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"zora/internal/task"
)

// Routine is one user-defined cron entry loaded from routines/<name>.toml.
type Routine struct {
	Name            string `mapstructure:"name"`
	Schedule        string `mapstructure:"schedule"`
	Prompt          string `mapstructure:"prompt"`
	ModelPreference string `mapstructure:"model_preference"`
	MaxCostTier     string `mapstructure:"max_cost_tier"`
	Enabled         bool   `mapstructure:"enabled"`
}

// Validate checks the fields a routine cannot run without.
func (r *Routine) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("routine: missing name")
	}
	if r.Schedule == "" {
		return fmt.Errorf("routine %s: missing schedule", r.Name)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("routine %s: missing prompt", r.Name)
	}
	return nil
}

// Task builds the submission for one firing.
func (r *Routine) Task(newTask func(prompt string) *task.Task) *task.Task {
	t := newTask(r.Prompt)
	t.ModelPreference = r.ModelPreference
	if r.MaxCostTier != "" {
		tier := task.ParseCostTier(r.MaxCostTier)
		t.MaxCostTier = &tier
	}
	return t
}

// LoadRoutines parses every *.toml under dir. A malformed file is
// reported but does not fail the rest.
func LoadRoutines(dir string) ([]Routine, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{err}
	}

	var routines []Routine
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		r, err := loadRoutine(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		routines = append(routines, r)
	}
	return routines, errs
}

func loadRoutine(path string) (Routine, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("enabled", true)
	if err := v.ReadInConfig(); err != nil {
		return Routine{}, err
	}
	var r Routine
	if err := v.Unmarshal(&r); err != nil {
		return Routine{}, err
	}
	if r.Name == "" {
		r.Name = strings.TrimSuffix(filepath.Base(path), ".toml")
	}
	if err := r.Validate(); err != nil {
		return Routine{}, err
	}
	return r, nil
}
