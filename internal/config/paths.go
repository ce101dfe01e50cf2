package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths centralizes the per-installation on-disk layout under the base
// directory (default ~/.zora).
type Paths struct {
	Base string
}

// DefaultBaseDir returns the default base directory, honoring ZORA_HOME.
func DefaultBaseDir() (string, error) {
	if env := os.Getenv("ZORA_HOME"); env != "" {
		return ExpandPath(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".zora"), nil
}

// NewPaths builds a Paths rooted at base. Empty base resolves the default.
func NewPaths(base string) (Paths, error) {
	if base == "" {
		d, err := DefaultBaseDir()
		if err != nil {
			return Paths{}, err
		}
		base = d
	}
	expanded, err := ExpandPath(base)
	if err != nil {
		return Paths{}, err
	}
	return Paths{Base: expanded}, nil
}

// ConfigFile is ~/.zora/config.toml.
func (p Paths) ConfigFile() string { return filepath.Join(p.Base, "config.toml") }

// PolicyFile is ~/.zora/policy.toml.
func (p Paths) PolicyFile() string { return filepath.Join(p.Base, "policy.toml") }

// IdentityFile is ~/.zora/SOUL.md.
func (p Paths) IdentityFile() string { return filepath.Join(p.Base, "SOUL.md") }

// SessionsDir holds sessions/<jobId>.jsonl event logs.
func (p Paths) SessionsDir() string { return filepath.Join(p.Base, "sessions") }

// SteeringDir holds steering/<jobId>/<msgId>.json inbox directories.
func (p Paths) SteeringDir() string { return filepath.Join(p.Base, "steering") }

// MemoryDir is the root of the hierarchical memory store.
func (p Paths) MemoryDir() string { return filepath.Join(p.Base, "memory") }

// RetryQueueFile is the durable retry queue.
func (p Paths) RetryQueueFile() string { return filepath.Join(p.Base, "retry-queue.json") }

// AuditFile is the append-only hash-chained audit log.
func (p Paths) AuditFile() string { return filepath.Join(p.Base, "audit.jsonl") }

// RoutinesDir holds routines/*.toml cron routine definitions.
func (p Paths) RoutinesDir() string { return filepath.Join(p.Base, "routines") }

// EnsureLayout creates the directory skeleton.
func (p Paths) EnsureLayout() error {
	dirs := []string{
		p.Base,
		p.SessionsDir(),
		p.SteeringDir(),
		p.MemoryDir(),
		p.RoutinesDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// ExpandPath expands a ~ prefix to the user home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" {
		return os.UserHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
