// Package identity loads the agent's persona file (SOUL.md), which may
// carry a YAML front-matter block ahead of the freeform prompt text.
package identity

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"zora/pkg/logger"
)

// Identity is the persona injected at the top of every system prompt.
type Identity struct {
	Name   string `yaml:"name"`
	Tone   string `yaml:"tone"`
	Prompt string `yaml:"-"`
}

// DefaultName is used when no identity file exists.
const DefaultName = "Zora"

const defaultPrompt = `You are Zora, an autonomous personal assistant. You act on the
user's behalf within the boundaries of your policy file. Be direct,
honest about uncertainty, and conservative with irreversible actions.`

// Default is the built-in fallback persona.
func Default() *Identity {
	return &Identity{Name: DefaultName, Prompt: defaultPrompt}
}

// Load reads the identity file. A missing file yields the default
// persona; a malformed front-matter block is logged and treated as
// plain prompt text rather than failing the boot.
func Load(path string) *Identity {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("identity file unreadable, using default")
		}
		return Default()
	}
	id, err := Parse(string(data))
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("identity front matter invalid, using raw content")
		return &Identity{Name: DefaultName, Prompt: strings.TrimSpace(string(data))}
	}
	return id
}

// Parse splits an optional YAML front-matter block ("---" fenced) from
// the prompt body.
func Parse(content string) (*Identity, error) {
	id := &Identity{Name: DefaultName}
	body := content

	trimmed := strings.TrimLeft(content, "\uFEFF\n\r ")
	if strings.HasPrefix(trimmed, "---\n") || trimmed == "---" {
		rest := strings.TrimPrefix(trimmed, "---\n")
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return nil, fmt.Errorf("unterminated front matter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), id); err != nil {
			return nil, fmt.Errorf("parse front matter: %w", err)
		}
		if id.Name == "" {
			id.Name = DefaultName
		}
		body = rest[end+len("\n---"):]
		body = strings.TrimPrefix(body, "\n")
	}

	id.Prompt = strings.TrimSpace(body)
	if id.Prompt == "" {
		id.Prompt = defaultPrompt
	}
	return id, nil
}

// SystemPrompt renders the persona block for the system prompt.
func (id *Identity) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(id.Prompt)
	if id.Tone != "" {
		fmt.Fprintf(&b, "\n\nTone: %s.", id.Tone)
	}
	return b.String()
}
