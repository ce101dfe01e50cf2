package provider

import (
	"context"
	"sync"
	"time"

	"zora/pkg/logger"
)

// ExpiryWarningWindow is how far ahead of credential expiry the monitor
// starts warning.
const ExpiryWarningWindow = 24 * time.Hour

// NotifyFunc surfaces an auth warning to the user (dashboard broadcast,
// log line).
type NotifyFunc func(providerName, message string)

// AuthMonitor periodically probes every registered provider's credentials
// and warns before expiry. Driven by the scheduler's 5-minute sweep.
type AuthMonitor struct {
	registry *Registry
	notify   NotifyFunc

	mu     sync.Mutex
	warned map[string]time.Time
}

// NewAuthMonitor builds a monitor over the registry. notify may be nil.
func NewAuthMonitor(registry *Registry, notify NotifyFunc) *AuthMonitor {
	return &AuthMonitor{
		registry: registry,
		notify:   notify,
		warned:   make(map[string]time.Time),
	}
}

// CheckAll probes each provider once and returns the statuses by name.
func (m *AuthMonitor) CheckAll(ctx context.Context) map[string]AuthStatus {
	results := make(map[string]AuthStatus)
	for _, p := range m.registry.All() {
		st := p.CheckAuth(ctx)
		results[p.Name()] = st
		m.evaluate(p.Name(), st)
	}
	return results
}

func (m *AuthMonitor) evaluate(name string, st AuthStatus) {
	switch {
	case !st.Valid:
		m.warn(name, "credentials invalid; re-authentication required")
	case st.ExpiresAt != nil && time.Until(*st.ExpiresAt) < ExpiryWarningWindow:
		if st.CanAutoRefresh {
			return
		}
		m.warn(name, "credentials expire soon and cannot auto-refresh")
	}
}

// warn rate-limits notifications to once per hour per provider.
func (m *AuthMonitor) warn(name, msg string) {
	m.mu.Lock()
	last, ok := m.warned[name]
	if ok && time.Since(last) < time.Hour {
		m.mu.Unlock()
		return
	}
	m.warned[name] = time.Now()
	m.mu.Unlock()

	logger.Warn().Str("provider", name).Msg(msg)
	if m.notify != nil {
		m.notify(name, msg)
	}
}
