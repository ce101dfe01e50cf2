package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/event"
	"zora/internal/task"
)

type fixedAuthProvider struct {
	*Base
	auth AuthStatus
}

func (f *fixedAuthProvider) CheckAuth(ctx context.Context) AuthStatus { return f.auth }
func (f *fixedAuthProvider) Execute(ctx context.Context, tc *task.Context) <-chan event.Event {
	return nil
}

func TestAuthMonitorWarnsOnInvalid(t *testing.T) {
	r := NewRegistry()
	bad := &fixedAuthProvider{
		Base: NewBase(BaseConfig{Name: "bad", Enabled: true}),
		auth: AuthStatus{Valid: false},
	}
	good := &fixedAuthProvider{
		Base: NewBase(BaseConfig{Name: "good", Enabled: true}),
		auth: AuthStatus{Valid: true},
	}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))

	var mu sync.Mutex
	var warned []string
	m := NewAuthMonitor(r, func(name, msg string) {
		mu.Lock()
		warned = append(warned, name)
		mu.Unlock()
	})

	results := m.CheckAll(context.Background())
	assert.False(t, results["bad"].Valid)
	assert.True(t, results["good"].Valid)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad"}, warned)
}

func TestAuthMonitorWarnsBeforeExpiry(t *testing.T) {
	r := NewRegistry()
	soon := time.Now().Add(time.Hour)
	expiring := &fixedAuthProvider{
		Base: NewBase(BaseConfig{Name: "expiring", Enabled: true}),
		auth: AuthStatus{Valid: true, ExpiresAt: &soon},
	}
	refreshable := &fixedAuthProvider{
		Base: NewBase(BaseConfig{Name: "refreshable", Enabled: true}),
		auth: AuthStatus{Valid: true, ExpiresAt: &soon, CanAutoRefresh: true},
	}
	require.NoError(t, r.Register(expiring))
	require.NoError(t, r.Register(refreshable))

	var warned []string
	m := NewAuthMonitor(r, func(name, msg string) { warned = append(warned, name) })
	m.CheckAll(context.Background())
	assert.Equal(t, []string{"expiring"}, warned)
}

func TestAuthMonitorRateLimitsWarnings(t *testing.T) {
	r := NewRegistry()
	bad := &fixedAuthProvider{
		Base: NewBase(BaseConfig{Name: "bad", Enabled: true}),
		auth: AuthStatus{Valid: false},
	}
	require.NoError(t, r.Register(bad))

	count := 0
	m := NewAuthMonitor(r, func(name, msg string) { count++ })
	m.CheckAll(context.Background())
	m.CheckAll(context.Background())
	assert.Equal(t, 1, count)
}
