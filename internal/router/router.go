package router

import (
	"errors"
	"sort"
	"sync"

	"zora/internal/provider"
	"zora/internal/task"
	"zora/pkg/logger"
)

// Routing modes.
const (
	ModeRespectRanking = "respect_ranking"
	ModeOptimizeCost   = "optimize_cost"
	ModeRoundRobin     = "round_robin"
	ModeProviderOnly   = "provider_only"
)

// ErrNoProvider is returned when no available provider satisfies the
// task's requirements.
var ErrNoProvider = errors.New("no provider available")

// Router selects a provider for a classified task.
type Router struct {
	registry *Registry

	mu           sync.Mutex
	mode         string
	providerOnly string
	rrIndex      int
}

// Registry is the provider surface the router needs; satisfied by
// *provider.Registry.
type Registry = provider.Registry

// New builds a router. providerOnly is consulted only in provider_only
// mode.
func New(registry *Registry, mode, providerOnly string) *Router {
	if mode == "" {
		mode = ModeRespectRanking
	}
	return &Router{registry: registry, mode: mode, providerOnly: providerOnly}
}

// Select picks a provider for the task, excluding the named providers
// (used by failover to skip the one that just failed).
func (r *Router) Select(t *task.Task, exclude ...string) (provider.Provider, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	r.mu.Lock()
	mode := r.mode
	only := r.providerOnly
	r.mu.Unlock()

	// Pinned mode and explicit preference short-circuit capability
	// matching; an unavailable pin falls through to normal selection.
	if mode == ModeProviderOnly && only != "" {
		if p := r.availableByName(only, excluded); p != nil {
			return p, nil
		}
	}
	if t.ModelPreference != "" {
		if p := r.availableByName(t.ModelPreference, excluded); p != nil {
			return p, nil
		}
		logger.Warn().Str("preference", t.ModelPreference).
			Str("job_id", t.JobID).Msg("preferred provider unavailable")
	}

	required := requiredCapabilities(t.Classification)
	var candidates []provider.Provider
	for _, p := range r.registry.Available() {
		if _, skip := excluded[p.Name()]; skip {
			continue
		}
		if hasAll(p.Capabilities(), required) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoProvider
	}

	// Cost ceiling is soft: a working expensive provider beats a failed
	// task.
	if t.MaxCostTier != nil {
		var within []provider.Provider
		for _, p := range candidates {
			if p.CostTier() <= *t.MaxCostTier {
				within = append(within, p)
			}
		}
		if len(within) > 0 {
			candidates = within
		} else {
			logger.Warn().Str("job_id", t.JobID).
				Str("ceiling", t.MaxCostTier.String()).
				Msg("cost ceiling excludes all candidates, ignoring it")
		}
	}

	return r.pick(mode, candidates), nil
}

func (r *Router) availableByName(name string, excluded map[string]struct{}) provider.Provider {
	if _, skip := excluded[name]; skip {
		return nil
	}
	p, ok := r.registry.Get(name)
	if !ok || !p.IsAvailable() {
		return nil
	}
	return p
}

func (r *Router) pick(mode string, candidates []provider.Provider) provider.Provider {
	switch mode {
	case ModeOptimizeCost:
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].CostTier() != candidates[j].CostTier() {
				return candidates[i].CostTier() < candidates[j].CostTier()
			}
			return candidates[i].Rank() < candidates[j].Rank()
		})
		return candidates[0]
	case ModeRoundRobin:
		r.mu.Lock()
		idx := r.rrIndex % len(candidates)
		r.rrIndex++
		r.mu.Unlock()
		return candidates[idx]
	default: // respect_ranking, provider_only fallback
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Rank() < candidates[j].Rank()
		})
		return candidates[0]
	}
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		if !contains(have, w) {
			return false
		}
	}
	return true
}
