// Package providertest provides a scripted in-memory provider for router,
// failover and pipeline tests.
package providertest

import (
	"context"
	"sync"

	"zora/internal/event"
	"zora/internal/provider"
	"zora/internal/task"
)

// Step is one scripted emission. A step with Tool set first asks the
// authorizer, then (if allowed) runs the executor and emits a
// tool_call/tool_result pair.
type Step struct {
	Event event.Event
	Tool  string
	Input map[string]any
}

// Scripted is a Provider whose Execute plays back a fixed script.
type Scripted struct {
	*provider.Base

	Auth   provider.AuthStatus
	Script []Step

	mu       sync.Mutex
	executed int
	aborted  []string
}

// New builds a scripted provider that is enabled and healthy by default.
func New(name string, rank int, capabilities []string, tier task.CostTier) *Scripted {
	return &Scripted{
		Base: provider.NewBase(provider.BaseConfig{
			Name:         name,
			Enabled:      true,
			Rank:         rank,
			Capabilities: capabilities,
			CostTier:     tier,
		}),
		Auth: provider.AuthStatus{Valid: true},
	}
}

func (s *Scripted) CheckAuth(ctx context.Context) provider.AuthStatus {
	s.StoreAuth(s.Auth)
	return s.Auth
}

// Executions reports how many times Execute ran.
func (s *Scripted) Executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

func (s *Scripted) Execute(ctx context.Context, tc *task.Context) <-chan event.Event {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()

	out := make(chan event.Event, 16)
	jobCtx, done := s.RegisterJob(ctx, tc.Task.JobID)
	go func() {
		defer close(out)
		defer done()
		terminal := false
		for _, step := range s.Script {
			select {
			case <-jobCtx.Done():
				out <- event.NewError(s.Name(), event.ErrorData{Message: "aborted"})
				return
			default:
			}

			if step.Tool != "" {
				d := tc.Authorize.Authorize(jobCtx, step.Tool, step.Input)
				res := event.ToolResultData{ToolCallID: step.Tool, Tool: step.Tool}
				if !d.Allow {
					res.Content = d.Reason
					res.IsError = true
				} else if tc.ExecTool != nil {
					content, isErr, err := tc.ExecTool(jobCtx, step.Tool, step.Input)
					res.Content = content
					res.IsError = isErr
					if err != nil {
						res.Content = err.Error()
						res.IsError = true
					}
				}
				out <- event.NewToolCall(s.Name(), step.Tool, step.Tool, nil)
				out <- event.NewToolResult(s.Name(), res)
				continue
			}

			e := step.Event
			e.Source = s.Name()
			out <- e
			if e.IsTerminal() {
				terminal = true
				break
			}
		}
		if !terminal {
			out <- event.NewDone(s.Name(), event.DoneData{})
		}
	}()
	return out
}
