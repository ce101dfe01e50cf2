// Package orchestrator wires the subsystems into a running daemon: it
// owns boot-time construction, task submission, and shutdown ordering.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"zora/internal/audit"
	"zora/internal/config"
	"zora/internal/event"
	"zora/internal/gateway"
	"zora/internal/identity"
	"zora/internal/memory"
	"zora/internal/pipeline"
	"zora/internal/policy"
	"zora/internal/provider"
	"zora/internal/provider/anthropic"
	"zora/internal/provider/openai"
	"zora/internal/retryqueue"
	"zora/internal/router"
	"zora/internal/scheduler"
	"zora/internal/session"
	"zora/internal/steering"
	"zora/internal/task"
	"zora/internal/tools"
	"zora/pkg/logger"
)

// drainTimeout bounds how long shutdown waits for in-flight tasks
// before cancelling them.
const drainTimeout = 15 * time.Second

// Orchestrator is the assembled daemon.
type Orchestrator struct {
	cfg   *config.Config
	paths config.Paths

	auditor  *audit.Logger
	engine   *policy.Engine
	memory   *memory.Manager
	sessions *session.Store
	inbox    *steering.Inbox
	registry *provider.Registry
	router   *router.Router
	retry    *retryqueue.Queue
	monitor  *provider.AuthMonitor
	pipe     *pipeline.Pipeline
	sched    *scheduler.Scheduler
	gw       *gateway.Server

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// New builds the full daemon rooted at the base directory. Construction
// failures are fatal; nothing is retried at boot.
func New(baseDir string) (*Orchestrator, error) {
	paths, err := config.NewPaths(baseDir)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureLayout(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	o := &Orchestrator{cfg: cfg, paths: paths}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if o.auditor, err = audit.New(paths.AuditFile()); err != nil {
		return nil, err
	}

	pol, err := policy.Load(paths.PolicyFile(), paths.Base)
	if err != nil {
		return nil, err
	}
	if o.engine, err = policy.New(pol, policy.Options{
		PolicyPath: paths.PolicyFile(),
		Auditor:    o.auditor,
	}); err != nil {
		return nil, err
	}

	if cfg.Memory.Enabled {
		o.memory, err = memory.NewManager(paths.MemoryDir(), memory.Config{
			ConsolidateAfter: time.Duration(cfg.Memory.ConsolidateAfterDays) * 24 * time.Hour,
		})
		if err != nil {
			return nil, err
		}
	}

	if o.sessions, err = session.NewStore(paths.SessionsDir()); err != nil {
		return nil, err
	}
	if o.inbox, err = steering.NewInbox(paths.SteeringDir(), steering.DefaultDebounce); err != nil {
		return nil, err
	}
	if err := o.inbox.Watch(); err != nil {
		logger.Warn().Err(err).Msg("steering watcher unavailable, falling back to polling")
	}

	o.registry = provider.NewRegistry()
	if err := o.registerProviders(); err != nil {
		return nil, err
	}
	o.monitor = provider.NewAuthMonitor(o.registry, o.notifyAuth)
	o.router = router.New(o.registry, cfg.Routing.Mode, cfg.Routing.Provider)

	if o.retry, err = retryqueue.New(paths.RetryQueueFile(), retryqueue.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}); err != nil {
		return nil, err
	}

	toolReg := buildTools(o.memory, cfg.Memory.RecallLimit)

	var extract memory.ExtractFunc
	if o.memory != nil && cfg.Memory.ExtractionEnabled {
		extract = o.extractTranscript
	}

	o.pipe = pipeline.New(pipeline.Config{
		Router:           o.router,
		Failover:         pipeline.NewFailoverController(o.router, cfg.Failover.MaxHandoffContextTokens, 0),
		Policy:           o.engine,
		Sessions:         o.sessions,
		Inbox:            o.inbox,
		Retry:            o.retry,
		Memory:           o.memory,
		Identity:         identity.Load(paths.IdentityFile()),
		Leaks:            pipeline.NewLeakScanner(o.auditor),
		Audit:            o.auditor,
		Tools:            toolReg.Defs(),
		ExecTool:         toolReg.Executor(),
		Extract:          extract,
		MaxFailoverDepth: cfg.Failover.MaxDepth,
		OnEvent:          o.broadcast,
		Submit:           func(t *task.Task) { o.dispatch(t) },
	})

	heartbeat := time.Duration(0)
	if cfg.Heartbeat.Enabled {
		heartbeat = cfg.Heartbeat.Interval
	}
	o.sched = scheduler.New(scheduler.Config{
		Submit:              o.submit,
		NewTask:             pipeline.NewTask,
		AuthMonitor:         o.monitor,
		Retry:               o.retry,
		Memory:              o.memory,
		RoutinesDir:         paths.RoutinesDir(),
		RetryPollInterval:   cfg.Retry.PollInterval,
		ConsolidateInterval: cfg.Memory.ConsolidateInterval,
		HeartbeatInterval:   heartbeat,
		HeartbeatPrompt:     cfg.Heartbeat.Prompt,
	})

	rateLimit := cfg.Gateway.RateLimit.MaxRequests
	if !cfg.Gateway.RateLimit.Enabled {
		rateLimit = 1 << 30
	}
	o.gw = gateway.New(gateway.Config{
		Addr:       net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
		StaticDir:  cfg.Gateway.StaticDir,
		RateLimit:  rateLimit,
		RateWindow: cfg.Gateway.RateLimit.Window,
		Registry:   o.registry,
		Sessions:   o.sessions,
		Submit:     o.SubmitTask,
		Steer: func(jobID, message, author, source string) error {
			_, err := o.inbox.Post(jobID, message, author, source)
			return err
		},
		ActiveJobs: o.activeJobs,
	})

	o.auditor.Append("boot", map[string]any{"base": paths.Base})
	return o, nil
}

// registerProviders instantiates the configured provider adapters.
func (o *Orchestrator) registerProviders() error {
	for name, entry := range o.cfg.Providers {
		if !entry.Enabled {
			continue
		}
		key := ""
		if entry.APIKeyEnv != "" {
			key = os.Getenv(entry.APIKeyEnv)
		}
		tier := task.ParseCostTier(entry.CostTier)

		var p provider.Provider
		switch entry.Kind {
		case "anthropic":
			p = anthropic.New(anthropic.Config{
				APIKey:       key,
				Model:        entry.Model,
				MaxTokens:    entry.MaxTokens,
				MaxTurns:     o.cfg.Task.MaxTurns,
				Enabled:      true,
				Rank:         entry.Rank,
				Capabilities: entry.Capabilities,
				CostTier:     tier,
			})
		case "openai":
			p = openai.New(openai.Config{
				APIKey:       key,
				Model:        entry.Model,
				MaxTurns:     o.cfg.Task.MaxTurns,
				Enabled:      true,
				Rank:         entry.Rank,
				Capabilities: entry.Capabilities,
				CostTier:     tier,
			})
		default:
			return fmt.Errorf("provider %s: unknown kind %q", name, entry.Kind)
		}
		if err := o.registry.Register(p); err != nil {
			return err
		}
		logger.Info().Str("provider", p.Name()).Int("rank", p.Rank()).Msg("provider registered")
	}
	return nil
}

// buildTools registers the built-in tool surface; memory tools are
// present only when the memory manager is enabled.
func buildTools(mem *memory.Manager, recallLimit int) *tools.Registry {
	reg := tools.NewRegistry()
	reg.MustRegister(tools.ReadFileTool{})
	reg.MustRegister(tools.WriteFileTool{})
	reg.MustRegister(tools.EditFileTool{})
	reg.MustRegister(tools.GlobTool{})
	reg.MustRegister(tools.GrepTool{})
	reg.MustRegister(&tools.BashTool{})
	if mem != nil {
		reg.MustRegister(tools.MemorySearchTool{Manager: mem, Limit: recallLimit})
		reg.MustRegister(tools.RecallContextTool{Manager: mem})
		reg.MustRegister(tools.MemorySaveTool{Manager: mem})
	}
	return reg
}

// SubmitTask accepts a raw prompt and runs it asynchronously.
func (o *Orchestrator) SubmitTask(prompt string) (string, error) {
	if len(o.registry.Available()) == 0 {
		return "", fmt.Errorf("no providers available")
	}
	t := pipeline.NewTask(prompt)
	o.dispatch(t)
	return t.JobID, nil
}

// submit is the scheduler seam: a failed submission keeps retry entries
// queued.
func (o *Orchestrator) submit(t *task.Task) error {
	if len(o.registry.Available()) == 0 {
		return fmt.Errorf("no providers available")
	}
	o.dispatch(t)
	return nil
}

// dispatch runs a task on its own goroutine under the per-task timeout.
func (o *Orchestrator) dispatch(t *task.Task) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		ctx := o.ctx
		if o.cfg.Task.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.Task.Timeout)
			defer cancel()
		}
		res := o.pipe.Run(ctx, t)
		if res.Err != nil {
			logger.Warn().Str("job_id", t.JobID).Err(res.Err).Msg("task failed")
			return
		}
		logger.Info().Str("job_id", t.JobID).Str("provider", res.Provider).Msg("task done")
		// A completed run settles any pending retry entry for the job.
		if err := o.retry.Remove(t.JobID); err != nil {
			logger.Warn().Err(err).Str("job_id", t.JobID).Msg("retry settle failed")
		}
	}()
}

// broadcast fans pipeline events out to dashboard clients.
func (o *Orchestrator) broadcast(jobID string, e event.Event) {
	env, err := event.WrapEvent(jobID, e)
	if err != nil {
		logger.Debug().Err(err).Msg("event wrap failed")
		return
	}
	o.gw.Hub().Broadcast(env)
}

// notifyAuth surfaces credential problems as dashboard notifications.
func (o *Orchestrator) notifyAuth(providerName, message string) {
	env, err := event.NewEnvelope("notification", providerName, map[string]string{
		"kind":    "auth",
		"message": message,
	})
	if err != nil {
		return
	}
	o.gw.Hub().Broadcast(env)
}

func (o *Orchestrator) activeJobs() map[string]string {
	out := map[string]string{}
	for id, st := range o.pipe.States() {
		out[id] = string(st)
	}
	return out
}

// Run starts the scheduler and serves the gateway until ctx is
// cancelled or the listener fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.sched.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- o.gw.Start() }()

	select {
	case <-ctx.Done():
		o.Shutdown()
		return nil
	case err := <-errCh:
		o.Shutdown()
		return err
	}
}

// Shutdown stops intake, drains in-flight tasks, then releases
// resources in dependency order.
func (o *Orchestrator) Shutdown() {
	logger.Info().Msg("shutting down")
	o.sched.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := o.gw.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("gateway shutdown")
	}

	drained := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn().Msg("drain timeout, cancelling in-flight tasks")
		o.cancel()
		<-drained
	}
	o.cancel()

	o.inbox.Close()
	if o.memory != nil {
		if err := o.memory.Close(); err != nil {
			logger.Warn().Err(err).Msg("memory close")
		}
	}
	o.auditor.Append("shutdown", nil)
	o.auditor.Close()
	logger.Close()
}
