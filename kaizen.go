// Package kaizen wires the agent orchestration subsystem into a runnable
// service: storage, the quality monitor, the five analysis agents, the
// improvement coordinator, the orchestrator, the MCP operator surface and a
// scheduler that asks the orchestrator whether a cycle is due.
package kaizen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kaizen/internal/agent"
	"github.com/ashita-ai/kaizen/internal/config"
	"github.com/ashita-ai/kaizen/internal/improvement"
	"github.com/ashita-ai/kaizen/internal/mcp"
	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/orchestrator"
	"github.com/ashita-ai/kaizen/internal/quality"
	"github.com/ashita-ai/kaizen/internal/ratelimit"
	"github.com/ashita-ai/kaizen/internal/server"
	"github.com/ashita-ai/kaizen/internal/storage"
	"github.com/ashita-ai/kaizen/internal/storage/sqlite"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/telemetry"
	"github.com/ashita-ai/kaizen/internal/trigger"
	"github.com/ashita-ai/kaizen/migrations"
)

// App is a fully wired Kaizen service.
type App struct {
	cfg          config.Config
	orch         *orchestrator.Orchestrator
	srv          *server.Server
	limiter      ratelimit.Limiter
	backend      backend
	otelShutdown telemetry.Shutdown
	schedule     bool
	scheduler    sync.WaitGroup
	logger       *slog.Logger
	version      string
}

// New initialises the Kaizen server. It opens storage, runs migrations,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kaizen starting", "version", version, "port", cfg.Port, "storage", cfg.StorageBackend)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		Version:        version,
		SampleRatio:    cfg.OTELSampleRatio,
		MetricInterval: cfg.OTELMetricInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	be, err := resolveBackend(ctx, cfg, o, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	orch, err := buildOrchestrator(cfg, o, be, logger, version)
	if err != nil {
		be.close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.MCPRateLimit > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.MCPRateLimit, cfg.MCPRateBurst)
	}

	mcpSrv := mcp.New(orch, logger, version)
	srv := server.New(server.Config{
		Status:         orch,
		Storage:        be.pinger,
		MCPServer:      mcpSrv.MCPServer(),
		Limiter:        limiter,
		Logger:         logger,
		Port:           cfg.Port,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Version:        version,
		DegradedHealth: cfg.DegradedHealth,
	})

	return &App{
		cfg:          cfg,
		orch:         orch,
		srv:          srv,
		limiter:      limiter,
		backend:      be,
		otelShutdown: otelShutdown,
		schedule:     cfg.SchedulerInterval > 0 && !o.disableTicker,
		logger:       logger,
		version:      version,
	}, nil
}

// loadConfig reads the environment and applies option overrides. Overrides
// are validated again since they can change which settings are required.
func loadConfig(o resolvedOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storageBackend != "" {
		cfg.StorageBackend = o.storageBackend
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// backend is the opened storage: a behavioral source, a persistence sink and
// an optional health probe.
type backend struct {
	source store.Source
	sink   store.Sink
	pinger server.Pinger
	close  func()
}

// resolveBackend opens the configured backend unless options replace both of
// its roles, then applies any single-role replacement.
func resolveBackend(ctx context.Context, cfg config.Config, o resolvedOptions, logger *slog.Logger) (backend, error) {
	if o.source != nil && o.sink != nil {
		return backend{source: o.source, sink: o.sink, close: func() {}}, nil
	}
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return backend{}, err
	}
	if o.source != nil {
		be.source = o.source
	}
	if o.sink != nil {
		be.sink = o.sink
	}
	return be, nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.StorageBackend {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return backend{}, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("storage: postgres ready")
		return backend{source: db, sink: db, pinger: db, close: db.Close}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: sqlite ready", "path", cfg.SQLitePath)
		return backend{source: db, sink: db, pinger: db, close: func() {
			if err := db.Close(); err != nil {
				logger.Warn("storage: sqlite close failed", "error", err)
			}
		}}, nil

	default:
		logger.Warn("storage: in-memory backend, nothing survives a restart")
		mem := store.NewMemory()
		return backend{source: mem, sink: mem, close: func() {}}, nil
	}
}

func buildOrchestrator(cfg config.Config, o resolvedOptions, be backend, logger *slog.Logger, version string) (*orchestrator.Orchestrator, error) {
	// Parallel agents read the same windows; collapse identical reads.
	src := store.NewSharedSource(be.source, 0)

	var applier quality.ActionApplier
	if o.actionApplier != nil {
		applier = applierAdapter{a: o.actionApplier}
	}
	qcfg := quality.DefaultConfig()
	qcfg.BaselineWindow = cfg.BaselineWindow
	qcfg.CurrentWindow = cfg.CurrentWindow
	qcfg.Thresholds = quality.Thresholds{Degrade: cfg.DegradeThreshold, Critical: cfg.CriticalThreshold}
	qcfg.AutoApplyEnabled = cfg.AutoApplyEnabled
	qcfg.AutoApplyThreshold = cfg.AutoApplyThreshold
	monitor, err := quality.New(qcfg, src, be.sink, applier, logger)
	if err != nil {
		return nil, err
	}

	trig := trigger.New(trigger.Config{
		MinNewRecords:     cfg.MinNewRecords,
		HighVolumeRecords: cfg.HighVolumeRecords,
		DegradedHealth:    cfg.DegradedHealth,
	})
	deps := agent.Deps{
		Source:  src,
		Sink:    be.sink,
		Trigger: trig,
		Health:  monitor,
		Logger:  logger,
		Version: version,
	}

	pcfg := agent.DefaultPatternConfig()
	pcfg.Interval = cfg.PatternInterval
	pcfg.Lookback = cfg.PatternLookback
	pcfg.MinSupport = cfg.PatternMinSupport
	pcfg.MinLift = cfg.PatternMinLift
	pcfg.ValidationThreshold = cfg.PatternValidationThreshold
	pcfg.MaxPatterns = cfg.MaxPatternsPerRun

	rcfg := agent.DefaultResearchConfig()
	rcfg.Interval = cfg.ResearchInterval
	rcfg.GroupAttribute = cfg.ResearchGroupAttribute
	rcfg.QualityFloor = cfg.ResearchQualityFloor
	rcfg.QualityCeiling = cfg.ResearchQualityCeiling

	ucfg := agent.DefaultPersonalizationConfig()
	ucfg.Interval = cfg.PersonalizationInterval
	ucfg.MinUserSessions = cfg.MinUserSessions
	ucfg.CrossUserLearning = cfg.CrossUserLearning
	ucfg.CrossUserMinSupport = cfg.CrossUserMinSupport

	xcfg := agent.DefaultProactiveConfig()
	xcfg.Interval = cfg.ProactiveInterval
	xcfg.VolumeGrowthThreshold = cfg.VolumeGrowthThreshold
	xcfg.TargetGap = cfg.MetricTargetGap

	agents := []agent.Agent{
		agent.NewPatternDiscovery(pcfg, deps),
		agent.NewResearchEnhancement(rcfg, deps),
		agent.NewPersonalization(ucfg, deps),
		agent.NewQualityMonitoring(agent.QualityConfig{Interval: cfg.QualityInterval}, monitor, deps),
		agent.NewProactiveImprovement(xcfg, deps),
	}

	var implementer improvement.Implementer
	if o.implementer != nil {
		implementer = implementerAdapter{i: o.implementer}
	}
	icfg := improvement.DefaultConfig()
	icfg.MinPriority = cfg.MinImprovementPriority
	icfg.MaxPerRun = cfg.MaxImprovementsPerRun
	icfg.AutoImplementEnabled = cfg.AutoImplementEnabled
	icfg.AutoImplementConfidence = cfg.AutoImplementConfidence
	icfg.ExperimentMaxProbability = cfg.ExperimentMaxProbability
	icfg.ExperimentMinImpact = cfg.ExperimentMinImpact
	icfg.ExperimentDuration = cfg.ExperimentDuration
	icfg.ExperimentResourceCap = cfg.ExperimentResourceCap
	coord, err := improvement.New(icfg, be.sink, implementer, logger)
	if err != nil {
		return nil, err
	}

	disabled := make([]model.AgentName, 0, len(cfg.DisabledAgents))
	for _, name := range cfg.DisabledAgents {
		disabled = append(disabled, model.AgentName(name))
	}

	return orchestrator.New(orchestrator.Config{
		MaxConcurrentAgents:   cfg.MaxConcurrentAgents,
		AgentTimeout:          cfg.AgentTimeout,
		OrchestrationInterval: cfg.OrchestrationInterval,
		DegradedHealth:        cfg.DegradedHealth,
		SequentialOnCritical:  cfg.SequentialOnCritical,
		Disabled:              disabled,
	}, orchestrator.Deps{
		Agents:      agents,
		Monitor:     monitor,
		Coordinator: coord,
		Trigger:     trig,
		Source:      src,
		Sink:        be.sink,
		Logger:      logger,
		Version:     version,
		FailureHook: failureHook(o.failureHooks, logger),
	})
}

// Handler returns the root HTTP handler for use in tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and the scheduler. It blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.schedule {
		a.scheduler.Add(1)
		go func() {
			defer a.scheduler.Done()
			a.schedulerLoop(ctx)
		}()
	} else {
		a.logger.Info("scheduler: disabled, cycles run on operator request only")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops accepting HTTP requests, waits for an in-flight scheduled
// cycle, then closes storage and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kaizen shutting down")

	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// The scheduler's context is the one passed to Run, so a running cycle
	// has already been cancelled; this only waits for it to persist.
	done := make(chan struct{})
	go func() {
		a.scheduler.Wait()
		close(done)
	}()
	waitCtx, waitCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	defer waitCancel()
	var err error
	select {
	case <-done:
	case <-waitCtx.Done():
		err = fmt.Errorf("scheduler did not stop: %w", waitCtx.Err())
		a.logger.Error("scheduler drain incomplete, the current session may not be persisted",
			"configured_timeout", a.cfg.ShutdownTimeout)
	}

	_ = a.limiter.Close()
	a.backend.close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kaizen stopped")
	return err
}

// schedulerLoop asks the orchestrator on every tick whether a cycle is due
// and runs it when it is. Ticks that land while a cycle is running are
// dropped by the orchestrator's single-flight guard.
func (a *App) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SchedulerInterval)
	defer ticker.Stop()

	a.logger.Info("scheduler: started", "interval", a.cfg.SchedulerInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *App) tick(ctx context.Context) {
	decision, err := a.orch.ShouldRunOrchestration(ctx)
	if err != nil {
		a.logger.Warn("scheduler: should-run check failed", "error", err)
		return
	}
	if !decision.ShouldRun {
		a.logger.Debug("scheduler: no cycle due", "reasons", decision.Reasons)
		return
	}

	a.logger.Info("scheduler: running cycle",
		"priority", decision.Priority,
		"reasons", decision.Reasons,
		"estimated_duration", decision.EstimatedDuration)
	res, err := a.orch.RunOrchestration(ctx)
	if errors.Is(err, model.ErrConcurrencyViolation) {
		a.logger.Info("scheduler: cycle already running, tick skipped")
		return
	}
	if err != nil {
		a.logger.Warn("scheduler: cycle failed", "error", err)
		return
	}
	a.logger.Info("scheduler: cycle complete",
		"session_id", res.Session.ID,
		"successful", res.Session.SuccessfulExecutions,
		"failed", res.Session.FailedExecutions,
		"improvements", res.Session.TotalImprovements,
		"efficiency", res.Session.EfficiencyScore)
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// applierAdapter wraps a kaizen.ActionApplier to satisfy quality.ActionApplier.
type applierAdapter struct {
	a ActionApplier
}

func (ad applierAdapter) Apply(ctx context.Context, a model.CorrectiveAction) error {
	return ad.a.Apply(ctx, toPublicAction(a))
}

func toPublicAction(a model.CorrectiveAction) CorrectiveAction {
	out := CorrectiveAction{
		ID:                 a.ID,
		AnomalyID:          a.AnomalyID,
		ActionType:         string(a.ActionType),
		TargetComponents:   a.TargetComponents,
		ExpectedImpact:     a.ExpectedImpact,
		RiskLevel:          string(a.RiskLevel),
		SuccessProbability: a.SuccessProbability,
	}
	if a.Details != nil {
		if raw, err := json.Marshal(a.Details); err == nil {
			_ = json.Unmarshal(raw, &out.Details)
		}
	}
	return out
}

// implementerAdapter wraps a kaizen.Implementer to satisfy improvement.Implementer.
type implementerAdapter struct {
	i Implementer
}

func (ad implementerAdapter) Implement(ctx context.Context, o model.ImprovementOpportunity) error {
	return ad.i.Implement(ctx, Improvement{
		ID:                       o.ID,
		SourceAgent:              string(o.SourceAgent),
		OpportunityType:          o.OpportunityType,
		Title:                    o.Title,
		Objectives:               o.Objectives,
		PotentialImpact:          o.PotentialImpact,
		ImplementationComplexity: string(o.ImplementationComplexity),
		SuccessProbability:       o.SuccessProbability,
		PriorityScore:            o.PriorityScore,
		CreatedAt:                o.CreatedAt,
	})
}

// failureHook fans an agent failure out to every registered hook. A
// panicking hook is logged and the remaining hooks still run.
func failureHook(hooks []FailureHook, logger *slog.Logger) orchestrator.FailureHook {
	if len(hooks) == 0 {
		return nil
	}
	return func(ctx context.Context, name model.AgentName, err error) {
		f := AgentFailure{Agent: string(name), Kind: string(model.ClassifyError(err)), Err: err}
		for i, h := range hooks {
			callHook(ctx, h, f, i, logger)
		}
	}
}

func callHook(ctx context.Context, h FailureHook, f AgentFailure, index int, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("kaizen: failure hook panicked", "hook", index, "agent", f.Agent, "panic", r)
		}
	}()
	h(ctx, f)
}
