package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/internal/observability"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/aiusage"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/methodology"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/stage"
	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/checkpoint"
	"github.com/sumatoshi-tech/devpulse/pkg/config"
	"github.com/sumatoshi-tech/devpulse/pkg/facade"
	"github.com/sumatoshi-tech/devpulse/pkg/monitor/filemon"
	"github.com/sumatoshi-tech/devpulse/pkg/monitor/gitmon"
	"github.com/sumatoshi-tech/devpulse/pkg/queue"
	"github.com/sumatoshi-tech/devpulse/pkg/store"
	"github.com/sumatoshi-tech/devpulse/pkg/stream"
)

// startOpts collects start's flags.
type startOpts struct {
	configFile      string
	diagnosticsAddr string
	debugTrace      bool
}

// NewStartCommand builds the "start" subcommand: it wires every
// monitor, analyzer, and transport onto one event bus and blocks until
// interrupted, mirroring the observability-init -> signal-context ->
// deferred-shutdown shape used elsewhere in this CLI.
func NewStartCommand() *cobra.Command {
	opts := &startOpts{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the monitors/bus/queues/analyzers/stream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "Configuration file path (default: ./config.yaml)")
	cmd.Flags().StringVar(&opts.diagnosticsAddr, "diagnostics-addr", ":6060", "Address for the /healthz, /readyz, /metrics endpoints")
	cmd.Flags().BoolVar(&opts.debugTrace, "debug-trace", false, "Enable 100% trace sampling for debugging")

	return cmd
}

func runStart(cmd *cobra.Command, opts *startOpts) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = observability.ModeServe
	obsCfg.DebugTrace = opts.debugTrace
	obsCfg.LogLevel = parseLogLevel(cfg.Logging.Level)
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	logger := providers.Logger

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ingestMetrics, err := observability.NewIngestMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("build ingest metrics: %w", err)
	}

	onDropped := func(queueName string, _ *queue.Entry) {
		logger.Warn("queue entry dropped", "queue", queueName)
	}

	qm := queue.NewManager(0, defaultQueueConfig(cfg), onDropped)
	for name, qc := range cfg.Queues.Named {
		wireQueueConfig(qm, logger, name, qc)
	}
	if cfg.Queues.AutoRouting {
		qm.SetRouting(queue.DefaultRules())
	}

	notifier := newBusNotifier(nil)

	// b is captured by this closure's reference, not its value at
	// construction time: the hook only runs after New returns and
	// notifier.publisher is assigned below.
	var b *bus.Bus
	b = bus.New(
		bus.WithRouter(qm),
		bus.WithTracer(providers.Tracer),
		bus.WithSubscriberErrorHook(func(hookCtx context.Context, subID string, hookErr error) {
			subscriberErrorHook(logger, b)(hookCtx, subID, hookErr)
		}),
	)
	notifier.publisher = b

	for _, name := range []string{queue.QueueDefault, queue.QueuePriority, queue.QueueBatch, queue.QueueFailed} {
		if procErr := qm.SetProcessor(ctx, name, storeProcessor(st, logger)); procErr != nil {
			return fmt.Errorf("install processor for queue %s: %w", name, procErr)
		}
	}

	stageAnalyzer := stage.New(stage.Options{
		ConfidenceThreshold: cfg.StageAnalyzer.ConfidenceThreshold,
		TransitionCooldown:  cfg.StageAnalyzer.TransitionCooldown(),
		Window:              cfg.StageAnalyzer.Window(),
		MaxTransitions:      cfg.StageAnalyzer.HistorySize,
		Logger:              logger,
	}, b, st)

	ckptMgr := checkpoint.NewManager(checkpoint.DefaultDir(), checkpoint.WorkspaceHash(cfg.FileMonitor.Root))
	if _, loadErr := ckptMgr.Load([]checkpoint.Checkpointable{stageAnalyzer}); loadErr != nil {
		logger.Info("no stage checkpoint to resume from, starting with empty stage state", "error", loadErr)
	} else {
		logger.Info("resumed stage analyzer from checkpoint")
	}

	stageAnalyzer.Subscribe(b)

	methodologyAnalyzer := methodology.New(methodology.Options{Logger: logger})
	methodologyAnalyzer.Subscribe(b)

	aiUsageAnalyzer := aiusage.New(aiusage.Options{Logger: logger})
	aiUsageAnalyzer.Subscribe(b)

	metricsCollector := metrics.NewCollector(0)
	subscribeMetricsFeed(b, metricsCollector)

	bottleneckDetector := metrics.NewDetector(metricsCollector, metrics.Options{
		Logger: logger,
		StageStatus: func() metrics.StageStatus {
			res := stageAnalyzer.Analyze()
			return metrics.StageStatus{
				Stage:       string(res.CurrentStage),
				Progress:    res.StageProgress[res.CurrentStage],
				TimeInStage: res.TimeSpent[res.CurrentStage],
			}
		},
		QueueStats: qm.Stats,
	})
	bottleneckDetector.Subscribe(b)

	fileMon := filemon.New(filemon.Options{
		RootPath:    cfg.FileMonitor.Root,
		IgnoreGlobs: cfg.FileMonitor.Ignore,
		Debounce:    cfg.FileMonitor.Debounce(),
		Logger:      logger,
	}, b, notifier)

	gitMon := gitmon.New(gitmon.Options{
		RepoPath:        cfg.GitMonitor.RepoPath,
		Interval:        cfg.GitMonitor.PollInterval(),
		AnalyzeMessages: cfg.GitMonitor.AnalyzeMessages,
		Logger:          logger,
	}, b, notifier)

	notifier.markRunning("filemon")
	notifier.markRunning("gitmon")

	go runMonitor(ctx, logger, "filemon", fileMon.Run)
	go runMonitor(ctx, logger, "gitmon", gitMon.Run)

	hub := stream.New(stream.Options{
		ReplayWindow: cfg.Stream.ReplayWindow(),
		Logger:       logger,
	})
	hub.BusSubscribe(b)
	go hub.Run(ctx)
	defer hub.Stop()

	wsServer := stream.NewServer(hub, logger)

	httpMux := http.NewServeMux()
	httpMux.Handle("/ws", wsServer)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Stream.Host, cfg.Stream.Port),
		Handler: httpMux,
	}

	go func() {
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("stream http server stopped", "error", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	var diag *observability.DiagnosticsServer
	if opts.diagnosticsAddr != "" {
		diag, err = observability.NewDiagnosticsServer(opts.diagnosticsAddr, providers.Meter)
		if err != nil {
			return fmt.Errorf("start diagnostics server: %w", err)
		}
		defer diag.Close()
		logger.Info("diagnostics server listening", "addr", diag.Addr())
	}

	// The facade is constructed here so every dependency it reads is
	// live, but start itself has no HTTP/RPC surface for it: the
	// JSON-RPC dispatcher that calls into the facade is an external
	// collaborator, and cmd/devpulse mcp is the one in-tree adapter,
	// run as its own process against the same store file.
	_ = facade.New(facade.Deps{
		Store:               st,
		StageAnalyzer:       stageAnalyzer,
		MethodologyAnalyzer: methodologyAnalyzer,
		AIUsageAnalyzer:     aiUsageAnalyzer,
		MetricsCollector:    metricsCollector,
		BottleneckDetector:  bottleneckDetector,
		QueueManager:        qm,
		MonitorStatus:       notifier.snapshot,
	})

	logger.Info("devpulse started",
		"stream_addr", httpSrv.Addr,
		"storage_path", cfg.Storage.Path,
	)

	defer func() {
		saveErr := ckptMgr.Save(
			[]checkpoint.Checkpointable{stageAnalyzer},
			checkpoint.StreamingState{},
			cfg.FileMonitor.Root,
			[]string{"stage"},
		)
		if saveErr != nil {
			logger.Warn("stage checkpoint save failed", "error", saveErr)
		}
	}()

	dropSeen := make(map[string]int64, 4)
	sampleTicker := time.NewTicker(5 * time.Second)
	defer sampleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-sampleTicker.C:
			sampleQueues(ctx, qm, ingestMetrics, dropSeen)
		}
	}
}

// sampleQueues reports each queue's current depth/bytes, and diffs
// cumulative drop counts against dropSeen to compute this period's
// delta (queue.Stats.DroppedCount never resets).
func sampleQueues(ctx context.Context, qm *queue.Manager, im *observability.IngestMetrics, dropSeen map[string]int64) {
	stats := qm.Stats()
	samples := make([]observability.QueueSample, 0, len(stats))

	for _, s := range stats {
		prev := dropSeen[s.Name]
		delta := s.DroppedCount - prev
		if delta < 0 {
			delta = 0
		}
		dropSeen[s.Name] = s.DroppedCount

		samples = append(samples, observability.QueueSample{
			Name:         s.Name,
			Pending:      s.Pending,
			ByteSize:     s.ByteSize,
			DroppedDelta: delta,
		})
	}

	im.RecordQueues(ctx, samples)
}

func runMonitor(ctx context.Context, logger *slog.Logger, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("monitor exited", "monitor", name, "error", err)
	}
}

func defaultQueueConfig(cfg *config.Config) queue.Config {
	base := queue.DefaultConfig()
	if dc, ok := cfg.Queues.Named[queue.QueueDefault]; ok {
		return applyQueueConfig(base, dc)
	}
	return base
}

// wireQueueConfig creates an operator-defined queue from config. The
// four reserved queue names are tuned via defaultQueueConfig/SetProcessor
// instead, since NewManager already creates them.
func wireQueueConfig(qm *queue.Manager, logger *slog.Logger, name string, qc config.QueueConfig) {
	switch name {
	case queue.QueueDefault, queue.QueuePriority, queue.QueueBatch, queue.QueueFailed:
		return
	}

	if err := qm.CreateQueue(name, applyQueueConfig(queue.DefaultConfig(), qc)); err != nil {
		logger.Warn("create configured queue failed", "queue", name, "error", err)
	}
}

func applyQueueConfig(base queue.Config, qc config.QueueConfig) queue.Config {
	if qc.MaxSize > 0 {
		base.MaxSize = qc.MaxSize
	}
	if qc.MaxBytes > 0 {
		base.MaxBytes = qc.MaxBytes
	}
	if qc.BatchSize > 0 {
		base.BatchSize = qc.BatchSize
	}
	if qc.FlushIntervalMs > 0 {
		base.FlushInterval = qc.FlushInterval()
	}
	if qc.MaxAttempts > 0 {
		base.MaxAttempts = qc.MaxAttempts
	}
	return base
}

// parseLogLevel maps the config's string log level onto an slog.Level,
// defaulting to Info for anything unrecognized.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
