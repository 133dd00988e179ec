// Command agent runs one model-driven browser-automation task end to end:
// the Sandbox Supervisor (§4.5) bounds a Step Loop run (§4.1) driving a
// Command Catalog (§4.4) against a real browser, with the Conversation
// Manager (§4.2) and Stall Detector (§4.3) wired in between. Grounded on
// the teacher's cmd/agent/main.go — config.Load, InitLogger/InitOTel,
// building the LLM provider, then handing off to a single run — adapted
// from the teacher's tool-registry/specialists wiring to this repo's
// browser/catalog/stepper/sandbox collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/browser"
	"github.com/ntegrals/openbrowser/internal/cache"
	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/conversation"
	"github.com/ntegrals/openbrowser/internal/eventbus"
	clickhousesink "github.com/ntegrals/openbrowser/internal/telemetry/clickhouse"
	"github.com/ntegrals/openbrowser/internal/llm"
	llmproviders "github.com/ntegrals/openbrowser/internal/llm/providers"
	"github.com/ntegrals/openbrowser/internal/mcp"
	"github.com/ntegrals/openbrowser/internal/objectstore"
	"github.com/ntegrals/openbrowser/internal/observability"
	"github.com/ntegrals/openbrowser/internal/persistence"
	"github.com/ntegrals/openbrowser/internal/sandbox"
	"github.com/ntegrals/openbrowser/internal/stalldetector"
	storepostgres "github.com/ntegrals/openbrowser/internal/store/postgres"
	"github.com/ntegrals/openbrowser/internal/stepper"
	"github.com/ntegrals/openbrowser/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print the build version and exit")
	task := flag.String("task", "", "Task for the agent to carry out")
	maxStepsFlag := flag.Int("max-steps", 0, "Max Step Loop iterations (0 = use configured default)")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Version)
		return
	}
	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: agent -task \"...\"")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	maxSteps := *maxStepsFlag
	if maxSteps <= 0 {
		maxSteps = cfg.StepLoop.MaxSteps
	}

	if err := run(context.Background(), cfg, *task, maxSteps); err != nil {
		log.Fatal().Err(err).Msg("agent run failed")
	}
}

func run(baseCtx context.Context, cfg config.Config, task string, maxSteps int) error {
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	log.Info().Str("task", task).Msg("openbrowser agent starting")

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(baseCtx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without it")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}
	llm.ConfigureLogging(cfg.Obs.LogPayloads, cfg.Obs.TruncateBytes)

	httpClient := observability.NewHTTPClient(nil)
	provider, err := llmproviders.Build(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	b, err := browser.New(baseCtx, cfg.Browser)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer b.Close()

	catalog := commands.NewCatalog()

	mcpClient := mcp.NewClient()
	defer mcpClient.Close()
	ctxMCP, cancelMCP := context.WithTimeout(baseCtx, 20*time.Second)
	mcpClient.RegisterFromConfig(ctxMCP, catalog, cfg.MCP)
	cancelMCP()

	var mcpServer *mcp.Server
	if cfg.MCP.ListenAddr != "" {
		execCtx := &commands.ExecutionContext{
			Browser: b,
			Policy:  commands.DomainPolicy{Allowed: cfg.Sandbox.AllowedDomains, Blocked: cfg.Sandbox.BlockedDomains},
		}
		mcpServer = mcp.NewServer(catalog, execCtx)
		go func() {
			if err := mcpServer.Serve(baseCtx, cfg.MCP.ListenAddr); err != nil {
				log.Warn().Err(err).Msg("mcp server stopped")
			}
		}()
	}

	fingerprints, err := cache.NewFingerprintStore(cfg.Store, 0)
	if err != nil {
		log.Warn().Err(err).Msg("fingerprint cache disabled")
	}
	defer fingerprints.Close()

	var budget *cache.Budget
	if cfg.Store.RedisAddr != "" {
		budget, err = cache.NewBudget(cfg.Store.RedisAddr, 0)
		if err != nil {
			log.Warn().Err(err).Msg("spend budget disabled")
			budget = nil
		}
	}
	_ = budget // wired per-scope by a calling service layer, not this single-run CLI

	publisher, err := eventbus.NewPublisher(cfg.Store.KafkaBrokers, cfg.Store.KafkaTopic)
	if err != nil {
		log.Warn().Err(err).Msg("event bus disabled")
	}
	defer publisher.Close()

	metricsSink, err := clickhousesink.Open(baseCtx, cfg.Store)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse metrics sink disabled")
	}
	defer metricsSink.Close()

	var store persistence.Store
	var archiver persistence.ScreenshotArchiver
	if cfg.Store.PostgresDSN != "" {
		pg, err := storepostgres.Open(baseCtx, cfg.Store.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres execution log disabled")
		} else {
			store = pg
			defer pg.Close()
		}
	}
	if cfg.Store.S3.Bucket != "" {
		s3, err := objectstore.NewS3Store(baseCtx, cfg.Store.S3)
		if err != nil {
			log.Warn().Err(err).Msg("s3 screenshot archival disabled")
		} else {
			archiver = objectstore.ScreenshotArchiver{Store: s3, Bucket: cfg.Store.S3.Bucket}
		}
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	execLog := persistence.NewExecutionLog(task, time.Now())

	execCtx := &commands.ExecutionContext{
		Browser: b,
		Policy:  commands.DomainPolicy{Allowed: cfg.Sandbox.AllowedDomains, Blocked: cfg.Sandbox.BlockedDomains},
	}
	executor := commands.NewExecutor(catalog, execCtx)

	detector := stalldetector.New(stalldetector.Config{
		WindowSize:              cfg.Stall.WindowSize,
		MaxRepeatedActions:      cfg.Stall.MaxRepeatedActions,
		MaxRepeatedFingerprints: cfg.Stall.MaxRepeatedFingerprints,
		MaxStagnantPages:        cfg.Stall.MaxStagnantPages,
	})
	if actions, sigs, ok := fingerprints.Load(baseCtx, runID); ok {
		detector.Restore(actions, sigs)
	}

	convMgr := conversation.New(cfg.Conversation.ContextWindowTokens, conversation.SummaryPolicy{
		Interval:      cfg.Conversation.SummaryInterval,
		TargetPercent: cfg.Conversation.SummaryTargetPercent,
		Model:         cfg.LLMClient.Model,
	}, provider)

	stepStarted := time.Now()
	pending := persistence.StepRecord{}
	flushStep := func(step int) {
		if len(pending.CommandResults) == 0 {
			return
		}
		pending.Step = step
		pending.Timestamp = time.Now()
		pending.DurationMs = time.Since(stepStarted).Milliseconds()
		if state, err := b.State(baseCtx); err == nil {
			pending.BrowserSnapshot = persistence.BrowserSnapshot{URL: state.URL, Title: state.Title}
		}
		rec := pending
		execLog.Append(rec)
		if err := publisher.PublishStep(baseCtx, runID, rec); err != nil {
			log.Debug().Err(err).Msg("publish step event")
		}
		if store != nil {
			if err := store.AppendStep(baseCtx, runID, rec); err != nil {
				log.Debug().Err(err).Msg("append step to store")
			}
		}
		pending = persistence.StepRecord{}
	}

	hooks := stepper.Hooks{
		OnStepStart: func(step int) {
			flushStep(step - 1)
			stepStarted = time.Now()
		},
		OnCommand: func(step int, cmd commands.Command, res commands.Result) {
			pending.CommandResults = append(pending.CommandResults, persistence.CommandResultRecord{
				Action:  string(cmd.Action),
				Success: res.Success,
				Error:   res.Error,
			})
			if res.IsDone {
				pending.Decision = res.ExtractedContent
			}
		},
		OnStall: func(step int, verdict stalldetector.Verdict) {
			log.Warn().Int("step", step).Str("reason", verdict.Reason).Msg("stall detected")
		},
	}

	if cfg.SystemPrompt != "" {
		convMgr.SetInstructionBuilder(cfg.SystemPrompt)
	}

	st := stepper.New(cfg.StepLoop, cfg.LLMClient.Model, provider, convMgr, catalog, executor, detector, b, task, hooks)

	monitor, err := sandbox.NewResourceMonitor(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("resource monitor unavailable, memory limit will not be enforced")
		monitor = nil
	}
	supervisor := sandbox.New(cfg.Sandbox, monitor)

	report := supervisor.Supervise(baseCtx, func(ctx context.Context) (stepper.Outcome, error) {
		return st.Run(ctx, maxSteps)
	})

	flushStep(report.Outcome.Steps - 1)
	execLog.Finalize(time.Now())
	if archiver != nil {
		if err := persistence.ArchiveScreenshots(baseCtx, archiver, runID, execLog); err != nil {
			log.Warn().Err(err).Msg("archive screenshots")
		}
	}
	if store != nil {
		snapshot := execLog.Snapshot()
		if err := store.FinalizeRun(baseCtx, runID, snapshot); err != nil {
			log.Warn().Err(err).Msg("finalize run in store")
		}
	}
	if err := metricsSink.Record(baseCtx, clickhousesink.RunMetric{
		RunID:        runID,
		AbortReason:  report.AbortReason,
		DurationMS:   int64(report.DurationSec * 1000),
		PeakMemoryMB: report.PeakMemoryMB,
		StepsRun:     report.Outcome.Steps,
	}); err != nil {
		log.Debug().Err(err).Msg("record clickhouse run metric")
	}
	if err := publisher.PublishSandboxResult(baseCtx, runID, report.AbortReason, report.PeakMemoryMB, report.DurationSec); err != nil {
		log.Debug().Err(err).Msg("publish sandbox result event")
	}
	actions, sigs := detector.Windows()
	if err := fingerprints.Save(baseCtx, runID, actions, sigs); err != nil {
		log.Debug().Err(err).Msg("save fingerprint windows")
	}

	if report.Err != nil {
		return fmt.Errorf("run: %w", report.Err)
	}
	fmt.Println(report.Outcome.FinalText)
	return nil
}
