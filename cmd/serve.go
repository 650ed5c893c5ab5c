package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
	"github.com/nextlevelbuilder/teamdrive/internal/config"
	"github.com/nextlevelbuilder/teamdrive/internal/control"
	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/drive"
	"github.com/nextlevelbuilder/teamdrive/internal/mindset"
	"github.com/nextlevelbuilder/teamdrive/internal/policy"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
	"github.com/nextlevelbuilder/teamdrive/internal/runstate"
	"github.com/nextlevelbuilder/teamdrive/internal/sched"
	"github.com/nextlevelbuilder/teamdrive/internal/store"
	"github.com/nextlevelbuilder/teamdrive/internal/subdialog"
	"github.com/nextlevelbuilder/teamdrive/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dialog driver and control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	cfg.SetupLogger()

	minds, err := mindset.NewLoader(cfg.Workspace)
	if err != nil {
		return err
	}
	defer minds.Close()

	st, err := store.New(cfg.Workspace)
	if err != nil {
		return err
	}

	arena := dialog.NewArena()
	events := bus.New()
	runs := runstate.NewRegistry(events)

	caller, err := buildCaller(minds, arena, events)
	if err != nil {
		return err
	}

	var tracer trace.Tracer
	if cfg.Telemetry.Enabled {
		tracer = otel.Tracer(cfg.Telemetry.ServiceName)
	}

	baseTools := tools.NewRegistry()
	baseTools.Register(tools.ShellTool(cfg.Workspace, 0))
	for _, t := range tools.FileTools(cfg.Workspace) {
		baseTools.Register(t)
	}

	driver := &drive.Driver{
		Arena:       arena,
		Minds:       minds,
		Policy:      &policy.Builder{Minds: minds},
		Tools:       baseTools,
		Caller:      caller,
		Store:       st,
		Runs:        runs,
		Events:      events,
		Tracer:      tracer,
		DefaultLang: cfg.DefaultLang,
	}

	scheduler := sched.New(arena, st, driver.DriveStream)
	subMgr := &subdialog.Manager{
		Arena:  arena,
		Minds:  minds,
		Store:  st,
		Events: events,
		Queue:  scheduler,
	}
	driver.Spawner = subMgr
	scheduler.PostDrive = func(d *dialog.Dialog, req drive.Request, out *drive.Outputs) {
		var target *dialog.ReplyTarget
		if req.Prompt != nil {
			target = req.Prompt.SubdialogReplyTarget
		}
		if err := subMgr.DeliverAnswer(d, target, out); err != nil {
			slog.Error("subdialog delivery failed", "dialog", d.ID.Self, "error", err)
		}
	}

	srv := &control.Server{
		Arena:       arena,
		Minds:       minds,
		Store:       st,
		Runs:        runs,
		Events:      events,
		Queue:       scheduler,
		DefaultLang: cfg.DefaultLang,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Restore()
		scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(cfg.Control.Addr())
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("control server shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

// buildCaller assembles the retrying provider caller from .minds/llm.yaml.
func buildCaller(minds *mindset.Loader, arena *dialog.Arena, events *bus.Bus) (*provider.Caller, error) {
	llm, err := minds.LLM()
	if err != nil {
		return nil, err
	}
	pcfg, ok := llm.Providers[llm.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("llm.yaml: default provider %q is not defined", llm.DefaultProvider)
	}

	var p provider.Provider
	switch pcfg.Kind {
	case "openai", "":
		apiKey := ""
		if pcfg.APIKeyEnv != "" {
			apiKey = os.Getenv(pcfg.APIKeyEnv)
		}
		p = provider.NewOpenAI(llm.DefaultProvider, apiKey, pcfg.BaseURL)
	default:
		return nil, fmt.Errorf("llm.yaml: unsupported provider kind %q", pcfg.Kind)
	}

	onRetry := func(dialogID string, ev provider.RetryEvent) {
		rootID := dialogID
		if d, err := arena.Get(dialogID); err == nil {
			rootID = d.ID.Root
		}
		events.Publish(bus.Event{
			Type:     bus.EventLLMRetry,
			RootID:   rootID,
			DialogID: dialogID,
			Payload:  ev,
		})
	}
	return provider.NewCaller(p, pcfg.Retry.ToRetryConfig(), pcfg.RateLimitRPM, onRetry), nil
}
