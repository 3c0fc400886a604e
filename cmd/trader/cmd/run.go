package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"trades-ai/internal/config"
	"trades-ai/internal/kernel"
	"trades-ai/internal/notify"
	"trades-ai/internal/runmanager"
	"trades-ai/internal/runstore"
)

var (
	runConfigPath string
	runStrict     bool
	runStream     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a run config and execute it to completion",
	Long: `run decodes a run config document (YAML or JSON), submits it to an
in-process RunManager, and blocks until the run reaches a terminal status.

Example:
  trader run -f configs/run_moving_average.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "file", "f", "", "path to the run config document (YAML or JSON) (required)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "reject unknown keys in the run config document")
	runCmd.Flags().BoolVar(&runStream, "stream", true, "print pipeline events to stdout as they occur")
	runCmd.MarkFlagRequired("file")
}

// exitCodeFor maps a run's terminal status to a process exit code: 0 for
// success, and distinct non-zero codes for canceled vs. any other failure.
// The controller only records the coarse runstore.Status, not the worker's
// finer kernel.ExitReason, so feed_error and internal_error both surface
// as a generic failure code here; the distinguishing reason is still
// available in the run's last-error text.
func exitCodeFor(status runstore.Status) int {
	switch status {
	case runstore.StatusSucceeded:
		return 0
	case runstore.StatusCanceled:
		return 3
	default:
		return 1
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctrl, err := openController()
	if err != nil {
		return err
	}
	defer ctrl.close()

	raw, err := os.ReadFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("read run config: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse run config: %w", err)
	}
	rc, err := config.LoadRunConfig(doc, runStrict)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config_invalid: %v\n", err)
		os.Exit(1)
	}

	var outbox *notify.Outbox
	var bridge *notify.Bridge
	var dispatcher *notify.Dispatcher
	if rc.Notifications.Enabled {
		outbox, err = notify.NewOutbox(ctrl.sqlite.DB(), ctrl.cfg.Outbox.MaxAttempts, ctrl.cfg.Outbox.RetryBaseDelay, ctrl.cfg.Outbox.RetryMaxDelay)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		dedupeTTL := time.Duration(rc.Notifications.DedupeTTLS) * time.Second
		if dedupeTTL <= 0 {
			dedupeTTL = ctrl.cfg.Outbox.DedupeTTL
		}
		bridge = notify.NewBridge(notify.ParseSeverity(rc.Notifications.MinLevel), dedupeTTL)

		routes := make([]notify.Route, 0, len(rc.Notifications.Channels))
		for _, ch := range rc.Notifications.Channels {
			var adapter notify.ChannelAdapter
			switch ch.Type {
			case "webhook", "discord", "slack":
				adapter = notify.NewWebhookAdapter(ch.Destination)
			default:
				ctrl.logger.Warn("skipping notification channel of unknown type", zap.String("type", ch.Type))
				continue
			}
			routes = append(routes, notify.Route{Adapter: adapter, MinSeverity: notify.ParseSeverity(ch.MinSeverity)})
		}
		dispatcher = notify.NewDispatcher(outbox, routes, ctrl.cfg.Outbox.Workers, ctrl.cfg.Outbox.BatchSize, ctrl.cfg.Outbox.PollInterval, ctrl.cfg.Outbox.LeaseDuration, ctrl.logger)
	}

	mgr := runmanager.New(ctrl.cfg.Orchestrator, ctrl.runs, ctrl.sqlite.DB(), outbox, bridge, ctrl.cfg.Outbox.DedupeTTL, ctrl.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dispatcher != nil {
		dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
		defer cancelDispatcher()
		go func() {
			if err := dispatcher.Run(dispatcherCtx); err != nil && dispatcherCtx.Err() == nil {
				ctrl.logger.Warn("notification dispatcher stopped", zap.Error(err))
			}
		}()
	}

	runID, err := mgr.Submit(ctx, rc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("run %s submitted\n", runID)

	go func() {
		<-ctx.Done()
		fmt.Println("interrupt received, canceling run...")
		if err := mgr.Cancel(context.Background(), runID); err != nil {
			ctrl.logger.Warn("cancel request failed", zap.Error(err))
		}
	}()

	if runStream {
		if replay, live, unsubscribe, err := mgr.Stream(runID); err == nil {
			for _, ev := range replay {
				printEvent(ev)
			}
			go func() {
				for ev := range live {
					printEvent(ev)
				}
			}()
			defer unsubscribe()
		}
	}

	run := waitForTerminalStatus(ctrl, runID)

	if dispatcher != nil {
		// Give the dispatcher a few more passes to flush intents the run
		// just enqueued before the process exits.
		flushWindow := 5*ctrl.cfg.Outbox.PollInterval + ctrl.cfg.Outbox.LeaseDuration
		time.Sleep(flushWindow)
	}

	fmt.Printf("run %s finished: status=%s error=%q\n", run.ID, run.Status, run.LastError)

	if code := exitCodeFor(run.Status); code != 0 {
		os.Exit(code)
	}
	return nil
}

// waitForTerminalStatus polls the durable store until runID leaves the
// pending/running states. There is no local completion signal to block on
// here beyond the store itself: the worker goroutine runs inside the
// manager, not this function.
func waitForTerminalStatus(ctrl *controller, runID string) *runstore.Run {
	ctx := context.Background()
	for {
		run, err := ctrl.runs.Get(ctx, runID)
		if err != nil {
			ctrl.logger.Warn("failed to poll run status", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		switch run.Status {
		case runstore.StatusSucceeded, runstore.StatusFailed, runstore.StatusCanceled:
			return run
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printEvent(ev kernel.Event) {
	fmt.Printf("[%s] seq=%d run=%s\n", ev.Kind, ev.Seq, ev.RunID)
}
