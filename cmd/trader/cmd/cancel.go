package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trades-ai/internal/runstore"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Mark a run canceled",
	Long: `cancel marks a run canceled in the durable store.

This CLI is a one-shot process: it holds no live RunManager for a run
submitted by a previous "trader run" invocation, so cancellation here is a
best-effort direct status transition rather than a cooperative signal
delivered to a live worker. A run still actively executing under its own
"trader run" invocation should be interrupted there (Ctrl-C) instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctrl, err := openController()
	if err != nil {
		return err
	}
	defer ctrl.close()

	ctx := context.Background()
	run, err := ctrl.runs.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no such run: %s", args[0])
		}
		return err
	}

	switch run.Status {
	case runstore.StatusSucceeded, runstore.StatusFailed, runstore.StatusCanceled:
		return fmt.Errorf("run %s already terminal (%s)", run.ID, run.Status)
	}

	if err := ctrl.runs.Transition(ctx, run.ID, runstore.StatusCanceled, "canceled by operator"); err != nil {
		return err
	}
	fmt.Printf("run %s marked canceled\n", run.ID)
	return nil
}
