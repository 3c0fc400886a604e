package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one run's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctrl, err := openController()
	if err != nil {
		return err
	}
	defer ctrl.close()

	run, err := ctrl.runs.Get(context.Background(), args[0])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no such run: %s", args[0])
		}
		return err
	}

	fmt.Printf("id:        %s\n", run.ID)
	fmt.Printf("name:      %s\n", run.Name)
	fmt.Printf("status:    %s\n", run.Status)
	fmt.Printf("progress:  %.1f%%\n", run.Progress*100)
	fmt.Printf("created:   %s\n", run.CreatedAt)
	if run.StartedAt != nil {
		fmt.Printf("started:   %s\n", *run.StartedAt)
	}
	if run.FinishedAt != nil {
		fmt.Printf("finished:  %s\n", *run.FinishedAt)
	}
	if run.LastError != "" {
		fmt.Printf("lastError: %s\n", run.LastError)
	}
	return nil
}
