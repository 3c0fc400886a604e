package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every run recorded in the durable store",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctrl, err := openController()
	if err != nil {
		return err
	}
	defer ctrl.close()

	runs, err := ctrl.runs.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n", run.ID, run.Name, run.Status, run.Progress*100, run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
