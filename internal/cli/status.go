package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/triage/internal/control"
	"github.com/vietddude/triage/internal/core/config"
)

var runsLimit int

var statusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Show the status of a run",
	Args:  cobra.ExactArgs(1),
	Run:   exitOnError(runStatus),
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	Run:   exitOnError(runRuns),
}

var abandonCmd = &cobra.Command{
	Use:   "abandon [run_id] [reason]",
	Short: "Mark an unfinished run as failed so it is never resumed",
	Args:  cobra.RangeArgs(1, 2),
	Run:   exitOnError(runAbandon),
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd, runsCmd, abandonCmd)
}

// withAdmin opens the configured store for fn and closes it once fn returns.
func withAdmin(ctx context.Context, cfg *config.AppConfig, fn func(*control.Admin) error) error {
	admin, err := control.OpenAdmin(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		_ = admin.Close()
	}()
	return fn(admin)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withAdmin(ctx, loadConfig(), func(admin *control.Admin) error {
		st, err := admin.Host.Status(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch status of %s: %w", args[0], err)
		}
		printJSON(st)
		return nil
	})
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withAdmin(ctx, loadConfig(), func(admin *control.Admin) error {
		runs, err := admin.Host.List(ctx, runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTATE\tPROGRESS\tFAILED\tTRIGGERED BY\tCREATED\tDESCRIPTION")
		for _, st := range runs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\t%s\n",
				st.ID, st.Status, st.State,
				st.Progress.Cursor, st.Progress.Total, st.Progress.Failed,
				st.TriggeredBy, st.CreatedAt.Format(time.RFC3339), st.Description)
		}
		return w.Flush()
	})
}

func runAbandon(cmd *cobra.Command, args []string) error {
	reason := ""
	if len(args) > 1 {
		reason = args[1]
	}

	ctx := context.Background()
	return withAdmin(ctx, loadConfig(), func(admin *control.Admin) error {
		if err := admin.Host.Abandon(ctx, args[0], reason); err != nil {
			return fmt.Errorf("failed to abandon run %s: %w", args[0], err)
		}
		fmt.Printf("Run %s marked as failed\n", args[0])
		return nil
	})
}
