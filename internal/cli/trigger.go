package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/triage/internal/control"
	"github.com/vietddude/triage/internal/workflow"
)

var triggeredBy string

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run a classification pass in this process and print its result",
	Args:  cobra.NoArgs,
	Run:   exitOnError(runTrigger),
}

func init() {
	triggerCmd.Flags().StringVar(&triggeredBy, "by", "cli", "recorded trigger source")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()

	final, err := triggerAndWait(ctx, app.Host(), triggeredBy)
	if final != nil {
		printJSON(final)
	}
	return err
}

// triggerAndWait starts a run and blocks until it finishes. A failed run
// returns its final status together with an error.
func triggerAndWait(ctx context.Context, host *workflow.Host, by string) (*workflow.Status, error) {
	st, err := host.Trigger(ctx, by)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger run: %w", err)
	}
	slog.Info("Run started", "run", st.ID)

	final, err := host.Wait(ctx, st.ID)
	if err != nil {
		// Interrupted runs keep their state and resume on the next serve.
		return nil, fmt.Errorf("run %s did not finish: %w", st.ID, err)
	}
	if final.Output == nil {
		return final, fmt.Errorf("run %s ended %s: %s", st.ID, final.State, final.Error)
	}
	return final, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
