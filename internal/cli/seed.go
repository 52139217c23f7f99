package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/triage/internal/control"
)

var seedCmd = &cobra.Command{
	Use:   "seed [csv_file]",
	Short: "Insert feedback rows from a CSV file with source,text columns",
	Args:  cobra.ExactArgs(1),
	Run:   exitOnError(runSeed),
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedRow struct {
	Source string
	Text   string
}

// readSeed parses source,text records. A leading "source,text" header is skipped.
func readSeed(r io.Reader) ([]seedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var rows []seedRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "source") && strings.EqualFold(rec[1], "text") {
			continue
		}
		source, text := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if source == "" || text == "" {
			return nil, fmt.Errorf("line %d: source and text are required", line)
		}
		rows = append(rows, seedRow{Source: source, Text: text})
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("cannot open seed file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows, err := readSeed(f)
	if err != nil {
		return fmt.Errorf("invalid seed file: %w", err)
	}

	ctx := context.Background()
	return withAdmin(ctx, loadConfig(), func(admin *control.Admin) error {
		if !admin.Store.Persistent() {
			slog.Warn("No database configured, seeded rows will not outlive this command")
		}
		for _, row := range rows {
			if _, err := admin.Store.Feedback.Create(ctx, row.Source, row.Text); err != nil {
				return fmt.Errorf("failed to insert feedback from %s: %w", row.Source, err)
			}
		}
		fmt.Printf("Inserted %d feedback rows\n", len(rows))
		return nil
	})
}
