package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gavelhound/sourcing-cli/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan batch over due hunts",
	Long:  "Claims due hunts, scores candidate listings against their fingerprints, persists matches and emits alerts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if batchSize, _ := cmd.Flags().GetInt("batch-size"); batchSize > 0 {
			cfg.Scan.BatchSize = batchSize
		}

		orch, err := initOrchestrator(st)
		if err != nil {
			return err
		}

		report, err := orch.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "scan")
		}

		formatBatchReport(report)
		return nil
	},
}

func init() {
	scanCmd.Flags().Int("batch-size", 0, "max hunts to claim this batch (default from config)")
	rootCmd.AddCommand(scanCmd)
}

func formatBatchReport(r scan.BatchReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Hunts claimed:\t%d\n", r.HuntsClaimed)
	_, _ = fmt.Fprintf(w, "Scans ok:\t%d\n", r.ScansOK)
	if r.ScansPartial > 0 {
		_, _ = fmt.Fprintf(w, "  Partial:\t%d\n", r.ScansPartial)
	}
	_, _ = fmt.Fprintf(w, "Scans failed:\t%d\n", r.ScansFailed)
	_, _ = fmt.Fprintf(w, "Candidates checked:\t%d\n", r.CandidatesChecked)
	_, _ = fmt.Fprintf(w, "Matches found:\t%d\n", r.MatchesFound)
	_, _ = fmt.Fprintf(w, "Alerts emitted:\t%d\n", r.AlertsEmitted)
	_ = w.Flush()
}
