package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/model"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Inspect scored matches",
}

var matchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List matches, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		decision, _ := cmd.Flags().GetString("decision")
		fingerprint, _ := cmd.Flags().GetString("fingerprint")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		matches, err := st.ListMatches(ctx, ledger.MatchFilter{
			FingerprintID: fingerprint,
			Decision:      model.DecisionTier(decision),
			Limit:         limit,
		})
		if err != nil {
			return eris.Wrap(err, "matches list")
		}

		if len(matches) == 0 {
			fmt.Fprintln(os.Stderr, "No matches found.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(matches)
		}

		formatMatches(os.Stdout, matches)
		return nil
	},
}

func init() {
	matchesListCmd.Flags().String("decision", "", "filter by decision tier (buy, watch, ignore, no_evidence)")
	matchesListCmd.Flags().String("fingerprint", "", "filter by fingerprint id")
	matchesListCmd.Flags().Int("limit", 50, "max matches to display")
	matchesListCmd.Flags().Bool("json", false, "emit full JSON including the reasons trail")

	matchesCmd.AddCommand(matchesListCmd)
	rootCmd.AddCommand(matchesCmd)
}

func formatMatches(out io.Writer, matches []model.Match) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFINGERPRINT\tLISTING\tSCORE\tDECISION\tCONF\tGAP\tREV\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t-----------\t-------\t-----\t--------\t----\t---\t---\t-------")

	for _, m := range matches {
		gap := "-"
		if m.GapAbs != nil && m.GapPct != nil {
			gap = fmt.Sprintf("$%.0f (%.0f%%)", *m.GapAbs, *m.GapPct*100)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(m.ID), m.FingerprintID, m.ListingID,
			m.Score, m.Decision, m.Confidence, gap, m.Revision,
			m.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
