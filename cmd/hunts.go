package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

var huntsCmd = &cobra.Command{
	Use:   "hunts",
	Short: "Manage scan subscriptions",
	Long:  "Commands for seeding and inspecting hunts, the per-fingerprint scan subscriptions.",
}

// -- hunts seed --

var huntsSeedCmd = &cobra.Command{
	Use:   "seed [fingerprint-id...]",
	Short: "Create or refresh hunts for fingerprints",
	Long:  "Seeds hunts for the given fingerprint ids, or for every fingerprint in the store with --all.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		priority, _ := cmd.Flags().GetInt("priority")
		interval, _ := cmd.Flags().GetDuration("interval")
		all, _ := cmd.Flags().GetBool("all")

		ids := args
		if all {
			fingerprints, err := initFingerprints()
			if err != nil {
				return err
			}
			for page := 1; ; page++ {
				batch, err := fingerprints.ListFingerprints(ctx, page, cfg.Sources.Fingerprints.PageSize)
				if err != nil {
					return eris.Wrap(err, "hunts seed: list fingerprints")
				}
				if len(batch) == 0 {
					break
				}
				for _, fp := range batch {
					ids = append(ids, fp.ID)
				}
				if len(batch) < cfg.Sources.Fingerprints.PageSize {
					break
				}
			}
		}
		if len(ids) == 0 {
			return eris.New("hunts seed: no fingerprint ids given (pass ids or --all)")
		}

		hunts := make([]model.Hunt, len(ids))
		for i, id := range ids {
			hunts[i] = model.Hunt{FingerprintID: id, Priority: priority, Interval: interval}
		}

		n, err := st.SeedHunts(ctx, hunts)
		if err != nil {
			return eris.Wrap(err, "hunts seed")
		}
		fmt.Printf("Seeded %d hunt(s).\n", n)
		return nil
	},
}

// -- hunts list --

var huntsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hunts currently due for scanning",
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

		limit, _ := cmd.Flags().GetInt("limit")
		hunts, err := st.ListDueHunts(ctx, time.Now().UTC(), limit)
		if err != nil {
			return eris.Wrap(err, "hunts list")
		}

		if len(hunts) == 0 {
			fmt.Fprintln(os.Stderr, "No hunts due.")
			return nil
		}

		formatHunts(os.Stdout, hunts)
		return nil
	},
}

func init() {
	huntsSeedCmd.Flags().Int("priority", 0, "scan priority (higher scans first)")
	huntsSeedCmd.Flags().Duration("interval", time.Hour, "minimum time between scans")
	huntsSeedCmd.Flags().Bool("all", false, "seed a hunt for every fingerprint in the store")

	huntsListCmd.Flags().Int("limit", 50, "max hunts to display")

	huntsCmd.AddCommand(huntsSeedCmd)
	huntsCmd.AddCommand(huntsListCmd)
	rootCmd.AddCommand(huntsCmd)
}

func formatHunts(out io.Writer, hunts []model.Hunt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFINGERPRINT\tPRIORITY\tINTERVAL\tLAST_SCANNED")
	_, _ = fmt.Fprintln(w, "--\t-----------\t--------\t--------\t------------")

	for _, h := range hunts {
		last := "never"
		if h.LastScannedAt != nil {
			last = h.LastScannedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			truncateID(h.ID), h.FingerprintID, h.Priority, h.Interval, last)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
