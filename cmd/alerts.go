package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gavelhound/sourcing-cli/internal/ledger"
	"github.com/gavelhound/sourcing-cli/internal/model"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and acknowledge alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
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

		unacked, _ := cmd.Flags().GetBool("unacked")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		alerts, err := st.ListAlerts(ctx, ledger.AlertFilter{
			Unacknowledged: unacked,
			Type:           model.AlertType(typ),
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}

		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}

		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
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

		if err := st.AcknowledgeAlert(ctx, args[0], time.Now().UTC()); err != nil {
			return eris.Wrap(err, "alerts ack")
		}
		fmt.Printf("Acknowledged %s.\n", args[0])
		return nil
	},
}

func init() {
	alertsListCmd.Flags().Bool("unacked", false, "only unacknowledged alerts")
	alertsListCmd.Flags().String("type", "", "filter by alert type (buy, watch)")
	alertsListCmd.Flags().Int("limit", 50, "max alerts to display")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)
	rootCmd.AddCommand(alertsCmd)
}

func formatAlerts(out io.Writer, alerts []model.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tVEHICLE\tSCORE\tGAP\tACKED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t-----\t---\t-----\t-------")

	for _, a := range alerts {
		gap := "-"
		if a.Payload.GapAbs != nil {
			gap = fmt.Sprintf("$%.0f", *a.Payload.GapAbs)
		}
		acked := ""
		if a.AcknowledgedAt != nil {
			acked = a.AcknowledgedAt.Format("2006-01-02 15:04")
		}
		vehicle := a.Payload.Vehicle
		if len(vehicle) > 30 {
			vehicle = vehicle[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%s\t%s\n",
			truncateID(a.ID), a.Type, vehicle, a.Payload.Score, gap, acked,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
