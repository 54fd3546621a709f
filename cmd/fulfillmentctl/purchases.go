package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func purchasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchases",
		Short: "Inspect and update the purchase ledger",
	}
	cmd.AddCommand(purchasesListCmd())
	cmd.AddCommand(purchasesProcessCmd())
	return cmd
}

func purchasesListCmd() *cobra.Command {
	var (
		asJSON      bool
		pendingOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List purchases in ledger order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			purchases, err := svc.purchases.List(cmd.Context())
			if err != nil {
				return err
			}
			if pendingOnly {
				pending := purchases[:0]
				for _, p := range purchases {
					if !p.Processed {
						pending = append(pending, p)
					}
				}
				purchases = pending
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(purchases)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tEMAIL\tPACKAGE\tAMOUNT\tPROCESSED\tTIMESTAMP")
			for _, p := range purchases {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%t\t%s\n",
					p.StripeSessionID, p.CustomerEmail, p.PackageName, p.Amount, p.Processed, p.Timestamp.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only unprocessed purchases")
	return cmd
}

func purchasesProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [session-id]",
		Short: "Mark a purchase processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			p, err := svc.purchases.MarkProcessed(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("process %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %s (%s, %s)\n", p.StripeSessionID, p.CustomerEmail, p.PackageName)
			return nil
		},
	}
}
