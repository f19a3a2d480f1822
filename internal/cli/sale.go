package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/money"
	"github.com/roach88/tillsync/internal/pos"
)

// SaleResult is the output of sale finalize and sale show.
type SaleResult struct {
	Sale      pos.Sale `json:"sale"`
	CommandID string   `json:"command_id,omitempty"`
}

// NewSaleCommand creates the sale command group.
func NewSaleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Finalize and inspect sales",
	}
	cmd.AddCommand(newSaleFinalizeCommand(rootOpts))
	cmd.AddCommand(newSaleShowCommand(rootOpts))
	cmd.AddCommand(newSaleListCommand(rootOpts))
	return cmd
}

func newSaleFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	var in InputOptions

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Record a completed sale and queue it for sync",
		Long: `Record a completed sale locally and queue its SaleFinalize command.

Amounts are integer minor units. workspace_id defaults to the configured
workspace.

Example:
  tillsync sale finalize --json '{"register_id":"reg-1","cashier_id":"c-1",
    "lines":[{"product_id":"p-1","name":"Coffee","quantity":2,"unit_price":350}],
    "payments":[{"method":"CASH","amount":1000}]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sale pos.SaleInput
			if err := in.decode(cmd, &sale); err != nil {
				return err
			}
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if sale.WorkspaceID == "" {
				sale.WorkspaceID = a.cfg.WorkspaceID
			}

			recorded, command, err := a.store.FinalizeSale(cmd.Context(), sale)
			if err != nil {
				return classify("finalize sale", err)
			}
			res := SaleResult{Sale: recorded, CommandID: command.ID}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
	in.bind(cmd, "sale")
	return cmd
}

func newSaleShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sale-id>",
		Short: "Show a sale and its sync state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			sale, err := a.store.GetSale(cmd.Context(), args[0])
			if err != nil {
				return classify("get sale", err)
			}
			res := SaleResult{Sale: sale}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
}

func newSaleListCommand(rootOpts *RootOptions) *cobra.Command {
	var shiftID string

	cmd := &cobra.Command{
		Use:   "list --shift <shift-id>",
		Short: "List the sales recorded in a shift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			sales, err := a.store.ListSales(cmd.Context(), shiftID)
			if err != nil {
				return classify("list sales", err)
			}
			if sales == nil {
				sales = []pos.Sale{}
			}
			return rootOpts.formatter(cmd).Success(sales, func(w io.Writer) {
				fmt.Fprintln(w, "SALE\tTOTAL\tSYNC\tRECEIPT\tCREATED")
				for _, s := range sales {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, money.Format(s.GrandTotal), s.Status, s.ReceiptNumber, s.CreatedAt.Format(timeLayout))
				}
			})
		},
	}
	cmd.Flags().StringVar(&shiftID, "shift", "", "shift id (required)")
	cmd.MarkFlagRequired("shift")
	return cmd
}

const timeLayout = "2006-01-02 15:04:05Z07:00"

func (r SaleResult) text(w io.Writer) {
	s := r.Sale
	fmt.Fprintf(w, "Sale\t%s\n", s.ID)
	if s.ShiftID != "" {
		fmt.Fprintf(w, "Shift\t%s\n", s.ShiftID)
	}
	fmt.Fprintf(w, "Total\t%s\n", money.Format(s.GrandTotal))
	if s.ChangeDue > 0 {
		fmt.Fprintf(w, "Change due\t%s\n", money.Format(s.ChangeDue))
	}
	fmt.Fprintf(w, "Sync\t%s\n", s.Status)
	if s.ReceiptNumber != "" {
		fmt.Fprintf(w, "Receipt\t%s\n", s.ReceiptNumber)
	}
	if s.LastSyncError != "" {
		fmt.Fprintf(w, "Last error\t%s\n", s.LastSyncError)
	}
	if r.CommandID != "" {
		fmt.Fprintf(w, "Command\t%s\n", r.CommandID)
	}
}
