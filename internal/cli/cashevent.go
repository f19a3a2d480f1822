package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/money"
	"github.com/roach88/tillsync/internal/pos"
)

// CashEventResult is the output of cash-event record.
type CashEventResult struct {
	Event     pos.CashEvent `json:"event"`
	CommandID string        `json:"command_id"`
}

// NewCashEventCommand creates the cash-event command group.
func NewCashEventCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cash-event",
		Short: "Record and list drawer movements",
	}
	cmd.AddCommand(newCashEventRecordCommand(rootOpts))
	cmd.AddCommand(newCashEventListCommand(rootOpts))
	return cmd
}

func newCashEventRecordCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in  pos.CashEventInput
		typ string
	)

	cmd := &cobra.Command{
		Use:   "record <shift-id> --type <type> --amount <minor>",
		Short: "Record a PAID_IN or PAID_OUT drawer movement",
		Example: `  tillsync cash-event record shift-1 --type PAID_OUT --amount 1500 --reason "milk"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ShiftID = args[0]
			in.Type = pos.CashEventType(typ)
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ev, command, err := a.store.RecordCashEvent(cmd.Context(), in)
			if err != nil {
				return classify("record cash event", err)
			}
			res := CashEventResult{Event: ev, CommandID: command.ID}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Event\t%s\n", ev.ID)
				fmt.Fprintf(w, "Shift\t%s (#%d)\n", ev.ShiftID, ev.Seq)
				fmt.Fprintf(w, "Type\t%s\n", ev.Type)
				fmt.Fprintf(w, "Amount\t%s\n", money.Format(ev.Amount))
				fmt.Fprintf(w, "Command\t%s\n", command.ID)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "PAID_IN or PAID_OUT")
	cmd.Flags().Int64Var(&in.Amount, "amount", 0, "amount in minor units")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "why the drawer moved")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newCashEventListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <shift-id>",
		Short: "List a shift's cash events in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.store.GetShift(cmd.Context(), args[0]); err != nil {
				return classify("get shift", err)
			}
			events, err := a.store.ListCashEvents(cmd.Context(), args[0])
			if err != nil {
				return classify("list cash events", err)
			}
			if events == nil {
				events = []pos.CashEvent{}
			}
			return rootOpts.formatter(cmd).Success(events, func(w io.Writer) {
				fmt.Fprintln(w, "SEQ\tTYPE\tAMOUNT\tSYNC\tREASON")
				for _, ev := range events {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.Type, money.Format(ev.Amount), ev.SyncStatus, ev.Reason)
				}
			})
		},
	}
}
