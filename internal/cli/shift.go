package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/money"
	"github.com/roach88/tillsync/internal/pos"
)

// ShiftResult is the output of the shift subcommands.
type ShiftResult struct {
	Shift     pos.ShiftSession `json:"shift"`
	CommandID string           `json:"command_id,omitempty"`
}

// VerifyResult is the output of shift verify.
type VerifyResult struct {
	ShiftID    string `json:"shift_id"`
	Consistent bool   `json:"consistent"`
}

// NewShiftCommand creates the shift command group.
func NewShiftCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Open, close and inspect register shifts",
	}
	cmd.AddCommand(newShiftOpenCommand(rootOpts))
	cmd.AddCommand(newShiftCloseCommand(rootOpts))
	cmd.AddCommand(newShiftCurrentCommand(rootOpts))
	cmd.AddCommand(newShiftShowCommand(rootOpts))
	cmd.AddCommand(newShiftVerifyCommand(rootOpts))
	return cmd
}

func newShiftOpenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in           pos.OpenShiftInput
		startingCash int64
	)

	cmd := &cobra.Command{
		Use:   "open --register <id> --by <cashier>",
		Short: "Open a shift on a register",
		Example: `  tillsync shift open --register reg-1 --by cashier-1 --starting-cash 5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("starting-cash") {
				in.StartingCash = &startingCash
			}
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if in.WorkspaceID == "" {
				in.WorkspaceID = a.cfg.WorkspaceID
			}
			shift, command, err := a.store.OpenShift(cmd.Context(), in)
			if err != nil {
				return classify("open shift", err)
			}
			res := ShiftResult{Shift: shift, CommandID: command.ID}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
	cmd.Flags().StringVar(&in.WorkspaceID, "workspace", "", "workspace id (default: configured workspace)")
	cmd.Flags().StringVar(&in.RegisterID, "register", "", "register id")
	cmd.Flags().StringVar(&in.OpenedBy, "by", "", "cashier opening the shift")
	cmd.Flags().Int64Var(&startingCash, "starting-cash", 0, "counted float in minor units")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "free-form notes")
	return cmd
}

func newShiftCloseCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in          pos.CloseShiftInput
		closingCash int64
	)

	cmd := &cobra.Command{
		Use:   "close <shift-id> --by <cashier>",
		Short: "Close a shift, optionally with a counted drawer",
		Example: `  tillsync shift close shift-1 --by cashier-1 --closing-cash 11400`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ShiftID = args[0]
			if cmd.Flags().Changed("closing-cash") {
				in.ClosingCash = &closingCash
			}
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			shift, command, err := a.store.CloseShift(cmd.Context(), in)
			if err != nil {
				return classify("close shift", err)
			}
			res := ShiftResult{Shift: shift, CommandID: command.ID}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
	cmd.Flags().StringVar(&in.ClosedBy, "by", "", "cashier closing the shift")
	cmd.Flags().Int64Var(&closingCash, "closing-cash", 0, "counted drawer in minor units")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "free-form notes")
	return cmd
}

func newShiftCurrentCommand(rootOpts *RootOptions) *cobra.Command {
	var registerID string

	cmd := &cobra.Command{
		Use:   "current --register <id>",
		Short: "Show the open shift on a register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			shift, err := a.store.GetCurrentOpenShift(cmd.Context(), registerID)
			if err != nil {
				return classify("current shift", err)
			}
			res := ShiftResult{Shift: shift}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
	cmd.Flags().StringVar(&registerID, "register", "", "register id (required)")
	cmd.MarkFlagRequired("register")
	return cmd
}

func newShiftShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <shift-id>",
		Short: "Show a shift and its totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			shift, err := a.store.GetShift(cmd.Context(), args[0])
			if err != nil {
				return classify("get shift", err)
			}
			res := ShiftResult{Shift: shift}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
}

func newShiftVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <shift-id>",
		Short: "Recompute a shift's totals from its sales",
		Long: `Recompute total sales and cash received from the shift's recorded sales
and compare them with the stored totals. A mismatch exits 1 with
INVARIANT_VIOLATION; nothing is repaired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.VerifyShift(cmd.Context(), args[0]); err != nil {
				return classify("verify shift", err)
			}
			res := VerifyResult{ShiftID: args[0], Consistent: true}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Shift %s totals match its sales\n", res.ShiftID)
			})
		},
	}
}

func (r ShiftResult) text(w io.Writer) {
	s := r.Shift
	fmt.Fprintf(w, "Shift\t%s\n", s.ID)
	fmt.Fprintf(w, "Register\t%s\n", s.RegisterID)
	fmt.Fprintf(w, "Status\t%s\n", s.Status)
	fmt.Fprintf(w, "Opened\t%s by %s\n", s.OpenedAt.Format(timeLayout), s.OpenedBy)
	writeAmount(w, "Starting cash", s.StartingCash)
	fmt.Fprintf(w, "Total sales\t%s\n", money.Format(s.TotalSales))
	fmt.Fprintf(w, "Cash received\t%s\n", money.Format(s.TotalCashReceived))
	if s.ClosedAt != nil {
		fmt.Fprintf(w, "Closed\t%s by %s\n", s.ClosedAt.Format(timeLayout), s.ClosedBy)
	}
	writeAmount(w, "Closing cash", s.ClosingCash)
	writeAmount(w, "Expected cash", s.ExpectedCash)
	writeAmount(w, "Variance", s.Variance)
	fmt.Fprintf(w, "Sync\t%s\n", s.SyncStatus)
	if s.LastSyncError != "" {
		fmt.Fprintf(w, "Last error\t%s\n", s.LastSyncError)
	}
	if r.CommandID != "" {
		fmt.Fprintf(w, "Command\t%s\n", r.CommandID)
	}
}

func writeAmount(w io.Writer, label string, v *int64) {
	if v != nil {
		fmt.Fprintf(w, "%s\t%s\n", label, money.Format(*v))
	}
}
