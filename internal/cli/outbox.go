package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/pos"
)

// CommandDetail is the output of outbox show.
type CommandDetail struct {
	Command     pos.Command             `json:"command"`
	Transitions []pos.CommandTransition `json:"transitions"`
}

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and operate the sync outbox",
	}
	cmd.AddCommand(newOutboxListCommand(rootOpts))
	cmd.AddCommand(newOutboxShowCommand(rootOpts))
	cmd.AddCommand(newOutboxSummaryCommand(rootOpts))
	cmd.AddCommand(newOutboxRetryCommand(rootOpts))
	cmd.AddCommand(newOutboxDropCommand(rootOpts))
	return cmd
}

func newOutboxListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filter pos.CommandFilter
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox commands in admission order",
		Example: `  tillsync outbox list --status FAILED
  tillsync outbox list --entity sale-42 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = pos.CommandStatus(status)
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			cmds, err := a.store.ListCommands(cmd.Context(), filter)
			if err != nil {
				return classify("list commands", err)
			}
			if cmds == nil {
				cmds = []pos.Command{}
			}
			return rootOpts.formatter(cmd).Success(cmds, func(w io.Writer) {
				fmt.Fprintln(w, "SEQ\tCOMMAND\tTYPE\tENTITY\tSTATUS\tATTEMPTS\tLAST ERROR")
				for _, c := range cmds {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n", c.Seq, c.ID, c.Type, c.EntityID, commandState(c), c.Attempts, c.LastError)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only commands in this status")
	cmd.Flags().StringVar(&filter.WorkspaceID, "workspace", "", "only commands of this workspace")
	cmd.Flags().StringVar(&filter.EntityID, "entity", "", "only commands for this entity")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum commands to list (0 for all)")
	return cmd
}

func newOutboxShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <command-id>",
		Short: "Show a command and its transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.store.GetCommand(cmd.Context(), args[0])
			if err != nil {
				return classify("get command", err)
			}
			ts, err := a.store.ListTransitions(cmd.Context(), c.ID)
			if err != nil {
				return classify("list transitions", err)
			}
			if ts == nil {
				ts = []pos.CommandTransition{}
			}
			res := CommandDetail{Command: c, Transitions: ts}
			return rootOpts.formatter(cmd).Success(res, res.text)
		},
	}
}

func newOutboxSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count commands per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			counts, err := a.store.CountCommands(cmd.Context())
			if err != nil {
				return classify("count commands", err)
			}
			return rootOpts.formatter(cmd).Success(counts, func(w io.Writer) {
				statuses := make([]string, 0, len(counts))
				for s := range counts {
					statuses = append(statuses, string(s))
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%d\n", s, counts[pos.CommandStatus(s)])
				}
			})
		},
	}
}

func newOutboxRetryCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [command-id | --all]",
		Short: "Return FAILED commands to PENDING",
		Long: `Return a FAILED command, or with --all every FAILED command that was not
dropped, to PENDING so the next sync sends it again. Fatal commands are
only ever retried this way.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return NewExitError(ExitCommandError, ErrCodeInput, "give a command id or --all, not both")
			}
			if !all && len(args) != 1 {
				return NewExitError(ExitCommandError, ErrCodeInput, "a command id or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			d := a.dispatcher()

			var retried []pos.Command
			if all {
				retried, err = d.RetryFailedCommands(cmd.Context())
			} else {
				var c pos.Command
				c, err = d.RetryFailedCommand(cmd.Context(), args[0])
				retried = []pos.Command{c}
			}
			if err != nil {
				return classify("retry", err)
			}
			if retried == nil {
				retried = []pos.Command{}
			}
			return rootOpts.formatter(cmd).Success(retried, func(w io.Writer) {
				fmt.Fprintf(w, "%d commands returned to PENDING\n", len(retried))
				for _, c := range retried {
					fmt.Fprintf(w, "  %s\t%s\t%s\n", c.ID, c.Type, c.EntityID)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "retry every FAILED command")
	return cmd
}

func newOutboxDropCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "drop <command-id>",
		Short: "Abandon sync for a command",
		Long: `Mark a FAILED or PENDING command as dropped. It stays in the outbox for
audit but is never sent again and cannot be retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.dispatcher().DropCommand(cmd.Context(), args[0], reason)
			if err != nil {
				return classify("drop", err)
			}
			return rootOpts.formatter(cmd).Success(c, func(w io.Writer) {
				fmt.Fprintf(w, "Dropped %s (%s %s)\n", c.ID, c.Type, c.EntityID)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the command is abandoned")
	return cmd
}

func commandState(c pos.Command) string {
	switch {
	case c.Dropped():
		return "DROPPED"
	case c.Status == pos.CommandFailed && c.Fatal:
		return "FAILED (fatal)"
	default:
		return string(c.Status)
	}
}

func (d CommandDetail) text(w io.Writer) {
	c := d.Command
	fmt.Fprintf(w, "Command\t%s (#%d)\n", c.ID, c.Seq)
	fmt.Fprintf(w, "Type\t%s\n", c.Type)
	fmt.Fprintf(w, "Entity\t%s\n", c.EntityID)
	fmt.Fprintf(w, "Workspace\t%s\n", c.WorkspaceID)
	fmt.Fprintf(w, "Key\t%s\n", c.IdempotencyKey)
	fmt.Fprintf(w, "Status\t%s\n", commandState(c))
	fmt.Fprintf(w, "Attempts\t%d\n", c.Attempts)
	if c.Replayed {
		fmt.Fprintln(w, "Replayed\tyes")
	}
	if c.NextAttemptAt != nil {
		fmt.Fprintf(w, "Next attempt\t%s\n", c.NextAttemptAt.Format(timeLayout))
	}
	if c.LastError != "" {
		fmt.Fprintf(w, "Last error\t%s\n", c.LastError)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "AT\tFROM\tTO\tNOTE")
	for _, t := range d.Transitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.At.Format(timeLayout), t.From, t.To, t.Note)
	}
}
