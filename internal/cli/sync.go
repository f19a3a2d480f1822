package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/dispatch"
	"github.com/roach88/tillsync/internal/outbox"
)

// SyncReport is the output of the sync command.
type SyncReport struct {
	Recovered int          `json:"recovered"`
	Results   []SyncResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// SyncResult is one dispatched command.
type SyncResult struct {
	CommandID string `json:"command_id"`
	Type      string `json:"type"`
	EntityID  string `json:"entity_id"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var recoverFirst bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the outbox once and exit",
		Long: `Send every due command to the ledger once, in admission order per
workspace, and report each outcome.

Use --recover after a crash when no serve process is running, to return
IN_FLIGHT commands to PENDING first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var report SyncReport
			if recoverFirst {
				if report.Recovered, err = a.store.RecoverInFlight(ctx); err != nil {
					return classify("recover in-flight commands", err)
				}
			}
			results, err := a.dispatcher().SyncOnce(ctx)
			report.add(results)
			if err != nil {
				return classify("sync", err)
			}
			return rootOpts.formatter(cmd).Success(report, report.text)
		},
	}
	cmd.Flags().BoolVar(&recoverFirst, "recover", false, "return IN_FLIGHT commands to PENDING first")
	return cmd
}

func (r *SyncReport) add(results []dispatch.Result) {
	r.Results = make([]SyncResult, 0, len(results))
	for _, res := range results {
		sr := SyncResult{
			CommandID: res.Command.ID,
			Type:      string(res.Command.Type),
			EntityID:  res.Command.EntityID,
		}
		switch {
		case res.Released:
			sr.Outcome = "released"
			sr.Error = res.Err.Error()
			r.Failed++
		case res.Err != nil:
			sr.Outcome = "error"
			sr.Error = res.Err.Error()
			r.Failed++
		case res.Outcome.Success():
			sr.Outcome = res.Outcome.Kind.String()
			r.Succeeded++
		default:
			sr.Outcome = res.Outcome.Kind.String()
			sr.Error = res.Outcome.Err()
			if res.Outcome.Kind == outbox.Fatal || res.Outcome.Kind == outbox.Retryable {
				r.Failed++
			}
		}
		r.Results = append(r.Results, sr)
	}
}

func (r SyncReport) text(w io.Writer) {
	if r.Recovered > 0 {
		fmt.Fprintf(w, "Recovered %d in-flight commands\n", r.Recovered)
	}
	if len(r.Results) == 0 {
		fmt.Fprintln(w, "Nothing to sync")
		return
	}
	fmt.Fprintln(w, "COMMAND\tTYPE\tENTITY\tOUTCOME\tERROR")
	for _, res := range r.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", res.CommandID, res.Type, res.EntityID, res.Outcome, res.Error)
	}
	fmt.Fprintf(w, "%d synced, %d not synced\n", r.Succeeded, r.Failed)
}
