package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/pos"
)

// InputOptions reads a JSON document from --json, --file or stdin.
type InputOptions struct {
	JSON string
	File string
}

func (o *InputOptions) bind(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&o.JSON, "json", "", what+" as inline JSON")
	cmd.Flags().StringVarP(&o.File, "file", "f", "", what+" as a JSON file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("json", "file")
}

// decode reads the document into v. Unknown fields are rejected.
func (o *InputOptions) decode(cmd *cobra.Command, v any) error {
	var data []byte
	switch {
	case o.JSON != "":
		data = []byte(o.JSON)
	case o.File == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeInput, "read stdin", err)
		}
		data = b
	case o.File != "":
		b, err := os.ReadFile(o.File)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeInput, "read input file", err)
		}
		data = b
	default:
		return NewExitError(ExitCommandError, ErrCodeInput, "one of --json or --file is required")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if ve := pos.MoneyDecodeError(err); ve != nil {
			return classify("invalid input JSON", ve)
		}
		return WrapExitError(ExitCommandError, ErrCodeInput, "invalid input JSON", err)
	}
	return nil
}
