package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/catalog"
	"github.com/roach88/tillsync/internal/money"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/store"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Pull and query the local product catalog",
	}
	cmd.AddCommand(newCatalogPullCommand(rootOpts))
	cmd.AddCommand(newCatalogLookupCommand(rootOpts))
	cmd.AddCommand(newCatalogStateCommand(rootOpts))
	return cmd
}

func newCatalogPullCommand(rootOpts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the catalog snapshot from the ledger",
		Long: `Pull every page of the ledger's catalog snapshot.

replace swaps the whole replica in one transaction once every page has
arrived, so delisted products disappear. merge upserts page by page and
resumes from the stored cursor after an interrupted pull.`,
		Example: `  tillsync catalog pull
  tillsync catalog pull --mode merge`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if mode == "" {
				mode = a.cfg.Catalog.Mode
			}
			m, err := catalog.ParseMode(mode)
			if err != nil {
				return WrapExitError(ExitCommandError, ErrCodeInput, "catalog mode", err)
			}
			res, err := a.puller().Pull(cmd.Context(), m)
			if err != nil {
				return WrapExitError(ExitFailure, ErrCodeLedger, "pull catalog", err)
			}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "Pulled %d products in %d pages (%s)\n", res.Entries, res.Pages, res.Mode)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "replace or merge (default: catalog.mode)")
	return cmd
}

func newCatalogLookupCommand(rootOpts *RootOptions) *cobra.Command {
	var l store.ProductLookup

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Find a product by id, barcode or SKU",
		Example: `  tillsync catalog lookup --barcode 4006381333931`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			e, err := a.store.LookupProduct(cmd.Context(), l)
			if err != nil {
				return classify("lookup product", err)
			}
			return rootOpts.formatter(cmd).Success(e, func(w io.Writer) { entryText(w, e) })
		},
	}
	cmd.Flags().StringVar(&l.ProductID, "id", "", "product id")
	cmd.Flags().StringVar(&l.Barcode, "barcode", "", "barcode")
	cmd.Flags().StringVar(&l.SKU, "sku", "", "SKU")
	cmd.MarkFlagsOneRequired("id", "barcode", "sku")
	return cmd
}

func newCatalogStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show when the catalog was last pulled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.store.CatalogState(cmd.Context())
			if err != nil {
				return classify("catalog state", err)
			}
			return rootOpts.formatter(cmd).Success(st, func(w io.Writer) {
				fmt.Fprintf(w, "Products\t%d\n", st.Entries)
				if st.LastPulledAt != nil {
					fmt.Fprintf(w, "Last pulled\t%s\n", st.LastPulledAt.Format(timeLayout))
				} else {
					fmt.Fprintln(w, "Last pulled\tnever")
				}
				if st.Cursor != "" {
					fmt.Fprintf(w, "Resume cursor\t%s\n", st.Cursor)
				}
			})
		},
	}
}

func entryText(w io.Writer, e pos.CatalogEntry) {
	fmt.Fprintf(w, "Product\t%s\n", e.ProductID)
	fmt.Fprintf(w, "Name\t%s\n", e.Name)
	fmt.Fprintf(w, "SKU\t%s\n", e.SKU)
	if e.Barcode != "" {
		fmt.Fprintf(w, "Barcode\t%s\n", e.Barcode)
	}
	fmt.Fprintf(w, "Price\t%s\n", money.Format(e.Price))
	fmt.Fprintf(w, "Taxable\t%t\n", e.Taxable)
	fmt.Fprintf(w, "Status\t%s\n", e.Status)
	fmt.Fprintf(w, "Estimated qty\t%d\n", e.EstimatedQty)
}
