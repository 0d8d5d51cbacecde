package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haulmark/haulmark/internal/reconcile"
	"github.com/haulmark/haulmark/internal/store"
)

// VerifyAllOptions holds flags for the verify-all command.
type VerifyAllOptions struct {
	*RootOptions
	EntityType string
}

// NewVerifyAllCommand creates the verify-all command.
func NewVerifyAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyAllOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify-all",
		Short: "Reconcile every stored record against the ledger",
		Long: `Reconcile all records (optionally one entity type) and print a verdict
per record. One record's ledger lookup failure degrades only that
record's verdict to UNKNOWN; the listing always completes.

Exit code 0 when every verdict is MATCH, 1 otherwise.

Example:
  haulmark verify-all
  haulmark verify-all --type shipment`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyAll(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EntityType, "type", "", "restrict to one entity type")

	return cmd
}

func runVerifyAll(opts *VerifyAllOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	sys, err := openSystem(opts.RootOptions)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx := context.Background()
	records, err := sys.store.List(ctx, store.Filter{EntityType: opts.EntityType})
	if err != nil {
		_ = out.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "list failed", err)
	}

	outcomes := sys.reconcile.ReconcileAll(ctx, records)

	tally := map[reconcile.Verdict]int{}
	for _, o := range outcomes {
		tally[o.Verdict]++
	}

	if opts.Format == "json" {
		if err := out.Success(map[string]any{
			"outcomes": outcomes,
			"tally":    tally,
		}); err != nil {
			return err
		}
	} else {
		text := ""
		for _, o := range outcomes {
			text += fmt.Sprintf("%-13s %s/%s\n", o.Verdict, o.EntityType, o.ID)
		}
		text += fmt.Sprintf("\n%d records: %d match, %d mismatch, %d not on ledger, %d unknown",
			len(outcomes),
			tally[reconcile.VerdictMatch],
			tally[reconcile.VerdictMismatch],
			tally[reconcile.VerdictNotOnLedger],
			tally[reconcile.VerdictUnknown])
		if err := out.Success(text); err != nil {
			return err
		}
	}

	if tally[reconcile.VerdictMatch] != len(outcomes) {
		return NewExitError(ExitFailure, "not all records verified clean")
	}
	return nil
}
