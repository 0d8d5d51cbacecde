package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haulmark/haulmark/internal/anchor"
	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/schema"
)

// WriteOptions holds flags shared by create and update.
type WriteOptions struct {
	*RootOptions
	ID     string
	Fields string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Anchor and persist a new record",
		Long: `Create a record: validate it against the entity schema, anchor its
content hash on the ledger, then persist the record locally.

The hash is anchored before the record is written - a record never
exists locally without its ledger anchor.

Example:
  haulmark create product --fields '{"name":"Widget","categoryId":"c1","manufacturerId":"m1"}'
  haulmark create shipment --id ship-7 --fields @shipment.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, args[0], cmd, false)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Fields, "fields", "{}", "semantic fields as JSON")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <entity-type>",
		Short: "Re-anchor and persist changes to an existing record",
		Long: `Update a record: merge the incoming fields over the existing ones
(immutable identity fields carry over when omitted), anchor the new
content hash, then persist.

Example:
  haulmark update product --id prod-1 --fields '{"description":"Improved widget"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, args[0], cmd, true)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (required)")
	cmd.Flags().StringVar(&opts.Fields, "fields", "{}", "semantic fields as JSON")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runWrite(opts *WriteOptions, entityType string, cmd *cobra.Command, isUpdate bool) error {
	out := formatter(opts.RootOptions, cmd)

	raw, err := decodeFields(opts.Fields)
	if err != nil {
		_ = out.Error("E_INPUT", fmt.Sprintf("invalid --fields JSON: %v", err), nil)
		return NewExitError(ExitCommandError, "invalid --fields JSON")
	}

	id := opts.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	sys, err := openSystem(opts.RootOptions)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx := context.Background()
	var res *anchor.Result
	if isUpdate {
		res, err = sys.orch.Update(ctx, entityType, id, raw)
	} else {
		res, err = sys.orch.Create(ctx, entityType, id, raw)
	}
	if err != nil {
		return writeError(out, res, err)
	}

	if opts.Format == "json" {
		return out.Success(res)
	}
	return out.Success(fmt.Sprintf("%s %s/%s\n  state: %s\n  hash:  %s\n  tx:    %s",
		writeVerb(isUpdate), entityType, id, res.State, res.Hash, res.Record.Receipt.TxRef))
}

// writeError maps the write-path error taxonomy onto CLI output.
// Validation and transient anchor failures are retryable by the user;
// integrity faults and persistence errors are fatal and must reach an
// operator.
func writeError(out *OutputFormatter, res *anchor.Result, err error) error {
	state := ""
	if res != nil {
		state = string(res.State)
	}

	switch {
	case schema.IsValidation(err):
		_ = out.Error("E_VALIDATION", err.Error(), state)
		return WrapExitError(ExitCommandError, "validation failed (fix the input and retry)", err)
	case ledger.IsTransient(err):
		_ = out.Error("E_LEDGER_UNAVAILABLE", err.Error(), state)
		return WrapExitError(ExitCommandError, "ledger unavailable (safe to retry)", err)
	case ledger.IsRejection(err):
		_ = out.Error("E_LEDGER_REJECTED", err.Error(), state)
		return WrapExitError(ExitCommandError, "ledger rejected the operation", err)
	case anchor.IsIntegrityFault(err):
		_ = out.Error("E_INTEGRITY_FAULT", err.Error(), state)
		return WrapExitError(ExitFailure, "integrity fault: do NOT retry, report to operator", err)
	case anchor.IsPersistence(err):
		_ = out.Error("E_PERSIST_FAILED", err.Error(), state)
		return WrapExitError(ExitFailure, "ledger committed but local persist failed; re-run to recover", err)
	default:
		_ = out.Error("E_WRITE", err.Error(), state)
		return WrapExitError(ExitCommandError, "write failed", err)
	}
}

// decodeFields parses the --fields JSON with UseNumber so numeric
// precision survives into schema coercion.
func decodeFields(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func writeVerb(isUpdate bool) string {
	if isUpdate {
		return "updated"
	}
	return "created"
}
