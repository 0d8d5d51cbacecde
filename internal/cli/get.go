package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haulmark/haulmark/internal/store"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	ID string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <entity-type>",
		Short: "Read a record from the local store",
		Long: `Read a record as the local store currently holds it. This does NOT
verify integrity - use "haulmark verify" for that.

Example:
  haulmark get product --id prod-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runGet(opts *GetOptions, entityType string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	sys, err := openSystem(opts.RootOptions)
	if err != nil {
		return err
	}
	defer sys.Close()

	rec, err := sys.store.Get(context.Background(), entityType, opts.ID)
	if errors.Is(err, store.ErrNotFound) {
		_ = out.Error("E_NOT_FOUND", fmt.Sprintf("no %s record with id %q", entityType, opts.ID), nil)
		return NewExitError(ExitCommandError, "record not found")
	}
	if err != nil {
		_ = out.Error("E_STORE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read failed", err)
	}

	if opts.Format == "json" {
		return out.Success(rec)
	}
	return out.Success(fmt.Sprintf("%s/%s\n  stored hash: %s\n  anchored:    %s (tx %s)\n  updated:     %s",
		rec.EntityType, rec.ID, rec.StoredHash,
		rec.Receipt.AnchoredAt.Format("2006-01-02 15:04:05 MST"), rec.Receipt.TxRef,
		rec.UpdatedAt.Format("2006-01-02 15:04:05 MST")))
}

// NewEntitiesCommand lists the declared entity types and their schemas.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "entities",
		Short:         "List declared entity types and their field schemas",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntities(rootOpts, cmd)
		},
	}
	return cmd
}

func runEntities(opts *RootOptions, cmd *cobra.Command) error {
	out := formatter(opts, cmd)

	sys, err := openSystem(opts)
	if err != nil {
		return err
	}
	defer sys.Close()

	if opts.Format == "json" {
		specs := make([]any, 0)
		for _, name := range sys.registry.Names() {
			spec, _ := sys.registry.Spec(name)
			specs = append(specs, spec)
		}
		return out.Success(specs)
	}

	text := ""
	for _, name := range sys.registry.Names() {
		spec, _ := sys.registry.Spec(name)
		text += fmt.Sprintf("%s (%s)\n", name, spec.Strategy)
		for _, f := range spec.Fields {
			flags := ""
			if f.Required {
				flags += " required"
			}
			if f.Immutable {
				flags += " immutable"
			}
			text += fmt.Sprintf("  %-20s %s%s\n", f.Name, f.Type, flags)
		}
	}
	return out.Success(text)
}
