package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nainya/recordindex/pkg/ids"
	"github.com/nainya/recordindex/pkg/index"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/wire"
)

func newFieldsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the virtual fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				registry, err := a.repo.VirtualFields(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tTYPE\tID")
				for _, f := range registry.Fields() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name(), f.Type.ValueType, f.ID())
				}
				return tw.Flush()
			})
		},
	}
}

func newSpecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Work with record scan documents",
	}

	var prefixes bool
	normalize := &cobra.Command{
		Use:   "normalize <spec.json|->",
		Short: "Decode a record scan document and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			spec, err := scan.Decode(data, nil, ids.NewGenerator())
			if err != nil {
				return err
			}
			out, err := scan.Encode(spec, wire.WriteOptions{UseNamespacePrefixes: prefixes})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	normalize.Flags().BoolVar(&prefixes, "prefixes", true, "write qualified names as prefix:name with a namespaces table")

	cmd.AddCommand(normalize)
	return cmd
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage index definitions",
	}

	put := &cobra.Command{
		Use:   "put <definition.json|->",
		Short: "Create or replace an index definition",
		Long: `Create or replace an index definition.

Example definition:
  {"name": "by-status", "prefix": 9000,
   "fields": [{"name": "status", "kind": "string", "width": 16}]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var def index.Definition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parse definition: %w", err)
			}
			return opts.withApp(cmd, func(a *app) error {
				if err := index.NewCatalog(a.kv).Put(&def); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored index %s (prefix %d, key length %d)\n", def.Name, def.Prefix, def.KeyLength())
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List index definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				defs, err := index.NewCatalog(a.kv).List()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPREFIX\tFIELDS\tKEY LENGTH")
				for _, def := range defs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", def.Name, def.Prefix, len(def.Fields), def.KeyLength())
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(put, list)
	return cmd
}
