package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nainya/recordindex/pkg/index"
	"github.com/nainya/recordindex/pkg/repository"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/wire"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	var indexName string
	var values []string

	cmd := &cobra.Command{
		Use:   "scan [spec.json|-]",
		Short: "Run a record scan and print matching records as JSON lines",
		Long: `Run a record scan against the local store.

The scan document is the record-scan JSON form (startRecordId, recordFilter,
returnFields, caching, ...). Without an argument the whole record table is scanned.
With --index, the scan runs over the entries of that index matching --value.

Examples:
  recordindex scan spec.json
  recordindex scan --index by-status --value open spec.json
  cat spec.json | recordindex scan -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				spec, err := readSpec(cmd, args, a)
				if err != nil {
					return err
				}

				var records *repository.RecordScanner
				if indexName != "" {
					def, err := index.NewCatalog(a.kv).Get(indexName)
					if err != nil {
						return err
					}
					vals, err := parseIndexValues(def, values)
					if err != nil {
						return err
					}
					records, err = a.repo.QueryIndex(cmd.Context(), def, vals, spec)
					if err != nil {
						return err
					}
				} else {
					records, err = a.repo.Scan(cmd.Context(), spec)
					if err != nil {
						return err
					}
				}
				defer records.Close()
				return printRecords(cmd.OutOrStdout(), cmd, records)
			})
		},
	}
	cmd.Flags().StringVar(&indexName, "index", "", "scan the entries of this index")
	cmd.Flags().StringArrayVar(&values, "value", nil, "index value, once per indexed field")
	return cmd
}

func readSpec(cmd *cobra.Command, args []string, a *app) (*scan.Spec, error) {
	if len(args) == 0 {
		return scan.NewBuilder().Caching(a.cfg.Scan.DefaultCaching).Build()
	}
	data, err := readInput(cmd, args[0])
	if err != nil {
		return nil, err
	}
	return scan.Decode(data, nil, a.gen)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func parseIndexValues(def *index.Definition, raw []string) ([]any, error) {
	if len(raw) != len(def.Fields) {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", index.ErrInvalidValue, def.Name, len(def.Fields), len(raw))
	}
	out := make([]any, len(raw))
	for i, f := range def.Fields {
		if f.Kind == index.String {
			out[i] = raw[i]
			continue
		}
		n, err := wire.AsInt(json.Number(raw[i]), wire.Index("value", i))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", index.ErrInvalidValue, err)
		}
		out[i] = n
	}
	return out, nil
}

type recordLine struct {
	ID                string               `json:"id"`
	Version           int64                `json:"version"`
	RecordType        schema.QName         `json:"recordType"`
	RecordTypeVersion int64                `json:"recordTypeVersion"`
	Fields            map[schema.QName]any `json:"fields,omitempty"`
}

func printRecords(w io.Writer, cmd *cobra.Command, records *repository.RecordScanner) error {
	enc := json.NewEncoder(w)
	for {
		rec, ok, err := records.Next(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(recordLine{
			ID:                rec.ID.String(),
			Version:           rec.Version,
			RecordType:        rec.RecordTypeName,
			RecordTypeVersion: rec.RecordTypeVersion,
			Fields:            rec.Fields,
		}); err != nil {
			return err
		}
	}
}
