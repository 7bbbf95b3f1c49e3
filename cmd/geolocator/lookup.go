package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/config"
	"github.com/TomasB/geolocator/internal/workpool"
)

func newLookupCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <ip>...",
		Short: "Resolve addresses against the configured databases and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			// Logs go to stderr so the output stays machine readable.
			logger := setupLogger(os.Stderr, cfg.Log.Level)

			dbs, err := newDatabases(cfg, logger)
			if err != nil {
				return err
			}
			defer dbs.Close()

			if err := dbs.load(logger); err != nil {
				return err
			}

			resolver, err := newResolver(dbs, workpool.New(cfg.Workers.Capacity), nil, logger)
			if err != nil {
				return err
			}
			orchestrator := batch.NewOrchestrator(resolver, cfg.Batch.MaxItems, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Lookup.Timeout)
			defer cancel()

			outcomes, err := orchestrator.ResolveBatch(ctx, args)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), outcomes)
			}
			return writeTable(cmd.OutOrStdout(), outcomes)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON")

	return cmd
}

func writeJSON(w io.Writer, outcomes []batch.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}

func writeTable(w io.Writer, outcomes []batch.Outcome) error {
	rows := pterm.TableData{{"IP", "Country", "Region", "City", "Timezone", "ASN", "ISP", "Error"}}

	for _, o := range outcomes {
		if !o.OK() {
			rows = append(rows, []string{o.IP, "", "", "", "", "", "", string(o.Failure.Kind)})
			continue
		}

		r := o.Result
		asn := ""
		if r.ASN != nil {
			asn = "AS" + strconv.FormatUint(uint64(*r.ASN), 10)
		}
		rows = append(rows, []string{
			o.IP,
			deref(r.CountryCode),
			deref(r.Region),
			deref(r.City),
			deref(r.TimeZone),
			asn,
			deref(r.ISP),
			"",
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
