package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/y0f/probeboard/internal/storage"
)

var (
	checkIDs  []string
	checkJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run health checks once and report the results",
	Long: `Run health checks against the registered services and print one line per
service. The command exits non-zero when any check fails, so it can gate
deployments or run from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging)

		ctx := commandContext(cmd)
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := runChecks(ctx, a, checkIDs)
		if err != nil {
			return err
		}
		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		} else {
			printResults(a, results)
		}

		failed := 0
		for _, rec := range results {
			if !rec.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkIDs, "id", nil, "service id to check (repeatable); all services when omitted")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print results as JSON")
}

func runChecks(ctx context.Context, a *app, ids []string) (map[string]*storage.CheckRecord, error) {
	if len(ids) == 0 {
		return a.registry.RunAll(ctx), nil
	}
	results := make(map[string]*storage.CheckRecord, len(ids))
	for _, id := range ids {
		rec, err := a.registry.RunCheck(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", id, err)
		}
		results[id] = rec
	}
	return results, nil
}

func printResults(a *app, results map[string]*storage.CheckRecord) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRESULT\tTIME\tDETAIL")
	for _, id := range ids {
		rec := results[id]
		name := id
		if svc, err := a.registry.Get(context.Background(), id); err == nil {
			name = svc.Name
		}
		result := "PASS"
		if !rec.Success {
			result = "FAIL"
		}
		elapsed := "-"
		if rec.RawResponse != nil {
			elapsed = fmt.Sprintf("%dms", rec.RawResponse.ResponseTimeMs)
		}
		detail := rec.Error
		if rec.Validation != nil && len(rec.Validation.Failures) > 0 {
			detail = strings.Join(rec.Validation.Failures, "; ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, name, result, elapsed, detail)
	}
	tw.Flush()
}
