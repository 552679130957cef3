package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mwhitford/underwriter/internal/llm"
)

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show accumulated token usage",
		Long: `Usage prints token totals from the persistent ledger, grouped by model.
Pass --by-label to group by the operation that incurred the spend instead.`,
		RunE: runUsage,
	}

	cmd.Flags().Bool("by-label", false, "group totals by operation label instead of model")

	return cmd
}

func runUsage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	byLabel, _ := cmd.Flags().GetBool("by-label")

	store, err := openUsageStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var totals map[string]llm.UsageTotals
	heading := "MODEL"
	if byLabel {
		totals, err = store.TotalsByLabel(ctx)
		heading = "OPERATION"
	} else {
		totals, err = store.TotalsByModel(ctx)
	}
	if err != nil {
		return err
	}

	if len(totals) == 0 {
		fmt.Println("No usage recorded yet.")
		return nil
	}

	printTotals(cmd, heading, totals)
	return nil
}

func printTotals(cmd *cobra.Command, heading string, totals map[string]llm.UsageTotals) {
	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tINPUT\tOUTPUT\tTOTAL\n", heading)

	var grand llm.UsageTotals
	for _, key := range keys {
		t := totals[key]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", key, t.InputTokens, t.OutputTokens, t.TotalTokens)
		grand.InputTokens += t.InputTokens
		grand.OutputTokens += t.OutputTokens
		grand.TotalTokens += t.TotalTokens
	}
	fmt.Fprintf(w, "total\t%d\t%d\t%d\n", grand.InputTokens, grand.OutputTokens, grand.TotalTokens)
	_ = w.Flush()
}
