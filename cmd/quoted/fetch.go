package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	fetchTimeout time.Duration
	fetchJSON    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch SYMBOL...",
	Short: "Download the latest quote for symbols",
	Long:  "Queue the symbols on the configured provider and print each quote as it resolves. Quotes are also folded into the stored history.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "give up after this long")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()

	result, err := e.app.Fetch(ctx, args)
	if err != nil {
		return fmt.Errorf("fetching quotes: %w", err)
	}

	if fetchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	sort.Slice(result.Quotes, func(i, j int) bool { return result.Quotes[i].Symbol < result.Quotes[j].Symbol })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tDATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, q := range result.Quotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			q.Symbol, q.Date.Format("2006-01-02"),
			q.Open.StringFixed(2), q.High.StringFixed(2), q.Low.StringFixed(2), q.Close.StringFixed(2),
			q.Volume.String())
	}
	w.Flush()

	for _, s := range result.NotFound {
		fmt.Fprintf(os.Stderr, "%s: symbol not found\n", s)
	}
	for s, msg := range result.Errors {
		fmt.Fprintf(os.Stderr, "%s: %s\n", s, msg)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d of %d symbols failed", len(result.Errors), len(args))
	}
	return nil
}
