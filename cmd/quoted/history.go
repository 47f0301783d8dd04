package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	historyLast    int
	historyTimeout time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Stored price history",
}

var historyUpdateCmd = &cobra.Command{
	Use:   "update SYMBOL...",
	Short: "Download missing daily history for symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryUpdate,
}

var historyShowCmd = &cobra.Command{
	Use:   "show SYMBOL",
	Short: "Print the stored history of a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List symbols with stored history",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyUpdateCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyListCmd)

	historyUpdateCmd.Flags().DurationVar(&historyTimeout, "timeout", 5*time.Minute, "give up after this long")
	historyShowCmd.Flags().IntVarP(&historyLast, "last", "n", 20, "number of most recent days to print, 0 for all")
}

func runHistoryUpdate(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), historyTimeout)
	defer cancel()

	failed := 0
	for _, symbol := range args {
		h, ok, err := e.app.UpdateHistory(ctx, symbol)
		switch {
		case err != nil:
			failed++
			e.log.Error("history update failed", zap.String("symbol", symbol), zap.Error(err))
		case !ok:
			fmt.Printf("%s: symbol not found\n", symbol)
		default:
			fmt.Printf("%s: %d days, last %s\n", symbol, h.Len(), h.LastDate().Format("2006-01-02"))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d updates failed", failed, len(args))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	h, err := e.app.Histories().Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("no stored history for %s", args[0])
	}

	quotes := h.GetSorted()
	if historyLast > 0 && len(quotes) > historyLast {
		quotes = quotes[len(quotes)-historyLast:]
	}

	fmt.Printf("%s: %d days stored, complete=%t\n", h.Symbol, h.Len(), h.Complete)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, q := range quotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			q.Date.Format("2006-01-02"),
			q.Open.StringFixed(2), q.High.StringFixed(2), q.Low.StringFixed(2), q.Close.StringFixed(2),
			q.Volume.String())
	}
	return w.Flush()
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	symbols, err := e.app.Histories().Symbols(cmd.Context())
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}
