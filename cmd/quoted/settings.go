package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newthinker/quoted/internal/settings"
)

var (
	setAPIKey    string
	setPerMinute int
	setPerDay    int
	setPerMonth  int
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Provider credentials and request quotas",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show [PROVIDER]",
	Short: "Print provider settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set PROVIDER",
	Short: "Change and persist provider settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().StringVar(&setAPIKey, "api-key", "", "provider API key")
	settingsSetCmd.Flags().IntVar(&setPerMinute, "per-minute", 0, "requests per minute, 0 for unlimited")
	settingsSetCmd.Flags().IntVar(&setPerDay, "per-day", 0, "requests per day, 0 for unlimited")
	settingsSetCmd.Flags().IntVar(&setPerMonth, "per-month", 0, "requests per month, 0 for unlimited")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	names := e.app.Providers()
	if len(args) == 1 {
		names = args
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tAPI KEY\tPER MINUTE\tPER DAY\tPER MONTH")
	for _, name := range names {
		s, err := e.app.Settings(cmd.Context(), name)
		if err != nil {
			return err
		}
		snap := s.Snapshot()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			snap.Name, hideKey(snap.APIKey), limit(snap.PerMinute), limit(snap.PerDay), limit(snap.PerMonth))
	}
	return w.Flush()
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	var u settings.Update
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		u.APIKey = &setAPIKey
	}
	if flags.Changed("per-minute") {
		u.RequestsPerMinute = &setPerMinute
	}
	if flags.Changed("per-day") {
		u.RequestsPerDay = &setPerDay
	}
	if flags.Changed("per-month") {
		u.RequestsPerMonth = &setPerMonth
	}

	changed, err := e.app.UpdateSettings(cmd.Context(), args[0], u)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		fmt.Println("nothing changed")
		return nil
	}
	names := make([]string, len(changed))
	for i, f := range changed {
		names[i] = string(f)
	}
	fmt.Printf("%s: updated %s\n", args[0], strings.Join(names, ", "))
	return nil
}

func hideKey(key string) string {
	if key == "" {
		return "-"
	}
	return "set"
}

func limit(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
