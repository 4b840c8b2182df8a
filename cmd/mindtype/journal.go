package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mindtype/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect a request journal",
}

var journalStatsPath string

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize every session in a journal",
	Long: `Prints the journal schema version and, per session, its model, start
time and the number of entries for each error kind.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJournalStats(journalStatsPath, cmd.OutOrStdout())
	},
}

func init() {
	journalStatsCmd.Flags().StringVar(&journalStatsPath, "journal", "", "SQLite journal to read")
	_ = journalStatsCmd.MarkFlagRequired("journal")
	journalCmd.AddCommand(journalStatsCmd)
	rootCmd.AddCommand(journalCmd)
}

func runJournalStats(path string, out io.Writer) error {
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	version, err := j.SchemaVersion()
	if err != nil {
		return err
	}
	sessions, err := j.Sessions()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d, %d sessions\n", version, len(sessions))
	if len(sessions) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODEL\tSTARTED\tENTRIES\tERRORS")
	for _, s := range sessions {
		counts, err := j.CountByError(s.ID)
		if err != nil {
			return err
		}
		total, errs := 0, ""
		for _, kind := range slices.Sorted(maps.Keys(counts)) {
			total += counts[kind]
			if kind == "" {
				continue
			}
			if errs != "" {
				errs += " "
			}
			errs += fmt.Sprintf("%s=%d", kind, counts[kind])
		}
		if errs == "" {
			errs = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			s.ID, s.Model, s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), total, errs)
	}
	return tw.Flush()
}
