package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var export bool

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics, or export the generated profiles",
		Long:  `Reads the settings and statistics store: profiles generated, sites visited and uptime since the store was created. With --export, prints every recorded profile as a JSON array instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			out := cmd.OutOrStdout()
			if export {
				profiles, err := repo.Export(ctx)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(profiles, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize profiles to JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			stats, err := repo.Statistics(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Profiles generated\t%d\n", stats.ProfilesGenerated)
			fmt.Fprintf(w, "Sites visited\t%d\n", stats.SitesVisited)
			if !stats.StartTime.IsZero() {
				fmt.Fprintf(w, "Started\t%s\n", stats.StartTime.Format(time.RFC3339))
				fmt.Fprintf(w, "Uptime\t%s\n", stats.Uptime(time.Now()).Truncate(time.Second))
			}
			return w.Flush()
		},
	}

	statsCmd.Flags().BoolVar(&export, "export", false, "print every recorded profile as JSON")
	return statsCmd
}
