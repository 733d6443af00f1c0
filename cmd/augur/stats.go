package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var callType string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded usage by call type, provider and source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.UsageDB)
			if err != nil {
				return err
			}
			defer tr.Close()

			summaries, err := tr.Summary(cmd.Context(), models.CallType(callType))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CALL TYPE\tPROVIDER\tSOURCE\tREQUESTS\tTOKENS IN\tTOKENS OUT\tCOST")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.4f\n",
					s.CallType, s.Provider, s.Source, s.RequestCount, s.TokensIn, s.TokensOut, s.Cost)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&callType, "call-type", "", "filter by call type")
	return cmd
}
