package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/replay"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Inspect the replay log in the save file",
	}

	var (
		tick     int64
		callType string
		limit    int
		full     bool
	)
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List replay records in log order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sf, err := openSaveFile(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = sf.Close() }()

			f := replay.Filter{CallType: models.CallType(callType), Limit: limit}
			if tick >= 0 {
				t := uint64(tick)
				f.Tick = &t
			}
			records, err := sf.replay.Query(f)
			if err != nil {
				return err
			}
			return printReplay(cmd.OutOrStdout(), records, full)
		},
	}
	showCmd.Flags().Int64Var(&tick, "tick", -1, "only records submitted at this tick")
	showCmd.Flags().StringVar(&callType, "call-type", "", "filter by call type")
	showCmd.Flags().IntVar(&limit, "limit", 0, "max records (0 for all)")
	showCmd.Flags().BoolVar(&full, "full", false, "print full content")

	cmd.AddCommand(showCmd)
	return cmd
}

func printReplay(out io.Writer, records []models.ReplayRecord, full bool) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No replay records found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTICK\tCALL TYPE\tFINGERPRINT\tOUTCOME\tCONTENT")
	for _, r := range records {
		content := strings.Join(strings.Fields(r.Content), " ")
		if !full && len(content) > 60 {
			content = content[:57] + "..."
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Tick, r.CallType, r.Fingerprint[:min(12, len(r.Fingerprint))],
			defaultStr(string(r.Outcome), "resolved"), content)
	}
	return w.Flush()
}
