package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// DaySummary is one row of the validate report.
type DaySummary struct {
	Day           int     `json:"day"`
	Title         string  `json:"title"`
	BaseSpeed     float64 `json:"base_speed_gb_per_hour"`
	Fluctuation   float64 `json:"fluctuation"`
	Emails        int     `json:"emails"`
	Interruptions int     `json:"interruptions"`
	WorstSpeed    float64 `json:"worst_speed_gb_per_hour"`
}

func summarizeDays(tl *timeline.Timeline) []DaySummary {
	out := make([]DaySummary, 0, len(tl.Days))
	for _, d := range tl.Days {
		worst := d.DownloadSpeed.Base
		for _, in := range d.DownloadSpeed.Interruptions {
			if s := d.DownloadSpeed.Base * (1 - in.SpeedReduction); s < worst {
				worst = s
			}
		}
		out = append(out, DaySummary{
			Day:           d.Number,
			Title:         d.Title,
			BaseSpeed:     d.DownloadSpeed.Base,
			Fluctuation:   d.DownloadSpeed.Fluctuation,
			Emails:        len(d.Emails),
			Interruptions: len(d.DownloadSpeed.Interruptions),
			WorstSpeed:    worst,
		})
	}
	return out
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a timeline and library before serving them",
		Long: `Load the timeline and the library catalogue, report every problem at
once and print a per-day summary.

Examples:
  mementos validate
  mementos validate --timeline story.yaml --time-scale 120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			timeScale, _ := cmd.Flags().GetFloat64("time-scale")

			tl, cat, err := loadContent(cmd, "", "")
			if err != nil {
				return err
			}
			if err := timeline.CheckTimeScale(timeScale); err != nil {
				return err
			}

			days := summarizeDays(tl)
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"valid":         true,
					"days":          days,
					"emails":        tl.EmailCount(),
					"end_hours":     tl.EndHours(),
					"library_items": cat.Len(),
					"library_size":  cat.TotalSizeGB(),
				})
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tTITLE\tSPEED\tEMAILS\tINTERRUPTIONS")
			for _, d := range days {
				speed := fmt.Sprintf("%s GB/h ±%.0f%%", humanize.Ftoa(d.BaseSpeed), d.Fluctuation*100)
				if d.Interruptions > 0 {
					speed += fmt.Sprintf(" (down to %s)", humanize.FtoaWithDigits(d.WorstSpeed, 1))
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", d.Day, d.Title, speed, d.Emails, d.Interruptions)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d emails, platform shuts down after %s hours\n",
				tl.EmailCount(), humanize.Ftoa(tl.EndHours()))
			fmt.Fprintf(out, "library: %d items, %s\n", cat.Len(), gigabytes(cat.TotalSizeGB()))
			fmt.Fprintf(out, "time scale %s: %s ticks to the shutdown\n",
				humanize.Ftoa(timeScale), humanize.Comma(int64(tl.EndHours()*3600/timeScale)))
			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	cmd.Flags().Float64("time-scale", 60, "Time scale to check against the delivery tolerance")
	return cmd
}
