package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/infra/storage"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

// SimulationResult is the outcome of a headless run.
type SimulationResult struct {
	Seed      int64                 `json:"seed"`
	TimeScale float64               `json:"time_scale"`
	Ticks     int                   `json:"ticks"`
	Recap     []storage.RecapEvent  `json:"recap"`
	Downloads []engine.DownloadItem `json:"downloads"`
	Stats     engine.Stats          `json:"stats"`
}

// simulate runs a whole session without a clock: every Step is one tick.
func simulate(tl *timeline.Timeline, cat *library.Catalogue, seed int64, timeScale float64, queue []string) (SimulationResult, error) {
	session, err := engine.NewSession(tl,
		engine.WithTimeScale(timeScale),
		engine.WithSource(rand.New(rand.NewSource(seed))),
	)
	if err != nil {
		return SimulationResult{}, err
	}
	e := engine.NewEngine(session, cat, events.NewEventLog(nil), logger.NewNop())
	e.SetMetrics(metrics.New())

	for _, id := range queue {
		if _, _, err := e.EnqueueItem(id); err != nil {
			return SimulationResult{}, err
		}
	}
	e.Start()

	ticks := 0
	for {
		report, ok := e.Step()
		if !ok {
			break
		}
		ticks++
		if report.Ended {
			break
		}
	}

	logged := e.Events()
	stored := make([]storage.GameEvent, 0, len(logged))
	for _, ev := range logged {
		stored = append(stored, storage.FromDomain(e.SessionID(), ev))
	}
	return SimulationResult{
		Seed:      seed,
		TimeScale: timeScale,
		Ticks:     ticks,
		Recap:     storage.Summarize(stored, 1, tl.HoursPerDay),
		Downloads: session.Downloads(),
		Stats:     e.Stats(),
	}, nil
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fast-forward a whole session headlessly",
		Long: `Run the countdown from start to shutdown without waiting for the
clock, then print what happened and what was saved.

The same seed always produces the same run.

Examples:
  mementos simulate
  mementos simulate --auto-queue 4,3,2 --seed 7
  mementos simulate --time-scale 120 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			seed, _ := cmd.Flags().GetInt64("seed")
			timeScale, _ := cmd.Flags().GetFloat64("time-scale")
			queue, _ := cmd.Flags().GetStringSlice("auto-queue")

			tl, cat, err := loadContent(cmd, "", "")
			if err != nil {
				return err
			}

			started := time.Now()
			res, err := simulate(tl, cat, seed, timeScale, queue)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			out := cmd.OutOrStdout()
			for _, r := range res.Recap {
				fmt.Fprintf(out, "%-12s %-8s %s\n", r.GameTime, r.Impact, r.Summary)
			}

			fmt.Fprintln(out)
			for _, d := range res.Downloads {
				item, _ := cat.ByID(d.ItemID)
				status := fmt.Sprintf("%.1f%%", d.Progress)
				if d.Complete {
					status = "saved"
				}
				fmt.Fprintf(out, "  %-40s %8s  %s\n", item.Title, gigabytes(d.SizeGB), status)
			}

			st := res.Stats
			fmt.Fprintf(out, "\nSaved %d of %d items: %s of %s (%.1f%%)\n",
				st.ItemsSaved, st.ItemsInLibrary,
				gigabytes(st.TotalDownloadedGB), gigabytes(st.TotalLibrarySizeGB), st.PercentageSaved)
			fmt.Fprintf(out, "%s ticks at time scale %s, simulated in %s\n",
				humanize.Comma(int64(res.Ticks)), humanize.Ftoa(res.TimeScale),
				time.Since(started).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().Int64("seed", 1, "Seed for the download speed fluctuation")
	cmd.Flags().Float64("time-scale", 300, "Simulated seconds per tick")
	cmd.Flags().StringSlice("auto-queue", nil, "Library item ids to queue before the countdown starts")
	return cmd
}
