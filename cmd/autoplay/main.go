// Package main - autoplay
// Drives a running mementos server over its WebSocket the way a player
// would: starts the session, queues downloads and clears the inbox.
// Several clients at once double as a load test of the hub.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoplay",
		Short: "Play a mementos session from the command line",
		Long: `Connect to a mementos server, start its session, queue the given
library items and read every email until the platform shuts down.

Examples:
  autoplay --queue 4,3
  autoplay --clients 50 --interval 100ms --duration 1m`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := Config{}
			cfg.ServerURL, _ = cmd.Flags().GetString("url")
			cfg.NumClients, _ = cmd.Flags().GetInt("clients")
			cfg.ActionInterval, _ = cmd.Flags().GetDuration("interval")
			cfg.Duration, _ = cmd.Flags().GetDuration("duration")
			cfg.Queue, _ = cmd.Flags().GetStringSlice("queue")
			jsonOut, _ := cmd.Flags().GetBool("json")

			if cfg.NumClients < 1 {
				return fmt.Errorf("--clients must be at least 1")
			}
			if cfg.ActionInterval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Duration)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			started := time.Now()
			stats := Run(ctx, cfg)
			return printResults(cmd.OutOrStdout(), stats, cfg, time.Since(started), jsonOut)
		},
	}

	cmd.Flags().String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	cmd.Flags().Int("clients", 1, "Number of concurrent clients")
	cmd.Flags().Duration("interval", 200*time.Millisecond, "Action interval per client")
	cmd.Flags().Duration("duration", 10*time.Minute, "Give up after this long")
	cmd.Flags().StringSlice("queue", nil, "Library item ids to download")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func printResults(w io.Writer, stats *Stats, cfg Config, took time.Duration, jsonOut bool) error {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	if jsonOut {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"messages_sent":     stats.MessagesSent,
			"messages_received": stats.MessagesReceived,
			"errors":            stats.Errors,
			"commands":          stats.Commands,
			"last_snapshot":     stats.LastSnapshot,
			"clients":           cfg.NumClients,
			"took":              took.String(),
		})
	}

	fmt.Fprintf(w, "Clients:           %d\n", cfg.NumClients)
	fmt.Fprintf(w, "Messages Sent:     %s\n", humanize.Comma(stats.MessagesSent))
	fmt.Fprintf(w, "Messages Received: %s\n", humanize.Comma(stats.MessagesReceived))
	fmt.Fprintf(w, "Errors:            %d\n", stats.Errors)
	if secs := took.Seconds(); secs > 0 {
		fmt.Fprintf(w, "Throughput:        %.2f snapshots/sec\n", float64(stats.MessagesReceived)/secs)
	}

	types := make([]string, 0, len(stats.Commands))
	for t := range stats.Commands {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-18s %d\n", t, stats.Commands[t])
	}

	if snap := stats.LastSnapshot; snap != nil {
		fmt.Fprintf(w, "\nLast state: %s, day %d, %.1fh elapsed, %d downloads\n",
			snap.State, snap.Day, snap.ElapsedHours, len(snap.Downloads))
		for _, d := range snap.Downloads {
			fmt.Fprintf(w, "  item %-6s %5.1f%% of %s\n", d.ItemID, d.Progress,
				humanize.Bytes(uint64(d.SizeGB*1e9)))
		}
	}
	return nil
}
