// Package main is the entry point for the mementO.S. game server.
// It only handles dependency injection and command wiring.
// NO business logic belongs here.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mementos",
		Short: "mementO.S. - the last 72 hours of a digital library",
		Long: `mementos runs the authoritative clock of the mementO.S. desktop.

It delivers the scripted emails, throttles downloads through the scripted
interruptions and shuts the platform down when the countdown ends. The
desktop itself is a web client talking to "mementos serve".`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("timeline", "", "Timeline YAML (default: embedded narrative)")
	rootCmd.PersistentFlags().String("library", "", "Library catalogue YAML (default: embedded catalogue)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newValidateCmd(),
		newSimulateCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mementos version %s\n", version)
		},
	}
}

// loadContent reads the narrative and the catalogue named by the
// persistent flags, falling back to the given paths.
func loadContent(cmd *cobra.Command, timelinePath, libraryPath string) (*timeline.Timeline, *library.Catalogue, error) {
	if cmd.Flags().Changed("timeline") {
		timelinePath, _ = cmd.Flags().GetString("timeline")
	}
	if cmd.Flags().Changed("library") {
		libraryPath, _ = cmd.Flags().GetString("library")
	}

	tl, err := timeline.LoadFile(timelinePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	cat, err := library.LoadFile(libraryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load library: %w", err)
	}
	return tl, cat, nil
}

// gigabytes renders a size in GB the way the desktop shows it.
func gigabytes(gb float64) string {
	if gb < 0 {
		gb = 0
	}
	return humanize.Bytes(uint64(math.Round(gb * 1e9)))
}
