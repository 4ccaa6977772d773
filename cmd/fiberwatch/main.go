package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/fiberwatch/internal/events"
	"github.com/steveyegge/fiberwatch/internal/store"
	"github.com/steveyegge/fiberwatch/internal/store/sqlite"
	"github.com/steveyegge/fiberwatch/internal/watchdog"
)

var (
	configPath string
	dbPath     string
	serviceID  string
	generation uint64
)

var rootCmd = &cobra.Command{
	Use:   "fiberwatch",
	Short: "Liveness watchdog for cooperative fibers",
	Long: `Fiberwatch monitors cooperative fibers for liveness anomalies: stuck
and comatose fibers, zombies that keep running after declaring completion,
undead fibers past their TTL, and registry entries whose fibers died or
crashed. Registry state survives hot reloads through a pluggable store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: FIBERWATCH_* environment)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite registry database (default: in-memory)")
	rootCmd.PersistentFlags().StringVar(&serviceID, "service-id", "fiberwatch", "stable service identity the registry is keyed by")
	rootCmd.PersistentFlags().Uint64Var(&generation, "generation", 1, "reload generation of this process")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadWatchdogConfig resolves the config file when given, otherwise the
// environment overlaid on defaults.
func loadWatchdogConfig() (*watchdog.Config, error) {
	if configPath != "" {
		return watchdog.LoadConfig(configPath)
	}
	return watchdog.ConfigFromEnv()
}

// openRegistryStore picks the SQLite store when --db is set, otherwise the
// in-memory store (registry state then dies with the process).
func openRegistryStore() (store.Store, error) {
	if dbPath != "" {
		return sqlite.New(dbPath)
	}
	return store.NewMemory(), nil
}

// alertPrinter returns a sink that prints alert events to stderr with
// severity colors. Loop-time measurements are dropped; they are telemetry,
// not operator output.
func alertPrinter() events.Sink {
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	return events.SinkFunc(func(e *events.Event) {
		if e.Category != events.CategoryAlert {
			return
		}
		tag := gray(string(e.Severity))
		switch e.Severity {
		case events.SeverityError:
			tag = red(string(e.Severity))
		case events.SeverityWarning:
			tag = yellow(string(e.Severity))
		}
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", tag, e.Code, e.Message)
	})
}
