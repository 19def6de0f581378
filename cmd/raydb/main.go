// Command raydb is the thin CLI/admin surface over the engine: opening
// and compacting a database file by hand, dumping its stat/inspect
// snapshot, and serving the replication transport to a replica. None of
// this is engine code; it is glue over storage.DB's public API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rayford/raydb/raylog"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"

	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "raydb",
	Short:   "RayDB — embedded graph database with integrated vector search",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	raylog.Init(raylog.Config{
		Level:      raylog.Level(level),
		JSONOutput: jsonOut,
	})
}

func loadConfigOrExit() Config {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config %q: %v\n", configPath, err)
		os.Exit(1)
	}
	return cfg
}
