package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rayford/raydb/raylog"
	"github.com/rayford/raydb/storage"
)

var compactIfNeeded bool

var compactCmd = &cobra.Command{
	Use:   "compact <path>",
	Short: "Force a compaction: fold the delta into a new snapshot generation and reset the WAL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigOrExit()
		db, err := storage.Open(args[0], cfg.storageOptions(false))
		if err != nil {
			return fmt.Errorf("open %q: %w", args[0], err)
		}
		defer db.Close()

		if compactIfNeeded && !db.ShouldCompact(cfg.compactThresholds()) {
			fmt.Printf("%q is below its compaction thresholds, nothing to do\n", args[0])
			return nil
		}

		log := raylog.WithComponent("cmd.compact")
		before := db.Stat()
		log.Info().Uint64("generation", before.ActiveSnapshotGen).Msg("compaction_start")

		if err := db.Compact(); err != nil {
			return fmt.Errorf("compact: %w", err)
		}

		after := db.Stat()
		log.Info().Uint64("generation", after.ActiveSnapshotGen).Msg("compaction_done")
		fmt.Printf("compacted %q: generation %d -> %d\n", args[0], before.ActiveSnapshotGen, after.ActiveSnapshotGen)
		return nil
	},
}

func init() {
	compactCmd.Flags().BoolVar(&compactIfNeeded, "if-needed", false, "compact only when the configured WAL/delta thresholds are exceeded")
}
