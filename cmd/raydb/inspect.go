package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rayford/raydb/metrics"
	"github.com/rayford/raydb/storage"
)

var statJSON bool

// statCmd is the read-only "raydb stat" admin surface: header fields,
// WAL occupancy, delta size, and generation, for operators poking at a
// database file from the shell.
var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Print header, WAL, delta, and cache counters for a database file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0], false)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Print an OTEL-flavored JSON snapshot of a database's engine counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0], true)
	},
}

func init() {
	statCmd.Flags().BoolVar(&statJSON, "json", false, "emit JSON instead of a table")
}

func runInspect(path string, forceJSON bool) error {
	cfg := loadConfigOrExit()
	db, err := storage.Open(path, cfg.storageOptions(true))
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer db.Close()

	s := db.Stat()

	if forceJSON || statJSON {
		snap := metrics.BuildSnapshot(time.Now(), metrics.Counters{
			CacheHits:   s.CacheHits,
			CacheMisses: s.CacheMisses,
		}, metrics.Gauges{
			DeltaEntries:      uint64(s.DeltaMutations),
			WALUsedFraction:   walFraction(s.WALUsedBytes, s.WALCapacity),
			Epoch:             db.Epoch(),
			ActiveSnapshotGen: s.ActiveSnapshotGen,
		})
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("path:                %s\n", path)
	fmt.Printf("active_snapshot_gen: %d\n", s.ActiveSnapshotGen)
	fmt.Printf("epoch:               %d\n", db.Epoch())
	fmt.Printf("change_counter:      %d\n", s.ChangeCounter)
	fmt.Printf("wal_used_bytes:      %d / %d\n", s.WALUsedBytes, s.WALCapacity)
	fmt.Printf("delta_mutations:     %d\n", s.DeltaMutations)
	fmt.Printf("max_node_id:         %d\n", s.MaxNodeID)
	fmt.Printf("next_tx_id:          %d\n", s.NextTxID)
	fmt.Printf("cache_hits/misses:   %d / %d\n", s.CacheHits, s.CacheMisses)
	return nil
}

func walFraction(used, capacity uint64) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(used) / float64(capacity)
}
