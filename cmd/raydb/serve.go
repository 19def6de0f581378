package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rayford/raydb/metrics"
	"github.com/rayford/raydb/raylog"
	"github.com/rayford/raydb/replication"
	"github.com/rayford/raydb/storage"
)

var serveAddr string

// serveCmd runs the primary's replication admin surface: Prometheus text
// exposition plus the snapshot_blob/log_page/promote_epoch endpoints a
// replica polls. The engine itself has no client/server protocol; this
// is the one place RayDB opens a socket, and it only ever ships bytes
// already produced by the storage layer's replication primitives.
var serveCmd = &cobra.Command{
	Use:   "serve-replication <path>",
	Short: "Serve the replication transport and Prometheus metrics for a primary database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigOrExit()
		db, err := storage.Open(args[0], cfg.storageOptions(false))
		if err != nil {
			return fmt.Errorf("open %q: %w", args[0], err)
		}
		defer db.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.ReplicationListen
		}
		if addr == "" {
			addr = ":8477"
		}

		tr := replication.NewTransport(db)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/snapshot_blob", snapshotBlobHandler(tr))
		mux.HandleFunc("/log_page", logPageHandler(tr))
		mux.HandleFunc("/promote_epoch", promoteEpochHandler(tr))

		log := raylog.WithComponent("cmd.serve")
		log.Info().Str("addr", addr).Msg("replication_listen")
		return http.ListenAndServe(addr, mux)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config replication_listen)")
}

func snapshotBlobHandler(tr *replication.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeData := r.URL.Query().Get("include_data") == "true"
		doc, err := tr.SnapshotBlob(includeData)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func logPageHandler(tr *replication.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("cursor")
		cursor, err := replication.ParseCursor(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		maxFrames, _ := strconv.Atoi(r.URL.Query().Get("max_frames"))
		maxBytes, _ := strconv.Atoi(r.URL.Query().Get("max_bytes"))
		includePayload := r.URL.Query().Get("include_payload") != "false"

		doc, err := tr.LogPage(cursor, maxFrames, maxBytes, includePayload)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func promoteEpochHandler(tr *replication.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "promote_epoch requires POST", http.StatusMethodNotAllowed)
			return
		}
		epoch, err := tr.PromoteEpoch()
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, map[string]uint64{"epoch": epoch})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
