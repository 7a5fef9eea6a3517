// Command cursorctl is a demo harness wiring a managedlog.Log to an
// HTTP surface for manual poking: it is not the cursor API (that is
// internal/cursor and internal/managedlog), just a way to watch a
// cursor's stats and the prometheus collectors move.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lipandr/cursorlog/internal/cursor"
	"github.com/lipandr/cursorlog/internal/cursorstore"
	"github.com/lipandr/cursorlog/internal/managedlog"
	"github.com/lipandr/cursorlog/internal/metrics"
)

func main() {
	addr := flag.String("addr", ":8080", "http listen address")
	dir := flag.String("dir", "cursorlog-data", "on-disk data directory")
	logName := flag.String("log", "demo", "log name")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	lg, err := managedlog.Open(*logName, cursorstore.NewMemStore(), managedlog.Config{Dir: *dir}, logger)
	if err != nil {
		logger.Fatal("opening managed log", zap.Error(err))
	}
	defer lg.Close()

	srv := &ctlServer{log: lg, logger: logger}
	r := mux.NewRouter()
	r.HandleFunc("/append", srv.handleAppend).Methods(http.MethodPost)
	r.HandleFunc("/cursors/{name}/open", srv.handleOpenCursor).Methods(http.MethodPost)
	r.HandleFunc("/cursors/{name}/stats", srv.handleCursorStats).Methods(http.MethodGet)
	r.HandleFunc("/cursors", srv.handleListCursors).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("cursorctl listening", zap.String("addr", *addr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serving http", zap.Error(err))
	}
}

type ctlServer struct {
	log    *managedlog.Log
	logger *zap.Logger
}

type appendRequest struct {
	Payload []byte `json:"payload"`
}

type appendResponse struct {
	Position string `json:"position"`
}

func (s *ctlServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.log.Append(req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, appendResponse{Position: p.String()})
}

func (s *ctlServer) handleOpenCursor(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if _, err := s.log.OpenCursor(ctx, name, cursor.Config{}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *ctlServer) handleCursorStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := s.log.Cursor(name)
	if !ok {
		http.Error(w, "cursor not open: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, c.Stats())
}

func (s *ctlServer) handleListCursors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log.ListCursors())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
