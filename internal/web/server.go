// Package web provides the HTTP status server for the gaming-server daemon.
// The WebSocket transport is mounted on the same listener at /ws.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/journal"
	"github.com/sweeney/gaming-server/internal/status"
)

// DefaultHistoryLimit is the number of history entries returned when the
// request does not ask for a specific amount.
const DefaultHistoryLimit = 50

// HistorySource supplies recent journal entries.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    HistorySource
	log        zerolog.Logger
}

// New creates a Server that reads state from the given tracker. ws, if
// non-nil, handles /ws. history may be nil, in which case /history.json
// reports an empty list.
func New(addr string, tracker *status.Tracker, ws http.Handler, history HistorySource, log zerolog.Logger) *Server {
	s := &Server{tracker: tracker, history: history, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/history.json", s.handleHistory)
	if ws != nil {
		mux.Handle("/ws", ws)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// HistoryJSON is the body of /history.json.
type HistoryJSON struct {
	History []journal.Entry `json:"history"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	body := HistoryJSON{History: []journal.Entry{}}
	if s.history != nil {
		entries, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			s.log.Warn().Err(err).Msg("read history")
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if entries != nil {
			body.History = entries
		}
	}

	w.Header().Set("Content-Type", "application/json")
	data, _ := json.MarshalIndent(body, "", "  ")
	w.Write(data)
}
