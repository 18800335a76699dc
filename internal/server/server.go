// Package server exposes documents over HTTP and websockets.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabtext/internal/collab"
	"collabtext/internal/metrics"
	"collabtext/internal/service"
)

const maxBodySize = 1 << 20

// Server routes HTTP and websocket requests to a Service.
type Server struct {
	svc      *service.Service
	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// New returns a Server for svc.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/documents/{id}", s.handleCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/documents/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/documents/{id}/records", s.handleRecords).Methods(http.MethodGet)
	s.router.HandleFunc("/documents/{id}/records", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/documents/{id}/ws", s.serveWs).Methods(http.MethodGet)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handle mounts an extra GET handler at path.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodGet)
}

// Static serves the files under dir for every path no other route matches.
func (s *Server) Static(dir string) {
	s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(dir))).Methods(http.MethodGet)
}

// Close disconnects every websocket session.
func (s *Server) Close() {
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.close()
	}
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.Sessions.Inc()
	s.logger.Info("session opened", "doc", sess.docID, "client", sess.clientID, "sessions", n)
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.Sessions.Dec()
	s.logger.Info("session closed", "doc", sess.docID, "client", sess.clientID, "sessions", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	head, err := s.svc.Create(r.Context(), docID, body.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, DocumentView{
		ID:           docID,
		Revision:     head.Revision,
		TailRevision: head.Revision,
		Text:         body.Text,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	snap, err := s.svc.Snapshot(r.Context(), docID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	text, err := snap.Head.Text()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentView{
		ID:           docID,
		Revision:     snap.Head.Revision,
		TailRevision: snap.Tail.Revision,
		Text:         text,
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	after := 0
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: after=%q", errBadRequest, v))
			return
		}
		after = n
	}
	snap, err := s.svc.Snapshot(r.Context(), docID, after)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rerr := &collab.ReconciliationError{
		Op:             "list records",
		TargetRevision: after,
		HeadRevision:   snap.Head.Revision,
		TailRevision:   snap.Tail.Revision,
	}
	switch {
	case after > snap.Head.Revision:
		rerr.Err = collab.ErrFutureRevision
	case after < snap.Tail.Revision:
		rerr.Err = collab.ErrHistoryCompacted
	}
	if rerr.Err != nil {
		s.writeError(w, rerr)
		return
	}
	records := snap.Records
	if records == nil {
		records = []collab.ServerRecord{}
	}
	writeJSON(w, http.StatusOK, RecordsView{
		Head:         snap.Head.Revision,
		TailRevision: snap.Tail.Revision,
		Records:      records,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	var sub collab.SubmittedRecord
	if err := decodeBody(w, r, &sub); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Submit(r.Context(), docID, sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Type == collab.ResultExisting {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitView{Result: res.Type, Record: res.Record})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		// Changeset decoding reports its own validation errors.
		if _, code := classify(err); code == "invalid" {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorView{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
