// Package server implements the collaboration server: one DocumentManager per open
// document, WebSocket sessions that feed it, and a few read-only HTTP routes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/journal"
	"github.com/burntcarrot/otpad/ot"
)

// Options configures a Server.
type Options struct {
	// Journal archives committed operations. Defaults to an in-memory journal.
	Journal journal.Journal

	Logger logrus.FieldLogger

	// CheckOrigin is passed to the WebSocket upgrader. Defaults to allowing all.
	CheckOrigin func(r *http.Request) bool

	// SendBuffer is the number of outgoing messages buffered per connection before
	// the connection is dropped as too slow.
	SendBuffer int

	// JournalTimeout bounds every journal write.
	JournalTimeout time.Duration

	// JournalBuffer is the number of committed operations queued for the journal
	// before commits wait for it.
	JournalBuffer int
}

// entry is an open document: its manager and the sessions editing it.
type entry struct {
	manager *DocumentManager
	clients mapset.Set[*session]
}

// Server maps document ids to open documents.
type Server struct {
	mu        sync.Mutex
	documents map[string]*entry
	sessions  mapset.Set[*session]

	upgrader websocket.Upgrader
	journal  journal.Journal
	archiver *archiver
	logger   logrus.FieldLogger
	opts     Options

	router *mux.Router
	http   *http.Server
}

// New returns a server ready to be mounted with Handler or started with
// ListenAndServe.
func New(opts Options) *Server {
	if opts.Journal == nil {
		opts.Journal = journal.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.JournalTimeout <= 0 {
		opts.JournalTimeout = 5 * time.Second
	}
	if opts.JournalBuffer <= 0 {
		opts.JournalBuffer = 1024
	}

	s := &Server{
		documents: make(map[string]*entry),
		sessions:  mapset.NewSet[*session](),
		upgrader:  websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		journal:   opts.Journal,
		archiver:  newArchiver(opts.Journal, opts.Logger, opts.JournalTimeout, opts.JournalBuffer),
		logger:    opts.Logger,
		opts:      opts,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", s.handleDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/operations", s.handleOperations).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, closes every session, stops every
// document manager and waits for the journal writes still queued.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	for _, sess := range s.sessions.ToSlice() {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	s.mu.Lock()
	for id, e := range s.documents {
		e.manager.Close()
		delete(s.documents, id)
	}
	s.mu.Unlock()

	if archiveErr := s.archiver.Close(ctx); err == nil {
		err = archiveErr
	}
	return err
}

// Manager returns the manager of an open document.
func (s *Server) Manager(id string) (*DocumentManager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.documents[id]
	if !ok {
		return nil, false
	}
	return e.manager, true
}

// join registers sess with the document, creating the manager on first use. It
// reports whether the document was created by this call. A new document is seeded
// with data before anyone else can see it.
func (s *Server) join(id string, sess *session, data *document.Snapshot) (*entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.documents[id]
	if ok {
		e.clients.Add(sess)
		return e, false, nil
	}

	tree := document.New(id)
	if data != nil {
		if err := tree.Initialize(*data); err != nil {
			return nil, false, errors.Wrap(err, "seed document")
		}
	}

	e = &entry{clients: mapset.NewSet[*session](sess)}
	e.manager = NewDocumentManager(id, tree, s.logger,
		func(op ot.Operation) { s.archiver.Append(e.manager.Session(), op) },
		func(op ot.Operation) { s.broadcast(e, op) },
	)
	s.documents[id] = e
	s.logger.WithFields(logrus.Fields{"document": id, "session": e.manager.Session()}).Info("document opened")
	return e, true, nil
}

// leave removes sess from its document and closes the document once nobody is
// editing it.
func (s *Server) leave(sess *session) {
	s.sessions.Remove(sess)

	id := sess.documentID()
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.documents[id]
	if !ok {
		return
	}
	e.clients.Remove(sess)
	if e.clients.Cardinality() > 0 {
		return
	}

	e.manager.Close()
	delete(s.documents, id)
	s.logger.WithField("document", id).Info("document closed")
}

func (s *Server) lookup(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.documents[id]
	return e, ok
}

// broadcast sends a committed operation to every joined session of the document,
// the author included. It runs on the manager's worker, so every session sees
// operations in commit order.
func (s *Server) broadcast(e *entry, op ot.Operation) {
	serialized, err := op.ToSerialized()
	if err != nil {
		s.logger.WithError(err).Error("encode committed operation")
		return
	}
	msg, err := commons.NewMessage(commons.OperationMessage, serialized)
	if err != nil {
		s.logger.WithError(err).Error("encode committed operation")
		return
	}

	e.clients.Each(func(sess *session) bool {
		if sess.isReady() {
			sess.deliver(msg)
		}
		return false
	})
}

///////////////
// HTTP
///////////////

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("upgrade to websocket failed")
		return
	}

	sess := newSession(s, conn)
	s.sessions.Add(sess)
	go sess.writeLoop()
	sess.readLoop()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	open := len(s.documents)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "documents": open})
}

type documentResponse struct {
	Document string            `json:"document"`
	Rev      int               `json:"rev"`
	Session  string            `json:"session"`
	Data     document.Snapshot `json:"data"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "document is not open")
		return
	}

	snapshot, rev, err := e.manager.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: id, Rev: rev, Session: e.manager.Session(), Data: snapshot})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		e, ok := s.lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "document is not open")
			return
		}
		session = e.manager.Session()
	}

	if err := s.archiver.Sync(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	ops, err := s.journal.Since(r.Context(), id, session, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ops == nil {
		ops = []ot.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
