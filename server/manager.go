package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/ot"
)

var (
	// ErrRevisionAhead rejects operations authored against a revision the server has
	// not reached yet.
	ErrRevisionAhead = errors.New("operation revision is ahead of the server")

	// ErrInvalidRevision rejects negative revisions.
	ErrInvalidRevision = errors.New("operation revision is negative")

	// ErrApplyFailed rejects operations the document tree refused. Nothing is
	// committed.
	ErrApplyFailed = errors.New("operation could not be applied")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("document manager is closed")
)

// Result is the outcome of a submitted operation.
type Result struct {
	Op  ot.Operation
	Err error
}

// Listener is called with every committed operation, in commit order, from the
// manager's worker goroutine.
type Listener func(op ot.Operation)

// DocumentManager owns one document: its tree, its revision counter and the log of
// committed operations. All of them are touched only by a single worker goroutine
// that runs queued tasks in FIFO order, so operations are processed strictly one at
// a time in submission order.
type DocumentManager struct {
	id      string
	session string
	logger  logrus.FieldLogger

	// Owned by the worker.
	tree       document.Tree
	log        []ot.Operation
	currentRev int
	listeners  []Listener

	tasks  chan task
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// task is a unit of work for the worker. abort, if set, is called instead of run
// when the manager closes before the task starts.
type task struct {
	run   func()
	abort func()
}

// NewDocumentManager starts a manager for the document id backed by tree.
func NewDocumentManager(id string, tree document.Tree, logger logrus.FieldLogger, listeners ...Listener) *DocumentManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &DocumentManager{
		id:        id,
		session:   uuid.NewString(),
		tree:      tree,
		listeners: listeners,
		tasks:     make(chan task, 64),
		done:      make(chan struct{}),
	}
	m.logger = logger.WithFields(logrus.Fields{"document": id, "session": m.session})

	go m.run()
	return m
}

// ID returns the document id.
func (m *DocumentManager) ID() string {
	return m.id
}

// Session identifies this manager's lifetime. Revisions restart for every session.
func (m *DocumentManager) Session() string {
	return m.session
}

func (m *DocumentManager) run() {
	for {
		select {
		case <-m.done:
			m.drain()
			return
		default:
		}

		select {
		case t := <-m.tasks:
			t.run()
		case <-m.done:
			m.drain()
			return
		}
	}
}

// drain aborts the tasks still queued after Close.
func (m *DocumentManager) drain() {
	for {
		select {
		case t := <-m.tasks:
			if t.abort != nil {
				t.abort()
			}
		default:
			return
		}
	}
}

// enqueue hands t to the worker. It fails only when the manager is closed. m.mu
// keeps Close from slipping in between the check and the send, so nothing is
// queued after drain has run.
func (m *DocumentManager) enqueue(t task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.tasks <- t
	return nil
}

// Submit queues op and returns immediately. The returned channel receives exactly
// one Result once the operation has been processed or the manager is closed.
func (m *DocumentManager) Submit(op ot.Operation) <-chan Result {
	res := make(chan Result, 1)
	op = op.Clone()

	err := m.enqueue(task{
		run: func() {
			committed, err := m.process(op)
			res <- Result{Op: committed, Err: err}
		},
		abort: func() { res <- Result{Err: ErrClosed} },
	})
	if err != nil {
		res <- Result{Err: err}
	}
	return res
}

// Process submits op and waits for its result.
func (m *DocumentManager) Process(ctx context.Context, op ot.Operation) (ot.Operation, error) {
	select {
	case r := <-m.Submit(op):
		return r.Op, r.Err
	case <-ctx.Done():
		return ot.Operation{}, ctx.Err()
	}
}

// Do runs fn on the worker, between operations, and waits for it to return. fn sees
// the current revision and the tree, and must not keep either.
func (m *DocumentManager) Do(ctx context.Context, fn func(rev int, tree document.Tree)) error {
	finished := make(chan struct{})
	err := m.enqueue(task{run: func() {
		defer close(finished)
		fn(m.currentRev, m.tree)
	}})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Seed replaces the document with snapshot.
func (m *DocumentManager) Seed(ctx context.Context, snapshot document.Snapshot) error {
	var err error
	if doErr := m.Do(ctx, func(_ int, tree document.Tree) {
		err = tree.Initialize(snapshot)
	}); doErr != nil {
		return doErr
	}
	return errors.Wrap(err, "seed document")
}

// Snapshot returns a copy of the document and the revision it reflects.
func (m *DocumentManager) Snapshot(ctx context.Context) (document.Snapshot, int, error) {
	var (
		snapshot document.Snapshot
		rev      int
	)
	if err := m.Do(ctx, func(r int, tree document.Tree) {
		snapshot, rev = tree.Serialized(), r
	}); err != nil {
		return document.Snapshot{}, 0, err
	}
	return snapshot, rev, nil
}

// Operations returns copies of the committed operations with Rev >= from.
func (m *DocumentManager) Operations(ctx context.Context, from int) ([]ot.Operation, error) {
	var out []ot.Operation
	if err := m.Do(ctx, func(rev int, _ document.Tree) {
		for _, op := range m.log[min(max(from, 0), rev):] {
			out = append(out, op.Clone())
		}
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the worker once the running task returns. Operations still queued
// receive ErrClosed.
func (m *DocumentManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// process transforms op against everything committed since op.Rev, applies it and
// commits it under the next revision. It runs on the worker only.
func (m *DocumentManager) process(op ot.Operation) (ot.Operation, error) {
	logger := m.logger.WithFields(logrus.Fields{"user": op.UserID, "rev": op.Rev})

	switch {
	case op.Rev < 0:
		return ot.Operation{}, errors.Wrapf(ErrInvalidRevision, "rev %d", op.Rev)
	case op.Rev > m.currentRev:
		return ot.Operation{}, errors.Wrapf(ErrRevisionAhead, "rev %d, server at %d", op.Rev, m.currentRev)
	}

	transformed := op
	for _, committed := range m.log[op.Rev:] {
		transformed = ot.Transform(transformed, committed)
	}

	if err := transformed.Apply(m.tree); err != nil {
		logger.WithError(err).Warn("rejecting operation")
		return ot.Operation{}, errors.Wrapf(ErrApplyFailed, "%s: %v", transformed, err)
	}

	transformed.Rev = m.currentRev
	m.log = append(m.log, transformed)
	m.currentRev++

	if transformed.IsNeutral() {
		logger.Debug("committed a moot operation")
	}
	dump(logger, "committed", transformed)

	for _, l := range m.listeners {
		l(transformed.Clone())
	}
	return transformed.Clone(), nil
}
