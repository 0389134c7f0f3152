package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/journal"
	"github.com/burntcarrot/otpad/ot"
)

// record is one queued journal write. A record with a non-nil synced channel is a
// barrier: it is closed once every earlier record has been written.
type record struct {
	session string
	op      ot.Operation
	synced  chan struct{}
}

// archiver writes committed operations to the journal on its own goroutine, in
// commit order, so managers never wait on the journal backend.
type archiver struct {
	journal journal.Journal
	logger  logrus.FieldLogger
	timeout time.Duration

	records chan record
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newArchiver(j journal.Journal, logger logrus.FieldLogger, timeout time.Duration, buffer int) *archiver {
	a := &archiver{
		journal: j,
		logger:  logger,
		timeout: timeout,
		records: make(chan record, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *archiver) run() {
	defer close(a.done)

	for r := range a.records {
		if r.synced != nil {
			close(r.synced)
			continue
		}
		a.write(r)
	}
}

func (a *archiver) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.journal.Append(ctx, r.session, r.op); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{"session": r.session, "rev": r.op.Rev}).Warn("journal append failed")
	}
}

// push queues r. It blocks only while the buffer is full.
func (a *archiver) push(r record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.records <- r
	return true
}

// Append queues op for the journal.
func (a *archiver) Append(session string, op ot.Operation) {
	if !a.push(record{session: session, op: op}) {
		a.logger.WithField("rev", op.Rev).Warn("journal closed, dropping operation")
	}
}

// Sync waits until everything queued before the call has been written.
func (a *archiver) Sync(ctx context.Context) error {
	synced := make(chan struct{})
	if !a.push(record{synced: synced}) {
		return nil
	}

	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits for the queued ones to be written.
func (a *archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.records)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
