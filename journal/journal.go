// Package journal archives committed operations per document session.
//
// A session starts when the server creates a DocumentManager for a document and ends
// when its last client disconnects. Revisions restart at zero for every session, so
// entries are keyed by document and session.
package journal

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/ot"
)

// Journal is an append-only log of committed operations.
type Journal interface {
	// Append stores op, which must already carry its server revision.
	Append(ctx context.Context, session string, op ot.Operation) error

	// Since returns the operations of a session with Rev >= rev, in order.
	Since(ctx context.Context, documentID, session string, rev int) ([]ot.Operation, error)

	Close() error
}

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindBadger = "badger"
	KindRedis  = "redis"
)

// ErrUnknownKind is returned by Open for an unsupported journal kind.
var ErrUnknownKind = errors.New("unknown journal kind")

// Options selects and configures a journal backend.
type Options struct {
	Kind string

	// BadgerPath is the database directory; empty means in-memory.
	BadgerPath string

	RedisAddr string

	// MaxLen caps each Redis stream; zero keeps everything.
	MaxLen int64
}

// Open returns the journal described by opts.
func Open(ctx context.Context, opts Options) (Journal, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindBadger:
		return NewBadger(opts.BadgerPath)
	case KindRedis:
		return NewRedis(ctx, opts.RedisAddr, opts.MaxLen)
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q", opts.Kind)
}

func documentOf(op ot.Operation) (string, error) {
	if op.Index.DocumentID == "" {
		return "", errors.Errorf("operation %s has no document id", op)
	}
	return op.Index.DocumentID, nil
}

func streamName(documentID, session string) string {
	return fmt.Sprintf("%s/%s", documentID, session)
}
