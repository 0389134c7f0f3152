package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/ot"
)

// Badger stores the journal in an embedded Badger database. Keys sort by revision:
// "op/<document>/<session>/<rev, zero padded>".
type Badger struct {
	db *badger.DB
}

// NewBadger opens a Badger journal at path, or an in-memory one when path is empty.
func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger journal")
	}
	return &Badger{db: db}, nil
}

func badgerPrefix(documentID, session string) []byte {
	return []byte(fmt.Sprintf("op/%s/", streamName(documentID, session)))
}

func badgerKey(documentID, session string, rev int) []byte {
	return append(badgerPrefix(documentID, session), fmt.Sprintf("%010d", rev)...)
}

// Append implements Journal.
func (b *Badger) Append(_ context.Context, session string, op ot.Operation) error {
	doc, err := documentOf(op)
	if err != nil {
		return err
	}
	value, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "encode operation")
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(doc, session, op.Rev), value)
	})
	return errors.Wrap(err, "append to badger journal")
}

// Since implements Journal.
func (b *Badger) Since(ctx context.Context, documentID, session string, rev int) ([]ot.Operation, error) {
	prefix := badgerPrefix(documentID, session)
	var out []ot.Operation

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(badgerKey(documentID, session, rev)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var op ot.Operation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return errors.Wrapf(err, "decode %s", it.Item().Key())
			}
			out = append(out, op)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read badger journal")
	}
	return out, nil
}

// Close implements Journal.
func (b *Badger) Close() error {
	return b.db.Close()
}
