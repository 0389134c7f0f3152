package client

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
	"github.com/burntcarrot/otpad/ot"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// CollaborationOptions configures a Collaboration.
type CollaborationOptions struct {
	Document string
	UserID   string

	// Tree is the local document. Defaults to an empty document.Model.
	Tree document.Tree

	// Seed is sent with the handshake and used if this user opens the document first.
	Seed *document.Snapshot

	// Debounce closes the open undo batch after this much inactivity. Zero means
	// 500ms.
	Debounce time.Duration

	// OnChange is called, on its own goroutine, after a remote operation or the
	// server's snapshot changed the local document.
	OnChange func()

	// OnCaret receives other users' caret positions.
	OnCaret func(commons.Caret)

	Logger logrus.FieldLogger
}

// Collaboration is one user's editing session: it applies local edits to the local
// document, sends them through a Client, groups them into undo batches, and applies
// remote edits as they arrive.
type Collaboration struct {
	mu      sync.Mutex
	tree    document.Tree
	client  *Client
	history *ot.UndoRedo
	batch   *ot.Batch
	timer   *time.Timer

	userID   string
	debounce time.Duration
	onChange func()
	logger   logrus.FieldLogger
}

// NewCollaboration returns a collaboration over conn. Call Connect to join.
func NewCollaboration(conn Conn, opts CollaborationOptions) *Collaboration {
	if opts.Tree == nil {
		opts.Tree = document.New(opts.Document)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Collaboration{
		tree:     opts.Tree,
		history:  ot.NewUndoRedo(),
		userID:   opts.UserID,
		debounce: opts.Debounce,
		onChange: opts.OnChange,
		logger:   opts.Logger.WithFields(logrus.Fields{"document": opts.Document, "user": opts.UserID}),
	}

	if opts.Seed != nil {
		if err := c.tree.Initialize(*opts.Seed); err != nil {
			c.logger.WithError(err).Warn("seeding the local document failed")
		}
	}

	c.client = New(conn, Options{
		Document:   opts.Document,
		UserID:     opts.UserID,
		Data:       opts.Seed,
		OnSnapshot: c.applySnapshot,
		OnRemote:   c.applyRemote,
		OnCaret:    opts.OnCaret,
		Locker:     &c.mu,
		Logger:     opts.Logger,
	})
	return c
}

// Connect joins the document.
func (c *Collaboration) Connect() error {
	return c.client.Connect()
}

// Joined is closed once the server has answered the handshake.
func (c *Collaboration) Joined() <-chan struct{} {
	return c.client.Joined()
}

// Client returns the underlying protocol client.
func (c *Collaboration) Client() *Client {
	return c.client
}

// Rev returns the revision the local document is at, as far as the server has
// confirmed.
func (c *Collaboration) Rev() int {
	return c.client.Rev()
}

// Pending returns how many local operations the server has not acknowledged.
func (c *Collaboration) Pending() int {
	return len(c.client.Pending())
}

// View runs fn with the local document. fn must not keep the tree.
func (c *Collaboration) View(fn func(tree document.Tree)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.tree)
}

// Apply performs a local edit: it changes the local document, records the edit for
// undo and sends it to the server.
func (c *Collaboration) Apply(op ot.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op = op.Clone()
	op.UserID = c.userID

	if err := op.Apply(c.tree); err != nil {
		return errors.Wrapf(err, "apply %s", op)
	}

	if c.batch != nil && c.batch.CanAdd(op) {
		c.batch.Add(op)
	} else {
		c.flushLocked()
		b := ot.NewBatch(op)
		c.batch = &b
	}
	c.resetTimerLocked()

	return c.client.Send(op)
}

// Flush closes the open undo batch.
func (c *Collaboration) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Undo reverts the latest batch of local edits.
func (c *Collaboration) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()
	b, ok := c.history.Undo()
	if !ok {
		return ErrNothingToUndo
	}
	return c.replayLocked(b)
}

// Redo re-applies the latest undone batch.
func (c *Collaboration) Redo() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()
	b, ok := c.history.Redo()
	if !ok {
		return ErrNothingToRedo
	}
	return c.replayLocked(b)
}

// CanUndo reports whether Undo has something to revert, the open batch included.
func (c *Collaboration) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch != nil || c.history.CanUndo()
}

// CanRedo reports whether Redo has something to re-apply.
func (c *Collaboration) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.CanRedo()
}

// SendCaret publishes this user's caret position.
func (c *Collaboration) SendCaret(idx index.Index) error {
	return c.client.SendCaret(idx)
}

// Close stops the debounce timer and closes the connection.
func (c *Collaboration) Close() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	return c.client.Close()
}

// replayLocked applies and sends every operation of an undo or redo batch.
func (c *Collaboration) replayLocked(b ot.Batch) error {
	for _, op := range b.Operations() {
		op.UserID = c.userID
		if err := op.Apply(c.tree); err != nil {
			return errors.Wrapf(err, "replay %s", op)
		}
		if err := c.client.Send(op); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collaboration) flushLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.batch == nil {
		return
	}
	c.history.Put(*c.batch)
	c.batch = nil
}

func (c *Collaboration) resetTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.Flush)
}

// applySnapshot replaces the local document with the server's and replays the
// edits made while the handshake was in flight, which the server will commit on top
// of it. The client holds c.mu.
func (c *Collaboration) applySnapshot(snapshot document.Snapshot, rev int) {
	if err := c.tree.Initialize(snapshot); err != nil {
		c.logger.WithError(err).Error("loading the server snapshot failed")
		return
	}
	for _, op := range c.client.Pending() {
		if err := op.Apply(c.tree); err != nil {
			c.logger.WithError(err).WithField("op", op.String()).Error("replaying a local edit on the server snapshot failed")
		}
	}
	c.logger.WithField("rev", rev).Debug("loaded server snapshot")
	go c.changed()
}

// applyRemote applies another user's operation, already rebased over the pending
// local ones, and rebases the undo history over it. The client holds c.mu.
func (c *Collaboration) applyRemote(op ot.Operation) {
	if err := op.Apply(c.tree); err != nil {
		c.logger.WithError(err).WithField("rev", op.Rev).Error("applying remote operation failed")
		return
	}

	if c.batch != nil {
		if b, ok := c.batch.Transform(op); ok {
			c.batch = &b
		} else {
			c.batch = nil
		}
	}
	c.history.Transform(op)

	go c.changed()
}

func (c *Collaboration) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
