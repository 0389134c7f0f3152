// Package client implements the client side of the collaboration protocol: a
// stop-and-wait OT client that keeps local operations pending until the server
// acknowledges them, and a Collaboration that ties it to a local document with
// batching and undo/redo.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
	"github.com/burntcarrot/otpad/ot"
)

// State is the client's protocol state.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateIdle
	StateAwaitingAck
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateIdle:
		return "idle"
	case StateAwaitingAck:
		return "awaiting ack"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("client is closed")

// Options configures a Client.
type Options struct {
	Document string
	UserID   string

	// Data seeds the document if this client is the first to open it.
	Data *document.Snapshot

	// OnSnapshot receives the document when the server sends it in the handshake.
	// Operations sent before the handshake are still pending and will be committed
	// on top of the snapshot, so OnSnapshot must apply them again.
	OnSnapshot func(snapshot document.Snapshot, rev int)

	// OnRemote receives every remote operation, already rebased over the local
	// pending operations. Moot operations are not delivered.
	OnRemote func(op ot.Operation)

	// OnCaret receives other clients' caret updates.
	OnCaret func(caret commons.Caret)

	// Locker is held while OnSnapshot and OnRemote run, and must be held by callers
	// that apply a local operation and then Send it, so both happen atomically with
	// respect to remote operations. Defaults to a private mutex.
	Locker sync.Locker

	Logger logrus.FieldLogger
}

// Client tracks the operations this user has sent but the server has not
// acknowledged yet. At most one operation is in flight.
type Client struct {
	conn   Conn
	opts   Options
	logger logrus.FieldLogger

	mu       sync.Mutex
	state    State
	rev      int
	pending  []ot.Operation
	resolved []ot.Operation
	err      error

	joined   chan struct{}
	joinOnce sync.Once
	done     chan struct{}
}

// New returns a client over conn. Call Connect to start it.
func New(conn Conn, opts Options) *Client {
	if opts.Locker == nil {
		opts.Locker = &sync.Mutex{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Client{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.WithFields(logrus.Fields{"document": opts.Document, "user": opts.UserID}),
		joined: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Connect sends the handshake and starts reading from the connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return errors.Errorf("connect in state %s", c.state)
	}

	hs := commons.Handshake{Document: c.opts.Document, UserID: c.opts.UserID, Rev: c.rev, Data: c.opts.Data}
	if err := c.write(commons.HandshakeMessage, hs); err != nil {
		return err
	}
	c.state = StateHandshaking

	go c.readLoop()
	return nil
}

// Send queues a local operation. It is sent right away if nothing is in flight.
func (c *Client) Send(op ot.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}

	op = op.Clone()
	op.UserID = c.opts.UserID
	c.pending = append(c.pending, op)

	if c.state == StateIdle {
		return c.sendNext()
	}
	return nil
}

// SendCaret tells the other clients where this user's caret is.
func (c *Client) SendCaret(idx index.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}
	return c.write(commons.CaretMessage, commons.Caret{Document: c.opts.Document, UserID: c.opts.UserID, Index: idx.Serialize()})
}

// State returns the protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rev returns the revision the next operation will be authored against.
func (c *Client) Rev() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev
}

// Pending returns copies of the unacknowledged operations, in flight one first.
func (c *Client) Pending() []ot.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.pending)
}

// Resolved returns copies of the acknowledged local operations.
func (c *Client) Resolved() []ot.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.resolved)
}

// Joined is closed once the server has answered the handshake.
func (c *Client) Joined() <-chan struct{} {
	return c.joined
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// sendNext puts the first pending operation in flight. Callers hold c.mu.
func (c *Client) sendNext() error {
	if len(c.pending) == 0 {
		c.state = StateIdle
		return nil
	}

	c.pending[0].Rev = c.rev
	serialized, err := c.pending[0].ToSerialized()
	if err != nil {
		return err
	}
	if err := c.write(commons.OperationMessage, serialized); err != nil {
		return err
	}
	c.state = StateAwaitingAck
	return nil
}

// write sends one message. Callers hold c.mu, which serializes writes.
func (c *Client) write(t commons.MessageType, payload any) error {
	msg, err := commons.NewMessage(t, payload)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.conn.WriteJSON(msg), "write %s", t)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.state = StateClosed
			c.err = err
			c.mu.Unlock()
			c.logger.WithError(err).Info("connection closed")
			return
		}

		var msg commons.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WithError(err).Warn("skipping malformed message")
			continue
		}

		switch msg.Type {
		case commons.HandshakeMessage:
			err = c.handleHandshake(msg)
		case commons.OperationMessage:
			err = c.handleOperation(msg)
		case commons.CaretMessage:
			err = c.handleCaret(msg)
		default:
			c.logger.WithField("type", msg.Type).Warn("skipping message of unknown type")
		}
		if err != nil {
			c.logger.WithError(err).Warn("skipping message")
		}
	}
}

func (c *Client) handleHandshake(msg commons.Message) error {
	var hs commons.Handshake
	if err := msg.Decode(&hs); err != nil {
		return err
	}

	c.opts.Locker.Lock()
	defer c.opts.Locker.Unlock()

	if hs.Data != nil && c.opts.OnSnapshot != nil {
		c.opts.OnSnapshot(*hs.Data, hs.Rev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rev = hs.Rev
	c.joinOnce.Do(func() { close(c.joined) })
	c.logger.WithField("rev", hs.Rev).Info("joined document")
	return c.sendNext()
}

func (c *Client) handleOperation(msg commons.Message) error {
	var serialized commons.SerializedOperation
	if err := msg.Decode(&serialized); err != nil {
		return err
	}
	op, err := ot.FromSerialized(serialized)
	if err != nil {
		return err
	}

	c.opts.Locker.Lock()
	defer c.opts.Locker.Unlock()

	c.mu.Lock()
	if op.UserID == c.opts.UserID && c.state == StateAwaitingAck {
		defer c.mu.Unlock()
		return c.acknowledge(op)
	}

	rebased := c.rebase(op)
	c.mu.Unlock()

	if rebased.IsNeutral() || c.opts.OnRemote == nil {
		return nil
	}
	c.opts.OnRemote(rebased)
	return nil
}

// acknowledge resolves the operation in flight and sends the next one. Callers hold
// c.mu.
func (c *Client) acknowledge(op ot.Operation) error {
	c.rev = op.Rev + 1

	done := c.pending[0]
	done.Rev = op.Rev
	c.resolved = append(c.resolved, done)
	c.pending = c.pending[1:]

	c.logger.WithField("rev", op.Rev).Debug("operation acknowledged")
	return c.sendNext()
}

// rebase moves a remote operation past every pending operation and moves the
// pending operations past it. Callers hold c.mu.
func (c *Client) rebase(remote ot.Operation) ot.Operation {
	c.rev = remote.Rev + 1

	rebased := remote
	for i, local := range c.pending {
		c.pending[i] = ot.Transform(local, rebased)
		rebased = ot.Rebase(rebased, local)
	}
	return rebased
}

func (c *Client) handleCaret(msg commons.Message) error {
	var caret commons.Caret
	if err := msg.Decode(&caret); err != nil {
		return err
	}
	if c.opts.OnCaret != nil {
		c.opts.OnCaret(caret)
	}
	return nil
}

func cloneAll(ops []ot.Operation) []ot.Operation {
	out := make([]ot.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}
