package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
	"github.com/burntcarrot/otpad/ot"
)

const writeWait = 10 * time.Second

// session is one client connection. The read loop runs on the HTTP handler's
// goroutine; every write goes through the send channel to the write loop.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	logger logrus.FieldLogger

	send      chan commons.Message
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	document string
	userID   string

	// ready is set once the handshake reply is queued; broadcasts skip the session
	// until then.
	ready atomic.Bool
}

func newSession(s *Server, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		server: s,
		conn:   conn,
		logger: s.logger.WithField("connection", id),
		send:   make(chan commons.Message, s.opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *session) documentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// log returns the session logger with the joined document and user, if any.
func (c *session) log() logrus.FieldLogger {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.document == "" {
		return c.logger
	}
	return c.logger.WithFields(logrus.Fields{"document": c.document, "user": c.userID})
}

func (c *session) isReady() bool {
	return c.ready.Load()
}

// deliver queues msg for the write loop. A session that cannot keep up is dropped.
func (c *session) deliver(msg commons.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.log().Warn("send buffer full, dropping connection")
		c.closeWith(websocket.ClosePolicyViolation, "too slow")
	}
}

// closeWith sends a close frame with code and closes the connection.
func (c *session) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.log().WithFields(logrus.Fields{"code": code, "reason": reason}).Info("closing connection")
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.conn.Close()
	})
}

func (c *session) readLoop() {
	defer func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		c.server.leave(c)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if _, ok := err.(*websocket.CloseError); !ok {
				c.log().WithError(err).Debug("read failed")
			}
			return
		}

		var msg commons.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log().WithError(err).Warn("skipping malformed message")
			continue
		}

		switch msg.Type {
		case commons.HandshakeMessage:
			c.handleHandshake(msg)
		case commons.OperationMessage:
			c.handleOperation(msg)
		case commons.CaretMessage:
			c.handleCaret(msg)
		default:
			c.log().WithField("type", msg.Type).Warn("skipping message of unknown type")
		}
	}
}

func (c *session) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log().WithError(err).Debug("write failed")
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *session) handleHandshake(msg commons.Message) {
	var hs commons.Handshake
	if err := msg.Decode(&hs); err != nil {
		c.log().WithError(err).Warn("skipping malformed handshake")
		return
	}
	if hs.Document == "" {
		c.closeWith(commons.CloseMissingDocument, "handshake without document id")
		return
	}

	c.mu.Lock()
	if c.document != "" {
		c.mu.Unlock()
		c.log().Warn("skipping second handshake")
		return
	}
	c.document, c.userID = hs.Document, hs.UserID
	c.mu.Unlock()

	e, created, err := c.server.join(hs.Document, c, hs.Data)
	if err != nil {
		c.log().WithError(err).Warn("handshake failed")
		c.closeWith(commons.CloseRejected, "handshake failed")
		return
	}

	// The snapshot and registration happen in one step on the worker, so no
	// operation can slip in between the snapshot and the first broadcast.
	var replyErr error
	err = e.manager.Do(context.Background(), func(rev int, tree document.Tree) {
		reply := commons.Handshake{Document: hs.Document, UserID: hs.UserID, Rev: rev}
		if !created {
			snapshot := tree.Serialized()
			reply.Data = &snapshot
		}

		out, err := commons.NewMessage(commons.HandshakeMessage, reply)
		if err != nil {
			replyErr = err
			return
		}
		c.deliver(out)
		c.ready.Store(true)
	})
	if err == nil {
		err = replyErr
	}
	if err != nil {
		c.log().WithError(err).Warn("handshake failed")
		c.closeWith(commons.CloseRejected, "handshake failed")
		return
	}

	c.log().WithField("created", created).Info("joined document")
}

func (c *session) handleOperation(msg commons.Message) {
	var serialized commons.SerializedOperation
	if err := msg.Decode(&serialized); err != nil {
		c.log().WithError(err).Warn("skipping malformed operation")
		return
	}
	op, err := ot.FromSerialized(serialized)
	if err != nil {
		c.log().WithError(err).Warn("skipping malformed operation")
		return
	}

	if op.Index.DocumentID == "" {
		c.closeWith(commons.CloseMissingDocument, "operation without document id")
		return
	}
	e, ok := c.server.lookup(op.Index.DocumentID)
	if !ok || op.Index.DocumentID != c.documentID() || !c.isReady() {
		c.closeWith(commons.CloseUnknownDocument, "document is not open on this connection")
		return
	}

	// The reader does not wait: operations queue on the manager in arrival order.
	res := e.manager.Submit(op)
	go func() {
		r := <-res
		if r.Err != nil {
			c.log().WithError(r.Err).Warn("operation rejected")
			c.closeWith(commons.CloseRejected, "operation rejected")
		}
	}()
}

func (c *session) handleCaret(msg commons.Message) {
	var caret commons.Caret
	if err := msg.Decode(&caret); err != nil {
		c.log().WithError(err).Warn("skipping malformed caret")
		return
	}
	if _, err := index.Parse(caret.Index); err != nil {
		c.log().WithError(err).Warn("skipping caret with a bad index")
		return
	}

	id := c.documentID()
	if caret.Document != id || !c.isReady() {
		return
	}
	e, ok := c.server.lookup(id)
	if !ok {
		return
	}

	e.clients.Each(func(other *session) bool {
		if other != c && other.isReady() {
			other.deliver(msg)
		}
		return false
	})
}
