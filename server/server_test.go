package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/ot"
)

type harness struct {
	t      *testing.T
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := New(Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return &harness{t: t, server: s, http: ts}
}

func (h *harness) dial() *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func seedSnapshot() *document.Snapshot {
	return &document.Snapshot{
		Blocks: []document.BlockData{{ID: "b0", Name: "paragraph", Data: map[string]any{"text": ""}}},
	}
}

func send(t *testing.T, conn *websocket.Conn, typ commons.MessageType, payload any) {
	t.Helper()
	msg, err := commons.NewMessage(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func receive(t *testing.T, conn *websocket.Conn) commons.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg commons.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func handshake(t *testing.T, conn *websocket.Conn, user string, data *document.Snapshot) commons.Handshake {
	t.Helper()
	send(t, conn, commons.HandshakeMessage, commons.Handshake{Document: "doc", UserID: user, Data: data})

	msg := receive(t, conn)
	require.Equal(t, commons.HandshakeMessage, msg.Type)
	var reply commons.Handshake
	require.NoError(t, msg.Decode(&reply))
	return reply
}

func sendOp(t *testing.T, conn *websocket.Conn, op ot.Operation) {
	t.Helper()
	serialized, err := op.ToSerialized()
	require.NoError(t, err)
	send(t, conn, commons.OperationMessage, serialized)
}

func receiveOp(t *testing.T, conn *websocket.Conn) ot.Operation {
	t.Helper()
	msg := receive(t, conn)
	require.Equal(t, commons.OperationMessage, msg.Type)
	var serialized commons.SerializedOperation
	require.NoError(t, msg.Decode(&serialized))
	op, err := ot.FromSerialized(serialized)
	require.NoError(t, err)
	return op
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg commons.Message
		err := conn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr.Code
	}
}

func TestHandshake(t *testing.T) {
	h := newHarness(t)

	first := handshake(t, h.dial(), "u1", seedSnapshot())
	assert.Equal(t, 0, first.Rev)
	assert.Nil(t, first.Data, "the first client gets no snapshot")

	second := handshake(t, h.dial(), "u2", &document.Snapshot{
		Blocks: []document.BlockData{{Name: "paragraph", Data: map[string]any{"text": "ignored"}}},
	})
	assert.Equal(t, 0, second.Rev)
	require.NotNil(t, second.Data)
	require.Len(t, second.Data.Blocks, 1)
	assert.Equal(t, "b0", second.Data.Blocks[0].ID, "later clients do not re-seed")
}

func TestJoinSeedsBeforePublishing(t *testing.T) {
	s := New(Options{})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	e, created, err := s.join("doc", &session{}, seedSnapshot())
	require.NoError(t, err)
	require.True(t, created)

	// A second joiner sees the seed, even though the creator never reached the worker.
	_, created, err = s.join("doc", &session{}, nil)
	require.NoError(t, err)
	assert.False(t, created)

	snapshot, rev, err := e.manager.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rev)
	require.Len(t, snapshot.Blocks, 1)
	assert.Equal(t, "b0", snapshot.Blocks[0].ID)
}

func TestConcurrentHandshakesSeeOneSeed(t *testing.T) {
	h := newHarness(t)

	const clients = 8
	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = h.dial()
	}

	replies := make([]commons.Handshake, clients)
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			seed := &document.Snapshot{Blocks: []document.BlockData{{ID: user, Name: "paragraph", Data: map[string]any{"text": user}}}}
			hs, err := commons.NewMessage(commons.HandshakeMessage, commons.Handshake{Document: "doc", UserID: user, Data: seed})
			if !assert.NoError(t, err) || !assert.NoError(t, conn.WriteJSON(hs)) {
				return
			}

			var msg commons.Message
			if assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second))) && assert.NoError(t, conn.ReadJSON(&msg)) {
				assert.NoError(t, msg.Decode(&replies[i]))
			}
		}(i, conn)
	}
	wg.Wait()

	m, ok := h.server.Manager("doc")
	require.True(t, ok)
	snapshot, _, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Blocks, 1)
	seed := snapshot.Blocks[0].ID

	creators := 0
	for i, reply := range replies {
		assert.Equal(t, 0, reply.Rev)
		if reply.Data == nil {
			creators++
			assert.Equal(t, fmt.Sprintf("u%d", i), seed, "the creator's seed is the document")
			continue
		}
		require.Len(t, reply.Data.Blocks, 1)
		assert.Equal(t, seed, reply.Data.Blocks[0].ID)
	}
	assert.Equal(t, 1, creators)
}

func TestBroadcastIncludesSender(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(), h.dial()
	handshake(t, a, "u1", seedSnapshot())
	handshake(t, b, "u2", nil)

	sendOp(t, a, insert(0, 0, "hi", "u1"))

	for _, conn := range []*websocket.Conn{a, b} {
		op := receiveOp(t, conn)
		assert.Equal(t, 0, op.Rev)
		assert.Equal(t, "u1", op.UserID)
		assert.Equal(t, "hi", op.Data.Payload)
	}
}

func TestConcurrentOperationsArriveInOneOrder(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(), h.dial()
	handshake(t, a, "u1", seedSnapshot())
	handshake(t, b, "u2", nil)

	sendOp(t, a, insert(0, 0, "A", "u1"))
	sendOp(t, b, insert(0, 0, "B", "u2"))

	var orders [2][]string
	for i, conn := range []*websocket.Conn{a, b} {
		for n := 0; n < 2; n++ {
			orders[i] = append(orders[i], receiveOp(t, conn).UserID)
		}
	}
	assert.Equal(t, orders[0], orders[1])

	m, ok := h.server.Manager("doc")
	require.True(t, ok)
	got := text(t, m)
	assert.Contains(t, []string{"AB", "BA"}, got)
}

func TestMissingDocumentCloses(t *testing.T) {
	h := newHarness(t)
	conn := h.dial()

	send(t, conn, commons.HandshakeMessage, commons.Handshake{UserID: "u1"})
	assert.Equal(t, commons.CloseMissingDocument, closeCode(t, conn))
}

func TestOperationBeforeHandshakeCloses(t *testing.T) {
	h := newHarness(t)
	conn := h.dial()

	sendOp(t, conn, insert(0, 0, "x", "u1"))
	assert.Equal(t, commons.CloseUnknownDocument, closeCode(t, conn))
}

func TestRejectedOperationCloses(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(), h.dial()
	handshake(t, a, "u1", seedSnapshot())
	handshake(t, b, "u2", nil)

	sendOp(t, a, insert(0, 7, "x", "u1"))
	assert.Equal(t, commons.CloseRejected, closeCode(t, a))

	// Nothing was broadcast; the next operation still gets revision 0.
	sendOp(t, b, insert(0, 0, "y", "u2"))
	assert.Equal(t, 0, receiveOp(t, b).Rev)
}

func TestMalformedMessagesAreSkipped(t *testing.T) {
	h := newHarness(t)
	conn := h.dial()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus", "payload": 1}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "operation", "payload": map[string]any{"type": "move"}}))

	reply := handshake(t, conn, "u1", seedSnapshot())
	assert.Equal(t, 0, reply.Rev)

	// Still joined after a broken frame.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	sendOp(t, conn, insert(0, 0, "x", "u1"))
	assert.Equal(t, 0, receiveOp(t, conn).Rev)
}

func TestCaretRelay(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(), h.dial()
	handshake(t, a, "u1", seedSnapshot())
	handshake(t, b, "u2", nil)

	caret := commons.Caret{Document: "doc", UserID: "u1", Index: textAt(0).Serialize()}
	send(t, a, commons.CaretMessage, caret)

	msg := receive(t, b)
	require.Equal(t, commons.CaretMessage, msg.Type)
	var got commons.Caret
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, caret, got)

	// The sender only sees the next operation, not its own caret.
	sendOp(t, b, insert(0, 0, "x", "u2"))
	assert.Equal(t, commons.OperationMessage, receive(t, a).Type)
}

func TestDocumentClosesWithLastClient(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(), h.dial()
	handshake(t, a, "u1", seedSnapshot())
	handshake(t, b, "u2", nil)

	a.Close()
	time.Sleep(50 * time.Millisecond)
	_, ok := h.server.Manager("doc")
	assert.True(t, ok, "one client is still editing")

	b.Close()
	assert.Eventually(t, func() bool {
		_, ok := h.server.Manager("doc")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	// A new session starts from scratch.
	reply := handshake(t, h.dial(), "u3", seedSnapshot())
	assert.Equal(t, 0, reply.Rev)
	assert.Nil(t, reply.Data)
}

func TestHTTPRoutes(t *testing.T) {
	h := newHarness(t)
	conn := h.dial()
	handshake(t, conn, "u1", seedSnapshot())
	sendOp(t, conn, insert(0, 0, "hello", "u1"))
	receiveOp(t, conn)

	var doc documentResponse
	getJSON(t, h.http.URL+"/documents/doc", http.StatusOK, &doc)
	assert.Equal(t, 1, doc.Rev)
	assert.Equal(t, "hello", doc.Data.Blocks[0].Data["text"])

	var ops []ot.Operation
	getJSON(t, h.http.URL+"/documents/doc/operations?since=0", http.StatusOK, &ops)
	require.Len(t, ops, 1)
	assert.Equal(t, "hello", ops[0].Data.Payload)

	getJSON(t, h.http.URL+"/documents/missing", http.StatusNotFound, &map[string]string{})
	getJSON(t, h.http.URL+"/documents/doc/operations?since=x", http.StatusBadRequest, &map[string]string{})

	var health map[string]any
	getJSON(t, h.http.URL+"/healthz", http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])
}

func getJSON(t *testing.T, url string, status int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, status, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
