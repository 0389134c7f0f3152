package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
	"github.com/burntcarrot/otpad/ot"
)

func newManager(t *testing.T, listeners ...Listener) *DocumentManager {
	t.Helper()
	m := NewDocumentManager("doc", document.New("doc"), nil, listeners...)
	t.Cleanup(m.Close)
	return m
}

func textAt(pos int) index.Index {
	return index.Text("doc", 0, "text", pos, pos)
}

// withBlock commits an empty paragraph as revision 0.
func withBlock(t *testing.T, m *DocumentManager) {
	t.Helper()
	op := ot.NewInsert(index.Block("doc", 0), []document.BlockData{{ID: "b0", Name: "paragraph", Data: map[string]any{"text": ""}}}, "setup")
	_, err := m.Process(context.Background(), op)
	require.NoError(t, err)
}

func insert(pos, rev int, text, user string) ot.Operation {
	op := ot.NewInsert(textAt(pos), text, user)
	op.Rev = rev
	return op
}

func text(t *testing.T, m *DocumentManager) string {
	t.Helper()
	snapshot, _, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, snapshot.Blocks)
	s, _ := snapshot.Blocks[0].Data["text"].(string)
	return s
}

func TestManagerRevisionsAreSequential(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	for i := 1; i <= 5; i++ {
		committed, err := m.Process(context.Background(), insert(i-1, i, "x", "u1"))
		require.NoError(t, err)
		assert.Equal(t, i, committed.Rev)
	}

	ops, err := m.Operations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, ops, 6)
	for i, op := range ops {
		assert.Equal(t, i, op.Rev)
	}

	tail, err := m.Operations(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestManagerConcurrentInsertsConverge(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	_, err := m.Process(context.Background(), insert(0, 1, "A", "u1"))
	require.NoError(t, err)
	committed, err := m.Process(context.Background(), insert(0, 1, "B", "u2"))
	require.NoError(t, err)

	assert.Equal(t, 2, committed.Rev)
	assert.Equal(t, "AB", text(t, m))
}

func TestManagerStaleButValid(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	for _, op := range []ot.Operation{insert(0, 1, "A", "u1"), insert(1, 2, "A", "u1"), insert(0, 1, "B", "u2")} {
		_, err := m.Process(context.Background(), op)
		require.NoError(t, err)
	}
	assert.Equal(t, "AAB", text(t, m))
}

func TestManagerRejectsRevisionAhead(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	_, err := m.Process(context.Background(), insert(0, 5, "x", "u1"))
	assert.ErrorIs(t, err, ErrRevisionAhead)

	_, err = m.Process(context.Background(), insert(0, -1, "x", "u1"))
	assert.ErrorIs(t, err, ErrInvalidRevision)

	_, rev, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rev)
}

func TestManagerApplyFailureCommitsNothing(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	op := ot.NewInsert(index.Text("doc", 3, "text", 0, 0), "x", "u1")
	op.Rev = 1
	_, err := m.Process(context.Background(), op)
	assert.ErrorIs(t, err, ErrApplyFailed)

	ops, err := m.Operations(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestManagerCommitsMootOperations(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	_, err := m.Process(context.Background(), insert(0, 1, "abcdef", "u1"))
	require.NoError(t, err)
	del := ot.NewDelete(index.Text("doc", 0, "text", 1, 5), "bcde", "u1")
	del.Rev = 2
	_, err = m.Process(context.Background(), del)
	require.NoError(t, err)

	// Authored before the delete, inside the removed range.
	committed, err := m.Process(context.Background(), insert(3, 2, "x", "u2"))
	require.NoError(t, err)
	assert.True(t, committed.IsNeutral())
	assert.Equal(t, 3, committed.Rev)
	assert.Equal(t, "af", text(t, m))
}

func TestManagerSubmitKeepsOrder(t *testing.T) {
	m := newManager(t)
	withBlock(t, m)

	var results []<-chan Result
	for i := 0; i < 10; i++ {
		results = append(results, m.Submit(insert(0, 1, fmt.Sprint(i), "u1")))
	}
	for i, res := range results {
		r := <-res
		require.NoError(t, r.Err)
		assert.Equal(t, i+1, r.Op.Rev)
	}
	assert.Equal(t, "0123456789", text(t, m))
}

func TestManagerListenersSeeCommitOrder(t *testing.T) {
	var revs []int
	m := newManager(t, func(op ot.Operation) { revs = append(revs, op.Rev) })
	withBlock(t, m)

	for i := 1; i <= 3; i++ {
		_, err := m.Process(context.Background(), insert(0, i, "x", "u1"))
		require.NoError(t, err)
	}

	// Snapshot runs on the worker after the listeners, so revs is settled.
	_, _, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, revs)
}

func TestManagerSeed(t *testing.T) {
	m := newManager(t)
	err := m.Seed(context.Background(), document.Snapshot{
		Blocks: []document.BlockData{{ID: "b0", Name: "paragraph", Data: map[string]any{"text": "seed"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "seed", text(t, m))
}

func TestManagerClosed(t *testing.T) {
	m := NewDocumentManager("doc", document.New("doc"), nil)
	m.Close()

	_, err := m.Process(context.Background(), insert(0, 0, "x", "u1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Do(context.Background(), func(int, document.Tree) {}), ErrClosed)
}

func TestManagerCloseAnswersQueuedOperations(t *testing.T) {
	m := NewDocumentManager("doc", document.New("doc"), nil)

	started, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = m.Do(context.Background(), func(int, document.Tree) {
			close(started)
			<-release
		})
	}()
	<-started

	queued := m.Submit(insert(0, 0, "x", "u1"))
	m.Close()
	close(release)

	select {
	case r := <-queued:
		assert.ErrorIs(t, r.Err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("queued operation never got a result")
	}
}
