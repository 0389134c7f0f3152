package ot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
)

func otherBlock(start, end int) index.Index {
	return index.Text("doc", 1, "text", start, end)
}

func blocks(names ...string) []document.BlockData {
	out := make([]document.BlockData, len(names))
	for i, n := range names {
		out[i] = document.BlockData{ID: n, Name: "paragraph", Data: map[string]any{"text": n}}
	}
	return out
}

func TestTransform(t *testing.T) {
	bold := document.Format{Tool: "bold"}

	tests := []struct {
		description string
		op          Operation
		against     Operation
		expected    Operation
	}{
		{
			description: "insert tie moves right",
			op:          NewInsert(text(0, 0), "x", "u1"),
			against:     NewInsert(text(0, 0), "y", "u2"),
			expected:    NewInsert(text(1, 1), "x", "u1"),
		},
		{
			description: "insert after an insert shifts",
			op:          NewInsert(text(5, 5), "x", "u1"),
			against:     NewInsert(text(2, 2), "ab", "u2"),
			expected:    NewInsert(text(7, 7), "x", "u1"),
		},
		{
			description: "insert before an insert is unchanged",
			op:          NewInsert(text(2, 2), "x", "u1"),
			against:     NewInsert(text(5, 5), "ab", "u2"),
			expected:    NewInsert(text(2, 2), "x", "u1"),
		},
		{
			description: "multibyte insert shifts by characters",
			op:          NewInsert(text(3, 3), "x", "u1"),
			against:     NewInsert(text(0, 0), "Ωé", "u2"),
			expected:    NewInsert(text(5, 5), "x", "u1"),
		},
		{
			description: "delete grows around an insert inside it",
			op:          NewDelete(text(2, 5), "cde", "u1"),
			against:     NewInsert(text(3, 3), "XY", "u2"),
			expected:    NewDelete(text(2, 7), "cXYde", "u1"),
		},
		{
			description: "modify grows around an insert inside it",
			op:          NewModify(text(1, 3), bold, nil, "u1"),
			against:     NewInsert(text(2, 2), "x", "u2"),
			expected:    NewModify(text(1, 4), bold, nil, "u1"),
		},
		{
			description: "delete before shifts back",
			op:          NewDelete(text(2, 4), "cd", "u1"),
			against:     NewDelete(text(0, 2), "ab", "u2"),
			expected:    NewDelete(text(0, 2), "cd", "u1"),
		},
		{
			description: "overlapping deletes keep the rest",
			op:          NewDelete(text(2, 6), "cdef", "u1"),
			against:     NewDelete(text(4, 8), "efgh", "u2"),
			expected:    NewDelete(text(2, 4), "cd", "u1"),
		},
		{
			description: "delete inside a delete is moot",
			op:          NewDelete(text(3, 4), "d", "u1"),
			against:     NewDelete(text(2, 6), "cdef", "u2"),
			expected:    NewNeutral(text(3, 4), "u1"),
		},
		{
			description: "insert inside a deleted range is moot",
			op:          NewInsert(text(4, 4), "x", "u1"),
			against:     NewDelete(text(2, 6), "cdef", "u2"),
			expected:    NewNeutral(text(4, 4), "u1"),
		},
		{
			description: "insert at the end of a deleted range moves to its start",
			op:          NewInsert(text(6, 6), "x", "u1"),
			against:     NewDelete(text(2, 6), "cdef", "u2"),
			expected:    NewInsert(text(2, 2), "x", "u1"),
		},
		{
			description: "insert against a delete at the same index is moot",
			op:          NewInsert(text(0, 0), "x", "u1"),
			against:     NewDelete(text(0, 0), "a", "u2"),
			expected:    NewNeutral(text(0, 0), "u1"),
		},
		{
			description: "delete at the same index as an insert deletes it too",
			op:          NewDelete(text(0, 0), "a", "u1"),
			against:     NewInsert(text(0, 0), "x", "u2"),
			expected:    NewDelete(text(0, 0), "xa", "u1"),
		},
		{
			description: "other block is unaffected",
			op:          NewInsert(otherBlock(0, 0), "x", "u1"),
			against:     NewInsert(text(0, 0), "y", "u2"),
			expected:    NewInsert(otherBlock(0, 0), "x", "u1"),
		},
		{
			description: "other document is unaffected",
			op:          NewInsert(index.Text("other", 0, "text", 0, 0), "x", "u1"),
			against:     NewInsert(text(0, 0), "y", "u2"),
			expected:    NewInsert(index.Text("other", 0, "text", 0, 0), "x", "u1"),
		},
		{
			description: "modify never moves anything",
			op:          NewInsert(text(3, 3), "x", "u1"),
			against:     NewModify(text(0, 5), bold, nil, "u2"),
			expected:    NewInsert(text(3, 3), "x", "u1"),
		},
		{
			description: "neutral stays neutral",
			op:          NewNeutral(text(3, 3), "u1"),
			against:     NewInsert(text(0, 0), "y", "u2"),
			expected:    NewNeutral(text(3, 3), "u1"),
		},
		{
			description: "block insert shifts text in later blocks",
			op:          NewInsert(otherBlock(0, 0), "x", "u1"),
			against:     NewInsert(index.Block("doc", 1), blocks("a", "b"), "u2"),
			expected:    NewInsert(index.Text("doc", 3, "text", 0, 0), "x", "u1"),
		},
		{
			description: "block insert leaves earlier blocks alone",
			op:          NewInsert(text(0, 0), "x", "u1"),
			against:     NewInsert(index.Block("doc", 1), blocks("a"), "u2"),
			expected:    NewInsert(text(0, 0), "x", "u1"),
		},
		{
			description: "block delete shifts later blocks back",
			op:          NewInsert(index.Text("doc", 2, "text", 0, 0), "x", "u1"),
			against:     NewDelete(index.Block("doc", 1), blocks("a"), "u2"),
			expected:    NewInsert(otherBlock(0, 0), "x", "u1"),
		},
		{
			description: "edit inside a deleted block is moot",
			op:          NewInsert(otherBlock(0, 0), "x", "u1"),
			against:     NewDelete(index.Block("doc", 1), blocks("a"), "u2"),
			expected:    NewNeutral(otherBlock(0, 0), "u1"),
		},
		{
			description: "block insert inside a deleted range clamps",
			op:          NewInsert(index.Block("doc", 2), blocks("n"), "u1"),
			against:     NewDelete(index.Block("doc", 1), blocks("a", "b"), "u2"),
			expected:    NewInsert(index.Block("doc", 1), blocks("n"), "u1"),
		},
	}

	for _, tc := range tests {
		got := Transform(tc.op, tc.against)
		if !cmp.Equal(got, tc.expected, cmpopts.EquateEmpty()) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, tc.expected, cmpopts.EquateEmpty()))
		}
	}
}

func TestRebaseWinsTies(t *testing.T) {
	remote := NewInsert(text(0, 0), "x", "u1")
	local := NewInsert(text(0, 0), "y", "u2")

	got := Rebase(remote, local)
	if !cmp.Equal(got, remote) {
		t.Errorf("got != expected, diff: %v\n", cmp.Diff(got, remote))
	}

	// A delete starting at the insert still moves past it.
	del := NewDelete(text(0, 1), "a", "u1")
	got = Rebase(del, local)
	expected := NewDelete(text(1, 2), "a", "u1")
	if !cmp.Equal(got, expected) {
		t.Errorf("got != expected, diff: %v\n", cmp.Diff(got, expected))
	}
}

func TestTransformDoesNotMutate(t *testing.T) {
	op := NewDelete(text(2, 5), "cde", "u1")
	against := NewInsert(text(3, 3), "XY", "u2")
	before, againstBefore := op.Clone(), against.Clone()

	_ = Transform(op, against)

	if !cmp.Equal(op, before) || !cmp.Equal(against, againstBefore) {
		t.Errorf("transform mutated its inputs")
	}
}

func TestTransformUnknownTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected a panic")
		}
	}()
	Transform(Operation{Type: "move", Index: text(0, 0)}, NewInsert(text(0, 0), "x", "u1"))
}

// TestConvergence applies every pair in both orders the way the server and the
// author of b see them: the server runs a then Transform(b, a), while b's author ran
// b and then rebases a over it.
func TestConvergence(t *testing.T) {
	bold := document.Format{Tool: "bold"}

	pairs := []struct {
		description string
		a, b        Operation
	}{
		{"insert tie", NewInsert(text(2, 2), "X", "u1"), NewInsert(text(2, 2), "Y", "u2")},
		{"insert and delete apart", NewInsert(text(1, 1), "X", "u1"), NewDelete(text(4, 6), "ef", "u2")},
		{"overlapping deletes", NewDelete(text(2, 6), "cdef", "u1"), NewDelete(text(4, 8), "efgh", "u2")},
		{"same delete", NewDelete(text(2, 4), "cd", "u1"), NewDelete(text(2, 4), "cd", "u2")},
		{"insert inside delete", NewInsert(text(4, 4), "XY", "u1"), NewDelete(text(2, 6), "cdef", "u2")},
		{"delete around insert", NewDelete(text(2, 6), "cdef", "u1"), NewInsert(text(4, 4), "XY", "u2")},
		{"insert at delete start", NewInsert(text(2, 2), "X", "u1"), NewDelete(text(2, 4), "cd", "u2")},
		{"insert at delete end", NewInsert(text(4, 4), "X", "u1"), NewDelete(text(2, 4), "cd", "u2")},
		{"insert against delete on the same index", NewInsert(text(0, 0), "X", "u1"), NewDelete(text(0, 0), "a", "u2")},
		{"delete against insert on the same index", NewDelete(text(0, 0), "a", "u1"), NewInsert(text(0, 0), "X", "u2")},
		{"format around insert", NewModify(text(1, 3), bold, nil, "u1"), NewInsert(text(2, 2), "X", "u2")},
		{"block insert and text edit", NewInsert(index.Block("doc", 0), blocks("n"), "u1"), NewInsert(text(3, 3), "X", "u2")},
		{"block delete and later block edit", NewDelete(index.Block("doc", 0), blocks("a"), "u1"), NewInsert(otherBlock(1, 1), "X", "u2")},
	}

	for _, tc := range pairs {
		server := seeded(t)
		apply(t, tc.description, server, tc.a, Transform(tc.b, tc.a))

		author := seeded(t)
		apply(t, tc.description, author, tc.b, Rebase(tc.a, tc.b))

		if diff := cmp.Diff(server.Serialized(), author.Serialized(), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("(%s) documents diverged, diff: %v\n", tc.description, diff)
		}
	}
}

func seeded(t *testing.T) *document.Model {
	t.Helper()
	m := document.New("doc")
	err := m.Initialize(document.Snapshot{
		Identifier: "doc",
		Blocks: []document.BlockData{
			{ID: "b0", Name: "paragraph", Data: map[string]any{"text": "abcdefgh"}},
			{ID: "b1", Name: "paragraph", Data: map[string]any{"text": "xyz"}},
		},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func apply(t *testing.T, description string, m *document.Model, ops ...Operation) {
	t.Helper()
	for _, op := range ops {
		if err := op.Apply(m); err != nil {
			t.Fatalf("(%s) apply %s: %v", description, op, err)
		}
	}
}
