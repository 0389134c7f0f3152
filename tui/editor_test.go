package tui

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCalcXY(t *testing.T) {
	tests := []struct {
		description string
		block       int
		cursor      int
		expectedX   int
		expectedY   int
	}{
		{description: "initial position", block: 0, cursor: 0, expectedX: 1, expectedY: 1},
		{description: "normal editing", block: 0, cursor: 6, expectedX: 7, expectedY: 1},
		{description: "second block", block: 1, cursor: 2, expectedX: 3, expectedY: 2},
		{description: "wide runes", block: 2, cursor: 2, expectedX: 5, expectedY: 3},
	}

	e := NewEditor()
	e.SetLines([]string{"content", "test", "世界!"})

	for _, tc := range tests {
		e.Block, e.Cursor = tc.block, tc.cursor
		x, y := e.calcXY()

		got := []int{x, y}
		expected := []int{tc.expectedX, tc.expectedY}

		if !cmp.Equal(got, expected) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, expected))
		}
	}
}

func TestMoveCursor(t *testing.T) {
	tests := []struct {
		description string
		lines       []string
		block       int
		cursor      int
		x           int
		y           int
		expected    []int
	}{
		{description: "move forward (empty document)", lines: nil, x: 1, expected: []int{0, 0}},
		{description: "move forward", lines: []string{"foo"}, x: 1, expected: []int{0, 1}},
		{description: "move backward (out of bounds)", lines: []string{"foo"}, x: -10, expected: []int{0, 0}},
		{description: "move forward (out of bounds)", lines: []string{"foo"}, cursor: 3, x: 2, expected: []int{0, 3}},
		{description: "move forward into next block", lines: []string{"foo", "bar"}, cursor: 3, x: 1, expected: []int{1, 0}},
		{description: "move backward into previous block", lines: []string{"foo", "bar"}, block: 1, x: -1, expected: []int{0, 3}},
		{description: "move up", lines: []string{"foo", "bar"}, block: 1, cursor: 2, y: -1, expected: []int{0, 2}},
		{description: "move down", lines: []string{"foo", "bar"}, cursor: 1, y: 2, expected: []int{1, 1}},
		{description: "move up (first block)", lines: []string{"foo", "bar"}, cursor: 1, y: -1, expected: []int{0, 1}},
		{description: "move down (long to short)", lines: []string{"fool", "ba"}, cursor: 4, y: 1, expected: []int{1, 2}},
		{description: "move down (to empty block)", lines: []string{"foo", ""}, cursor: 2, y: 1, expected: []int{1, 0}},
		{description: "move down (keeps screen column over wide runes)", lines: []string{"abcd", "世界"}, cursor: 2, y: 1, expected: []int{1, 1}},
	}

	for _, tc := range tests {
		e := NewEditor()
		e.SetLines(tc.lines)
		e.Block, e.Cursor = tc.block, tc.cursor
		e.MoveCursor(tc.x, tc.y)

		got := []int{e.Block, e.Cursor}
		if !cmp.Equal(got, tc.expected) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, tc.expected))
		}
	}
}

func TestScroll(t *testing.T) {
	tests := []struct {
		description    string
		block          int
		y              int
		rowOff         int
		expectedRowOff int
	}{
		{description: "scroll down", block: 3, y: 1, rowOff: 0, expectedRowOff: 1},
		{description: "scroll up", block: 1, y: -1, rowOff: 1, expectedRowOff: 0},
		{description: "no scroll", block: 1, y: 1, rowOff: 0, expectedRowOff: 0},
	}

	for _, tc := range tests {
		e := NewEditor()
		e.SetLines([]string{"a", "b", "c", "d", "e"})
		e.SetSize(5, 5)
		e.Block, e.RowOff = tc.block, tc.rowOff

		e.MoveCursor(0, tc.y)

		if e.RowOff != tc.expectedRowOff {
			t.Errorf("(%s) wrong row offset: got = %d, expected = %d", tc.description, e.RowOff, tc.expectedRowOff)
		}
	}
}

func TestSetLinesClamps(t *testing.T) {
	e := NewEditor()
	e.SetLines([]string{"hello", "world"})
	e.Place(1, 5)

	e.SetLines([]string{"hi"})

	if got := []int{e.Block, e.Cursor}; !cmp.Equal(got, []int{0, 2}) {
		t.Errorf("got != expected, diff: %v", cmp.Diff(got, []int{0, 2}))
	}
}
