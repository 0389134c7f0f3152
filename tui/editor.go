package tui

import (
	"github.com/mattn/go-runewidth"
)

// Editor is the cursor and viewport over a document of text blocks. Each block is
// shown as one line.
type Editor struct {
	Lines [][]rune

	// Block and Cursor locate the caret: a block number and a rune offset in it.
	Block  int
	Cursor int

	Width  int
	Height int

	// RowOff is the first block shown.
	RowOff int
}

func NewEditor() *Editor {
	return &Editor{}
}

// SetLines replaces the content and keeps the caret in bounds.
func (e *Editor) SetLines(lines []string) {
	e.Lines = make([][]rune, len(lines))
	for i, l := range lines {
		e.Lines[i] = []rune(l)
	}
	e.clamp()
}

func (e *Editor) SetSize(w, h int) {
	e.Width = w
	e.Height = h
	e.scroll()
}

// Line returns the block the caret is in.
func (e *Editor) Line() []rune {
	if e.Block < 0 || e.Block >= len(e.Lines) {
		return nil
	}
	return e.Lines[e.Block]
}

// MoveCursor moves the caret x runes sideways and y blocks up or down. Moving past
// either end of a block continues in the neighbouring block. Vertical moves keep the
// screen column.
func (e *Editor) MoveCursor(x, y int) {
	if len(e.Lines) == 0 {
		return
	}

	if x != 0 {
		e.Cursor += x
		for e.Cursor < 0 && e.Block > 0 {
			e.Block--
			e.Cursor += len(e.Lines[e.Block]) + 1
		}
		for e.Cursor > len(e.Lines[e.Block]) && e.Block < len(e.Lines)-1 {
			e.Cursor -= len(e.Lines[e.Block]) + 1
			e.Block++
		}
	}

	if y != 0 {
		col, _ := e.calcXY()
		e.Block += y
		e.clamp()
		e.Cursor = columnOffset(e.Lines[e.Block], col)
	}

	e.clamp()
	e.scroll()
}

// Home moves the caret to the start of its block.
func (e *Editor) Home() {
	e.Cursor = 0
}

// End moves the caret to the end of its block.
func (e *Editor) End() {
	e.Cursor = len(e.Line())
}

// Place moves the caret to an exact position.
func (e *Editor) Place(block, cursor int) {
	e.Block = block
	e.Cursor = cursor
	e.clamp()
	e.scroll()
}

func (e *Editor) clamp() {
	if len(e.Lines) == 0 {
		e.Block, e.Cursor = 0, 0
		return
	}
	e.Block = min(max(e.Block, 0), len(e.Lines)-1)
	e.Cursor = min(max(e.Cursor, 0), len(e.Lines[e.Block]))
}

// scroll keeps the caret's block inside the viewport. The last row is the status bar.
func (e *Editor) scroll() {
	rows := e.Height - 1
	if rows <= 0 {
		return
	}
	if e.Block < e.RowOff {
		e.RowOff = e.Block
	}
	if e.Block >= e.RowOff+rows {
		e.RowOff = e.Block - rows + 1
	}
}

// calcXY returns the 1-based screen column and row of the caret.
func (e *Editor) calcXY() (int, int) {
	x := 1
	line := e.Line()
	for i := 0; i < e.Cursor && i < len(line); i++ {
		x += runewidth.RuneWidth(line[i])
	}
	return x, e.Block + 1
}

// columnOffset returns the rune offset in line that is closest to screen column col
// without passing it.
func columnOffset(line []rune, col int) int {
	x := 1
	for i, r := range line {
		w := runewidth.RuneWidth(r)
		if x+w > col {
			return i
		}
		x += w
	}
	return len(line)
}
