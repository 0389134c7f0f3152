package ot

// UndoRedo keeps the local undo and redo history as stacks of batches.
type UndoRedo struct {
	undo []Batch
	redo []Batch
}

// NewUndoRedo returns an empty history.
func NewUndoRedo() *UndoRedo {
	return &UndoRedo{}
}

// Put records a new user action and discards everything that could be redone.
func (u *UndoRedo) Put(b Batch) {
	if b.Empty() {
		return
	}
	u.undo = append(u.undo, b)
	u.redo = nil
}

// Undo pops the latest action and returns the batch that reverts it. The action is
// kept on the redo stack. It returns false when there is nothing to undo.
func (u *UndoRedo) Undo() (Batch, bool) {
	if len(u.undo) == 0 {
		return Batch{}, false
	}
	b := u.undo[len(u.undo)-1]
	u.undo = u.undo[:len(u.undo)-1]
	u.redo = append(u.redo, b)
	return b.Inverse(), true
}

// Redo pops the latest undone action, moves it back to the undo stack and returns
// it. It returns false when there is nothing to redo.
func (u *UndoRedo) Redo() (Batch, bool) {
	if len(u.redo) == 0 {
		return Batch{}, false
	}
	b := u.redo[len(u.redo)-1]
	u.redo = u.redo[:len(u.redo)-1]
	u.undo = append(u.undo, b)
	return b, true
}

// CanUndo reports whether Undo has something to return.
func (u *UndoRedo) CanUndo() bool {
	return len(u.undo) > 0
}

// CanRedo reports whether Redo has something to return.
func (u *UndoRedo) CanRedo() bool {
	return len(u.redo) > 0
}

// Transform rebases both stacks against an operation applied by someone else,
// dropping entries it made moot.
func (u *UndoRedo) Transform(against Operation) {
	u.undo = transformStack(u.undo, against)
	u.redo = transformStack(u.redo, against)
}

func transformStack(stack []Batch, against Operation) []Batch {
	out := stack[:0]
	for _, b := range stack {
		if t, ok := b.Transform(against); ok {
			out = append(out, t)
		}
	}
	return out
}
