package ot

// Batch is a run of operations treated as a single undo step, such as consecutive
// keystrokes. A Batch is never empty once created with NewBatch.
type Batch struct {
	ops []Operation
}

// NewBatch returns a batch holding op.
func NewBatch(op Operation) Batch {
	return Batch{ops: []Operation{op.Clone()}}
}

// Operations returns copies of the batch members in order.
func (b Batch) Operations() []Operation {
	out := make([]Operation, len(b.ops))
	for i, op := range b.ops {
		out[i] = op.Clone()
	}
	return out
}

// Len returns the number of operations in the batch.
func (b Batch) Len() int {
	return len(b.ops)
}

// Empty reports whether the batch has no operations.
func (b Batch) Empty() bool {
	return len(b.ops) == 0
}

// First returns the first operation. It panics on an empty batch.
func (b Batch) First() Operation {
	return b.ops[0].Clone()
}

// CanAdd reports whether op continues the batch: both are text operations of the
// same type on the same field, and op starts right where the last member ends.
func (b Batch) CanAdd(op Operation) bool {
	if len(b.ops) == 0 {
		return false
	}
	last := b.ops[len(b.ops)-1]

	if last.Type != op.Type || (op.Type != Insert && op.Type != Delete) {
		return false
	}
	if !last.Index.IsTextIndex() || !op.Index.IsTextIndex() || !last.Index.SameField(op.Index) {
		return false
	}
	return op.Index.TextRange.Start() == last.Index.TextRange.End()+1
}

// Add appends op. Callers check CanAdd first.
func (b *Batch) Add(op Operation) {
	b.ops = append(b.ops, op.Clone())
}

// Inverse returns a batch that undoes b: every member inverted, in reverse order.
func (b Batch) Inverse() Batch {
	out := Batch{ops: make([]Operation, len(b.ops))}
	for i, op := range b.ops {
		out.ops[len(b.ops)-1-i] = op.Inverse()
	}
	return out
}

// Transform rewrites every member independently against against. It returns false
// when the first member becomes moot; other moot members are dropped.
func (b Batch) Transform(against Operation) (Batch, bool) {
	if len(b.ops) == 0 {
		return Batch{}, false
	}

	out := Batch{ops: make([]Operation, 0, len(b.ops))}
	for i, op := range b.ops {
		t := Transform(op, against)
		if t.IsNeutral() {
			if i == 0 {
				return Batch{}, false
			}
			continue
		}
		out.ops = append(out.ops, t)
	}
	return out, true
}
