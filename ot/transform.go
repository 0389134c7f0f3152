package ot

import (
	"fmt"
	"unicode/utf8"
)

// Transform returns op rewritten as if against had already been applied to the
// document. against is assumed to come first in server order, so on an insert tie at
// the same position op moves right. The result is a Neutral operation when against
// has made op moot.
func Transform(op, against Operation) Operation {
	return transform(op, against, false)
}

// Rebase is Transform with the tie broken the other way: op keeps its position when
// both insert at the same place. Clients use it to move a remote operation, which the
// server already ordered first, past their own pending operations.
func Rebase(op, local Operation) Operation {
	return transform(op, local, true)
}

func transform(op, against Operation, priority bool) Operation {
	mustBeKnown(op.Type)
	mustBeKnown(against.Type)

	if op.Type == Neutral || against.Type == Neutral || against.Type == Modify {
		return op.Clone()
	}
	if op.Index.DocumentID != against.Index.DocumentID {
		return op.Clone()
	}

	switch {
	case against.Index.IsBlockIndex():
		return transformAgainstBlock(op, against, priority)

	case against.Index.IsDataIndex() && against.Type == Delete:
		if op.Index.SameField(against.Index) {
			return neutral(op)
		}

	case op.Index.IsTextIndex() && against.Index.IsTextIndex() && op.Index.SameField(against.Index):
		if against.Type == Insert {
			return transformAgainstTextInsert(op, against, priority)
		}
		return transformAgainstTextDelete(op, against)
	}

	return op.Clone()
}

// transformAgainstBlock shifts block indexes after a block insert or delete.
func transformAgainstBlock(op, against Operation, priority bool) Operation {
	block, ok := op.Index.Block()
	if !ok {
		return op.Clone()
	}

	at := *against.Index.BlockIndex
	n := against.BlockCount()
	insertsBlocks := op.Type == Insert && op.Index.IsBlockIndex()

	switch against.Type {
	case Insert:
		if block > at || (block == at && !(priority && insertsBlocks)) {
			block += n
		}
	case Delete:
		switch {
		case block >= at+n:
			block -= n
		case block >= at && insertsBlocks:
			block = at
		case block >= at:
			return neutral(op)
		}
	}

	out := op.Clone()
	out.Index = out.Index.WithBlock(block)
	return out
}

// transformAgainstTextInsert moves op after text was inserted into the same field.
func transformAgainstTextInsert(op, against Operation, priority bool) Operation {
	r := *op.Index.TextRange
	start, end := r.Start(), r.End()
	pos := against.Index.TextRange.Start()
	length := against.TextLength()
	width := span(op)

	out := op.Clone()

	switch {
	case op.Type == Delete && op.Index.Equal(against.Index):
		// The insert landed where this delete starts; delete it as well.
		out.Data.Payload = spliceIn(op.Data.Payload, 0, against.Data.Payload)
		if end > start {
			end += length
		}

	case pos < start || (pos == start && (op.Type != Insert || !priority)):
		start += length
		end += length

	case op.Type != Insert && pos > start && pos < start+width:
		// Inserted strictly inside a deleted or formatted range: the range grows.
		if op.Type == Delete {
			out.Data.Payload = spliceIn(op.Data.Payload, pos-start, against.Data.Payload)
		}
		end += length

	default:
		return out
	}

	out.Index = out.Index.WithRange(start, end)
	return out
}

// transformAgainstTextDelete moves op after text was removed from the same field.
func transformAgainstTextDelete(op, against Operation) Operation {
	if op.Index.Equal(against.Index) {
		return neutral(op)
	}

	r := *op.Index.TextRange
	start, end := r.Start(), r.End()
	width := span(op)

	delStart := against.Index.TextRange.Start()
	delEnd := delStart + span(against)

	before := clampZero(min(delEnd, start) - delStart)

	if op.Type == Insert || width == 0 {
		if delStart < start && start < delEnd {
			return neutral(op)
		}
		out := op.Clone()
		out.Index = out.Index.WithRange(start-before, end-before)
		return out
	}

	overlapStart := max(delStart, start)
	inside := clampZero(min(delEnd, start+width) - overlapStart)
	if inside == width {
		return neutral(op)
	}

	out := op.Clone()
	if op.Type == Delete && inside > 0 {
		out.Data.Payload = spliceOut(op.Data.Payload, overlapStart-start, inside)
	}
	newStart := start - before
	out.Index = out.Index.WithRange(newStart, newStart+clampZero(end-start-inside))
	return out
}

// span returns how many characters op covers: the removed text for a delete, the
// range width otherwise. Inserts cover a single position.
func span(op Operation) int {
	switch op.Type {
	case Insert:
		return 0
	case Delete:
		if n := op.TextLength(); n > 0 {
			return n
		}
	}
	r := *op.Index.TextRange
	return r.End() - r.Start()
}

func neutral(op Operation) Operation {
	return NewNeutral(op.Index, op.UserID)
}

func mustBeKnown(t Type) {
	if !t.Valid() {
		panic(fmt.Sprintf("ot: unknown operation type %q", t))
	}
}

func clampZero(n int) int {
	return max(n, 0)
}

// spliceIn inserts the text of add into a text payload at rune offset at. Payloads
// that are not text are returned unchanged.
func spliceIn(payload any, at int, add any) any {
	s, ok := payload.(string)
	ins, ok2 := add.(string)
	if !ok || !ok2 {
		return payload
	}
	r := []rune(s)
	at = min(max(at, 0), len(r))
	return string(r[:at]) + ins + string(r[at:])
}

// spliceOut removes n runes at offset at from a text payload.
func spliceOut(payload any, at, n int) any {
	s, ok := payload.(string)
	if !ok || utf8.RuneCountInString(s) == 0 {
		return payload
	}
	r := []rune(s)
	at = min(max(at, 0), len(r))
	end := min(at+n, len(r))
	return string(r[:at]) + string(r[end:])
}
