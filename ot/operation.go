// Package ot implements operational transformation over addressed document edits.
//
// An Operation is a tagged union of Insert, Delete, Modify and Neutral edits. Every
// function in this package treats operations as values: results are fresh copies and
// inputs are never mutated.
package ot

import (
	"fmt"
	"unicode/utf8"

	"github.com/jinzhu/copier"

	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
)

// Type tags an Operation.
type Type string

const (
	Insert  Type = "insert"
	Delete  Type = "delete"
	Modify  Type = "modify"
	Neutral Type = "neutral"
)

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	switch t {
	case Insert, Delete, Modify, Neutral:
		return true
	}
	return false
}

// Data is the type specific payload of an Operation. Insert and Delete only use
// Payload: a string for text ranges or a []document.BlockData for block indexes.
// Modify carries the new value in Payload and the old one in PrevPayload.
type Data struct {
	Payload     any `json:"payload"`
	PrevPayload any `json:"prevPayload,omitempty"`
}

// Operation is one addressed document edit.
type Operation struct {
	Type  Type
	Index index.Index
	Data  Data

	// UserID identifies the author.
	UserID string

	// Rev is the revision the operation was authored against until the server
	// commits it, and the operation's position in the server log afterwards.
	Rev int
}

// NewInsert returns an Insert of payload at idx.
func NewInsert(idx index.Index, payload any, userID string) Operation {
	return Operation{Type: Insert, Index: idx.Clone(), Data: Data{Payload: clonePayload(payload)}, UserID: userID}
}

// NewDelete returns a Delete of payload at idx. For text, payload is the removed text.
func NewDelete(idx index.Index, payload any, userID string) Operation {
	return Operation{Type: Delete, Index: idx.Clone(), Data: Data{Payload: clonePayload(payload)}, UserID: userID}
}

// NewModify returns a Modify replacing prev with value at idx.
func NewModify(idx index.Index, value, prev any, userID string) Operation {
	return Operation{
		Type:   Modify,
		Index:  idx.Clone(),
		Data:   Data{Payload: clonePayload(value), PrevPayload: clonePayload(prev)},
		UserID: userID,
	}
}

// NewNeutral returns an operation that changes nothing.
func NewNeutral(idx index.Index, userID string) Operation {
	return Operation{Type: Neutral, Index: idx.Clone(), UserID: userID}
}

// Clone returns a deep copy of op.
func (op Operation) Clone() Operation {
	out := op
	out.Index = op.Index.Clone()
	out.Data = Data{
		Payload:     clonePayload(op.Data.Payload),
		PrevPayload: clonePayload(op.Data.PrevPayload),
	}
	return out
}

// IsNeutral reports whether op has no effect.
func (op Operation) IsNeutral() bool {
	return op.Type == Neutral
}

// Inverse returns the operation that undoes op.
func (op Operation) Inverse() Operation {
	out := op.Clone()

	switch op.Type {
	case Insert:
		out.Type = Delete
	case Delete:
		out.Type = Insert
	case Modify:
		out.Data.Payload, out.Data.PrevPayload = out.Data.PrevPayload, out.Data.Payload
	case Neutral:
	default:
		panic(fmt.Sprintf("ot: inverse of unknown operation type %q", op.Type))
	}

	return out
}

// Apply performs op on tree.
func (op Operation) Apply(tree document.Tree) error {
	switch op.Type {
	case Insert:
		return tree.InsertData(op.Index, op.Data.Payload)
	case Delete:
		return tree.RemoveData(op.Index, op.Data.Payload)
	case Modify:
		return tree.ModifyData(op.Index, document.Change{Value: op.Data.Payload, Previous: op.Data.PrevPayload})
	case Neutral:
		return nil
	}
	panic(fmt.Sprintf("ot: apply of unknown operation type %q", op.Type))
}

// TextLength returns the number of characters carried by a text payload.
func (op Operation) TextLength() int {
	if s, ok := op.Data.Payload.(string); ok {
		return utf8.RuneCountInString(s)
	}
	return 0
}

// BlockCount returns the number of blocks carried by a block payload, at least one.
func (op Operation) BlockCount() int {
	if blocks, err := document.BlocksFrom(op.Data.Payload); err == nil && len(blocks) > 0 {
		return len(blocks)
	}
	return 1
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s by %s at rev %d", op.Type, op.Index.Serialize(), op.UserID, op.Rev)
}

var deepCopy = copier.Option{DeepCopy: true}

// clonePayload copies the payload types operations carry. Strings and scalars are
// immutable and returned as is.
func clonePayload(v any) any {
	switch p := v.(type) {
	case []document.BlockData:
		var out []document.BlockData
		if err := copier.CopyWithOption(&out, &p, deepCopy); err != nil {
			return p
		}
		return out
	case document.BlockData:
		var out document.BlockData
		if err := copier.CopyWithOption(&out, &p, deepCopy); err != nil {
			return p
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(p))
		if err := copier.CopyWithOption(&out, &p, deepCopy); err != nil {
			return p
		}
		return out
	case []any:
		out := make([]any, 0, len(p))
		if err := copier.CopyWithOption(&out, &p, deepCopy); err != nil {
			return p
		}
		return out
	}
	return v
}
