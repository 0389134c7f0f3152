package index

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidIndex is the cause of every validation failure.
var ErrInvalidIndex = errors.New("invalid index")

// TextRange represents a [start, end] character range inside a text data field.
type TextRange [2]int

// Start returns the first character offset of the range.
func (r TextRange) Start() int {
	return r[0]
}

// End returns the last character offset of the range.
func (r TextRange) End() int {
	return r[1]
}

// Index addresses one mutable location inside a document: the document itself,
// a document property, a block, a block tune, a block data field or a text
// sub-range of a data field.
//
// Absent fields are the zero value: an empty string or a nil pointer.
// Indexes are immutable by convention; use Clone or a Builder to derive new ones.
type Index struct {
	DocumentID   string
	PropertyName string
	BlockIndex   *int
	TuneName     string
	TuneKey      string
	DataKey      string
	TextRange    *TextRange
}

// ValidationError describes which addressing rule an Index broke.
type ValidationError struct {
	Index  Index
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrInvalidIndex, e.Index.segments(), e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidIndex.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidIndex
}

// Validate checks the addressing invariants.
func (i Index) Validate() error {
	invalid := func(reason string) error {
		return &ValidationError{Index: i.Clone(), Reason: reason}
	}

	hasTune := i.TuneName != "" || i.TuneKey != ""
	hasData := i.DataKey != "" || i.TextRange != nil

	for _, v := range []string{i.DocumentID, i.PropertyName, i.TuneName, i.TuneKey, i.DataKey} {
		if strings.Contains(v, segmentSeparator) {
			return invalid(fmt.Sprintf("field %q contains %q", v, segmentSeparator))
		}
	}
	if i.TuneName != "" && i.TuneKey == "" {
		return invalid("tune name requires a tune key")
	}
	if i.TuneKey != "" && i.TuneName == "" {
		return invalid("tune key requires a tune name")
	}
	if hasTune && hasData {
		return invalid("tune fields cannot be combined with data key or text range")
	}
	if i.PropertyName != "" && i.hasBlockScope() {
		return invalid("property name cannot be combined with block fields")
	}
	if i.BlockIndex != nil && i.TextRange != nil && i.DataKey == "" {
		return invalid("text range requires a data key")
	}
	if i.DocumentID != "" && i.hasBlockScope() && i.BlockIndex == nil {
		return invalid("block fields of a document index require a block index")
	}
	if i.BlockIndex != nil && *i.BlockIndex < 0 {
		return invalid("block index cannot be negative")
	}
	if r := i.TextRange; r != nil && (r.Start() < 0 || r.End() < r.Start()) {
		return invalid(fmt.Sprintf("malformed text range [%d,%d]", r.Start(), r.End()))
	}

	return nil
}

func (i Index) hasBlockScope() bool {
	return i.BlockIndex != nil || i.TuneName != "" || i.TuneKey != "" || i.DataKey != "" || i.TextRange != nil
}

// IsTextIndex reports whether the index points to a text range of a block data field.
func (i Index) IsTextIndex() bool {
	return i.BlockIndex != nil && i.DataKey != "" && i.TextRange != nil
}

// IsBlockIndex reports whether the index points to a whole block.
func (i Index) IsBlockIndex() bool {
	return i.BlockIndex != nil && i.DataKey == "" && i.TextRange == nil && i.TuneName == "" && i.TuneKey == ""
}

// IsDataIndex reports whether the index points to a whole block data field.
func (i Index) IsDataIndex() bool {
	return i.BlockIndex != nil && i.DataKey != "" && i.TextRange == nil
}

// IsTuneIndex reports whether the index points to a block tune value.
func (i Index) IsTuneIndex() bool {
	return i.BlockIndex != nil && i.TuneName != ""
}

// IsPropertyIndex reports whether the index points to a document property.
func (i Index) IsPropertyIndex() bool {
	return i.PropertyName != ""
}

// Block returns the block index and whether it is present.
func (i Index) Block() (int, bool) {
	if i.BlockIndex == nil {
		return 0, false
	}
	return *i.BlockIndex, true
}

// Range returns the text range and whether it is present.
func (i Index) Range() (TextRange, bool) {
	if i.TextRange == nil {
		return TextRange{}, false
	}
	return *i.TextRange, true
}

// SameField reports whether both indexes address the same data field of the same block
// in the same document.
func (i Index) SameField(other Index) bool {
	if i.DocumentID != other.DocumentID || i.DataKey != other.DataKey || i.DataKey == "" {
		return false
	}
	a, okA := i.Block()
	b, okB := other.Block()
	return okA && okB && a == b
}

// Clone returns a copy of the index that shares no memory with the receiver.
func (i Index) Clone() Index {
	out := i
	if i.BlockIndex != nil {
		b := *i.BlockIndex
		out.BlockIndex = &b
	}
	if i.TextRange != nil {
		r := *i.TextRange
		out.TextRange = &r
	}
	return out
}

// Equal compares two indexes by value.
func (i Index) Equal(other Index) bool {
	if i.DocumentID != other.DocumentID ||
		i.PropertyName != other.PropertyName ||
		i.TuneName != other.TuneName ||
		i.TuneKey != other.TuneKey ||
		i.DataKey != other.DataKey {
		return false
	}
	if (i.BlockIndex == nil) != (other.BlockIndex == nil) {
		return false
	}
	if i.BlockIndex != nil && *i.BlockIndex != *other.BlockIndex {
		return false
	}
	if (i.TextRange == nil) != (other.TextRange == nil) {
		return false
	}
	return i.TextRange == nil || *i.TextRange == *other.TextRange
}

// WithBlock returns a copy of the index pointing at another block.
func (i Index) WithBlock(block int) Index {
	out := i.Clone()
	out.BlockIndex = &block
	return out
}

// WithRange returns a copy of the index with another text range.
func (i Index) WithRange(start, end int) Index {
	out := i.Clone()
	out.TextRange = &TextRange{start, end}
	return out
}

// String implements fmt.Stringer with the serialized form.
func (i Index) String() string {
	return i.Serialize()
}
