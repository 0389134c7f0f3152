package document

import (
	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/index"
)

// Tree is the addressable mutation API the collaboration core needs from a document.
// The core never touches document storage directly, only through this interface.
type Tree interface {
	// InsertData inserts payload at the location named by idx. The payload is a string
	// for text ranges, a []BlockData for block indexes and any value otherwise.
	InsertData(idx index.Index, payload any) error

	// RemoveData removes payload from the location named by idx.
	RemoveData(idx index.Index, payload any) error

	// ModifyData replaces the value at idx. For text ranges the change carries inline
	// formatting: a Format value applies it, a nil value removes the previous one.
	ModifyData(idx index.Index, change Change) error

	// Fragments returns the inline formatting fragments of a text field that
	// intersect [start, end], optionally filtered by tool name.
	Fragments(block int, dataKey string, start, end int, tool string) ([]Fragment, error)

	// Serialized returns a deep copy of the whole document.
	Serialized() Snapshot

	// Initialize replaces the document with a snapshot.
	Initialize(snapshot Snapshot) error
}

var (
	ErrOutOfRange    = errors.New("position out of range")
	ErrUnsupported   = errors.New("unsupported index")
	ErrTypeMismatch  = errors.New("payload type mismatch")
	ErrWrongDocument = errors.New("index belongs to another document")
)

// Snapshot is the serialized form of a whole document, used for handshakes.
type Snapshot struct {
	Identifier string         `json:"identifier,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Blocks     []BlockData    `json:"blocks"`
}

// BlockData is the serialized form of one block.
type BlockData struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`

	// Data holds the tool's fields. Text fields are plain strings.
	Data map[string]any `json:"data"`

	// Tunes holds per-tune key/value settings.
	Tunes map[string]map[string]any `json:"tunes,omitempty"`

	// Fragments holds inline formatting per text field.
	Fragments map[string][]Fragment `json:"fragments,omitempty"`
}

// Fragment is an inline formatting run over a text field, for example bold or a link.
type Fragment struct {
	Tool  string          `json:"tool"`
	Data  any             `json:"data,omitempty"`
	Range index.TextRange `json:"range"`
}

// Format is the payload of a text Modify operation.
type Format struct {
	Tool string `json:"tool"`
	Data any    `json:"data,omitempty"`
}

// Change carries the new and previous value of a Modify.
type Change struct {
	Value    any
	Previous any
}
