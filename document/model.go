package document

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/index"
)

// Model is an in-memory Tree. It is safe for concurrent use.
type Model struct {
	mu         sync.RWMutex
	identifier string
	properties map[string]any
	blocks     []BlockData
}

// New returns an empty document with the given identifier.
func New(identifier string) *Model {
	return &Model{
		identifier: identifier,
		properties: make(map[string]any),
	}
}

// Identifier returns the document id.
func (m *Model) Identifier() string {
	return m.identifier
}

// Length returns the number of blocks.
func (m *Model) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// Text returns the value of a text field.
func (m *Model) Text(block int, dataKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.block(block)
	if err != nil {
		return "", err
	}
	return textValue(b.Data[dataKey])
}

// Initialize replaces the whole document with a copy of snapshot.
func (m *Model) Initialize(snapshot Snapshot) error {
	var s Snapshot
	if err := copier.CopyWithOption(&s, &snapshot, copier.Option{DeepCopy: true}); err != nil {
		return errors.Wrap(err, "copy snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Identifier != "" {
		m.identifier = s.Identifier
	}
	m.properties = s.Properties
	if m.properties == nil {
		m.properties = make(map[string]any)
	}
	m.blocks = s.Blocks
	for i := range m.blocks {
		normalizeBlock(&m.blocks[i])
	}
	return nil
}

// Serialized returns a deep copy of the document.
func (m *Model) Serialized() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := Snapshot{Identifier: m.identifier, Properties: m.properties, Blocks: m.blocks}
	var out Snapshot
	// Copying plain data between identical types does not fail.
	_ = copier.CopyWithOption(&out, &src, copier.Option{DeepCopy: true})
	if out.Blocks == nil {
		out.Blocks = []BlockData{}
	}
	return out
}

///////////////
// Operations
///////////////

// InsertData implements Tree.
func (m *Model) InsertData(idx index.Index, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDocument(idx); err != nil {
		return err
	}

	switch {
	case idx.IsPropertyIndex():
		m.properties[idx.PropertyName] = payload
		return nil

	case idx.IsBlockIndex():
		blocks, err := BlocksFrom(payload)
		if err != nil {
			return err
		}
		return m.insertBlocks(*idx.BlockIndex, blocks)

	case idx.IsTextIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		text, ok := payload.(string)
		if !ok {
			return errors.Wrapf(ErrTypeMismatch, "text insert expects a string, got %T", payload)
		}
		return b.insertText(idx.DataKey, idx.TextRange.Start(), text)

	case idx.IsDataIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		b.Data[idx.DataKey] = payload
		return nil

	case idx.IsTuneIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		b.setTune(idx.TuneName, idx.TuneKey, payload)
		return nil
	}

	return errors.Wrapf(ErrUnsupported, "insert at %s", idx)
}

// RemoveData implements Tree.
func (m *Model) RemoveData(idx index.Index, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDocument(idx); err != nil {
		return err
	}

	switch {
	case idx.IsPropertyIndex():
		delete(m.properties, idx.PropertyName)
		return nil

	case idx.IsBlockIndex():
		count := 1
		if blocks, err := BlocksFrom(payload); err == nil && len(blocks) > 0 {
			count = len(blocks)
		}
		return m.removeBlocks(*idx.BlockIndex, count)

	case idx.IsTextIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		r := *idx.TextRange
		length := r.End() - r.Start()
		if text, ok := payload.(string); ok && text != "" {
			length = runeLen(text)
		}
		return b.removeText(idx.DataKey, r.Start(), length)

	case idx.IsDataIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		delete(b.Data, idx.DataKey)
		delete(b.Fragments, idx.DataKey)
		return nil

	case idx.IsTuneIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		if tune, ok := b.Tunes[idx.TuneName]; ok {
			delete(tune, idx.TuneKey)
		}
		return nil
	}

	return errors.Wrapf(ErrUnsupported, "remove at %s", idx)
}

// ModifyData implements Tree.
func (m *Model) ModifyData(idx index.Index, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDocument(idx); err != nil {
		return err
	}

	switch {
	case idx.IsPropertyIndex():
		if change.Value == nil {
			delete(m.properties, idx.PropertyName)
		} else {
			m.properties[idx.PropertyName] = change.Value
		}
		return nil

	case idx.IsTextIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		return b.format(idx.DataKey, *idx.TextRange, change)

	case idx.IsDataIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		if change.Value == nil {
			delete(b.Data, idx.DataKey)
		} else {
			b.Data[idx.DataKey] = change.Value
		}
		return nil

	case idx.IsTuneIndex():
		b, err := m.block(*idx.BlockIndex)
		if err != nil {
			return err
		}
		b.setTune(idx.TuneName, idx.TuneKey, change.Value)
		return nil
	}

	return errors.Wrapf(ErrUnsupported, "modify at %s", idx)
}

// Fragments implements Tree.
func (m *Model) Fragments(block int, dataKey string, start, end int, tool string) ([]Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.block(block)
	if err != nil {
		return nil, err
	}

	var out []Fragment
	for _, f := range b.Fragments[dataKey] {
		if tool != "" && f.Tool != tool {
			continue
		}
		if f.Range.Start() <= end && f.Range.End() >= start {
			out = append(out, f)
		}
	}
	return out, nil
}

//////////////////////
// Utility functions
//////////////////////

func (m *Model) checkDocument(idx index.Index) error {
	if idx.DocumentID != "" && m.identifier != "" && idx.DocumentID != m.identifier {
		return errors.Wrapf(ErrWrongDocument, "%s is not %s", idx.DocumentID, m.identifier)
	}
	return nil
}

func (m *Model) block(i int) (*BlockData, error) {
	if i < 0 || i >= len(m.blocks) {
		return nil, errors.Wrapf(ErrOutOfRange, "block %d of %d", i, len(m.blocks))
	}
	return &m.blocks[i], nil
}

func (m *Model) insertBlocks(at int, blocks []BlockData) error {
	if at < 0 || at > len(m.blocks) {
		return errors.Wrapf(ErrOutOfRange, "insert block at %d of %d", at, len(m.blocks))
	}

	var copied []BlockData
	if err := copier.CopyWithOption(&copied, &blocks, copier.Option{DeepCopy: true}); err != nil {
		return errors.Wrap(err, "copy blocks")
	}
	for i := range copied {
		normalizeBlock(&copied[i])
	}

	m.blocks = append(m.blocks[:at], append(copied, m.blocks[at:]...)...)
	return nil
}

func (m *Model) removeBlocks(at, count int) error {
	if at < 0 || at+count > len(m.blocks) {
		return errors.Wrapf(ErrOutOfRange, "remove %d blocks at %d of %d", count, at, len(m.blocks))
	}
	m.blocks = append(m.blocks[:at], m.blocks[at+count:]...)
	return nil
}

func normalizeBlock(b *BlockData) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Data == nil {
		b.Data = make(map[string]any)
	}
}

func (b *BlockData) setTune(name, key string, value any) {
	if b.Tunes == nil {
		b.Tunes = make(map[string]map[string]any)
	}
	if b.Tunes[name] == nil {
		b.Tunes[name] = make(map[string]any)
	}
	if value == nil {
		delete(b.Tunes[name], key)
		return
	}
	b.Tunes[name][key] = value
}

// BlocksFrom converts a block payload to a slice of BlockData. Payloads decoded from
// JSON without type information arrive as generic maps and are converted through JSON.
func BlocksFrom(payload any) ([]BlockData, error) {
	switch p := payload.(type) {
	case []BlockData:
		return p, nil
	case BlockData:
		return []BlockData{p}, nil
	case *BlockData:
		return []BlockData{*p}, nil
	case nil:
		return nil, errors.Wrap(ErrTypeMismatch, "empty block payload")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(ErrTypeMismatch, "block payload %T", payload)
	}
	var blocks []BlockData
	if err := json.Unmarshal(raw, &blocks); err != nil {
		var single BlockData
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, errors.Wrapf(ErrTypeMismatch, "block payload %T", payload)
		}
		blocks = []BlockData{single}
	}
	return blocks, nil
}

// FormatFrom converts a Modify payload on a text range to a Format.
func FormatFrom(v any) (Format, error) {
	switch f := v.(type) {
	case Format:
		return f, nil
	case *Format:
		return *f, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Format{}, errors.Wrapf(ErrTypeMismatch, "format payload %T", v)
	}
	var f Format
	if err := json.Unmarshal(raw, &f); err != nil || f.Tool == "" {
		return Format{}, errors.Wrapf(ErrTypeMismatch, "format payload %s", raw)
	}
	return f, nil
}

func textValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	}
	return "", errors.Wrap(ErrTypeMismatch, fmt.Sprintf("field is %T, not text", v))
}
