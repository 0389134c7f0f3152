package index

// Builder accumulates Index fields. Setters never fail; problems surface from Build.
type Builder struct {
	idx Index
	err error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// From seeds the builder with a copy of an existing index.
func (b *Builder) From(idx Index) *Builder {
	b.idx = idx.Clone()
	b.err = nil
	return b
}

// FromSerialized seeds the builder with a serialized index. A parse error is
// reported by Build.
func (b *Builder) FromSerialized(s string) *Builder {
	idx, err := Parse(s)
	b.idx = idx
	b.err = err
	return b
}

// AddDocumentID sets the document id.
func (b *Builder) AddDocumentID(id string) *Builder {
	b.idx.DocumentID = id
	return b
}

// AddPropertyName sets the document property name.
func (b *Builder) AddPropertyName(name string) *Builder {
	b.idx.PropertyName = name
	return b
}

// AddBlockIndex sets the block index.
func (b *Builder) AddBlockIndex(block int) *Builder {
	b.idx.BlockIndex = &block
	return b
}

// AddTuneName sets the block tune name.
func (b *Builder) AddTuneName(name string) *Builder {
	b.idx.TuneName = name
	return b
}

// AddTuneKey sets the key inside the block tune.
func (b *Builder) AddTuneKey(key string) *Builder {
	b.idx.TuneKey = key
	return b
}

// AddDataKey sets the block data key.
func (b *Builder) AddDataKey(key string) *Builder {
	b.idx.DataKey = key
	return b
}

// AddTextRange sets the text range.
func (b *Builder) AddTextRange(start, end int) *Builder {
	b.idx.TextRange = &TextRange{start, end}
	return b
}

// Build validates the accumulated fields and returns the Index.
func (b *Builder) Build() (Index, error) {
	if b.err != nil {
		return Index{}, b.err
	}
	idx := b.idx.Clone()
	if err := idx.Validate(); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// MustBuild is like Build but panics on an invalid index. It is meant for
// indexes built from constants.
func (b *Builder) MustBuild() Index {
	idx, err := b.Build()
	if err != nil {
		panic(err)
	}
	return idx
}

// Text is a shorthand for a text range index inside a block data field.
func Text(documentID string, block int, dataKey string, start, end int) Index {
	return NewBuilder().
		AddDocumentID(documentID).
		AddBlockIndex(block).
		AddDataKey(dataKey).
		AddTextRange(start, end).
		MustBuild()
}

// Block is a shorthand for a whole-block index.
func Block(documentID string, block int) Index {
	return NewBuilder().AddDocumentID(documentID).AddBlockIndex(block).MustBuild()
}
