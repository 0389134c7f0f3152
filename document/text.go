package document

import (
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/index"
)

// Text offsets are rune offsets, matching what users see as characters.

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (b *BlockData) text(dataKey string) ([]rune, error) {
	s, err := textValue(b.Data[dataKey])
	if err != nil {
		return nil, errors.Wrapf(err, "data key %q", dataKey)
	}
	return []rune(s), nil
}

func (b *BlockData) insertText(dataKey string, pos int, value string) error {
	text, err := b.text(dataKey)
	if err != nil {
		return err
	}
	if pos < 0 || pos > len(text) {
		return errors.Wrapf(ErrOutOfRange, "insert at %d into %q", pos, string(text))
	}

	inserted := []rune(value)
	out := make([]rune, 0, len(text)+len(inserted))
	out = append(out, text[:pos]...)
	out = append(out, inserted...)
	out = append(out, text[pos:]...)
	b.Data[dataKey] = string(out)

	b.shiftFragments(dataKey, pos, len(inserted))
	return nil
}

func (b *BlockData) removeText(dataKey string, pos, length int) error {
	text, err := b.text(dataKey)
	if err != nil {
		return err
	}
	if pos < 0 || length < 0 || pos+length > len(text) {
		return errors.Wrapf(ErrOutOfRange, "remove [%d,%d) from %q", pos, pos+length, string(text))
	}

	out := append(append([]rune{}, text[:pos]...), text[pos+length:]...)
	b.Data[dataKey] = string(out)

	b.cutFragments(dataKey, pos, length)
	return nil
}

// shiftFragments moves fragments after an insertion of length runes at pos.
// A fragment strictly containing pos grows.
func (b *BlockData) shiftFragments(dataKey string, pos, length int) {
	for i, f := range b.Fragments[dataKey] {
		start, end := f.Range.Start(), f.Range.End()
		switch {
		case start >= pos:
			start += length
			end += length
		case end > pos:
			end += length
		}
		b.Fragments[dataKey][i].Range = index.TextRange{start, end}
	}
}

// cutFragments shrinks fragments after removing [pos, pos+length) and drops the
// ones that become empty.
func (b *BlockData) cutFragments(dataKey string, pos, length int) {
	frags := b.Fragments[dataKey]
	if len(frags) == 0 {
		return
	}

	end := pos + length
	clamp := func(x int) int {
		switch {
		case x <= pos:
			return x
		case x >= end:
			return x - length
		default:
			return pos
		}
	}

	kept := frags[:0]
	for _, f := range frags {
		r := index.TextRange{clamp(f.Range.Start()), clamp(f.Range.End())}
		if r.End() > r.Start() {
			f.Range = r
			kept = append(kept, f)
		}
	}
	b.Fragments[dataKey] = kept
}

// format applies or removes an inline formatting fragment over r.
func (b *BlockData) format(dataKey string, r index.TextRange, change Change) error {
	text, err := b.text(dataKey)
	if err != nil {
		return err
	}
	if r.End() > len(text) {
		return errors.Wrapf(ErrOutOfRange, "format [%d,%d] of %q", r.Start(), r.End(), string(text))
	}

	if change.Value != nil {
		f, err := FormatFrom(change.Value)
		if err != nil {
			return err
		}
		if b.Fragments == nil {
			b.Fragments = make(map[string][]Fragment)
		}
		b.Fragments[dataKey] = append(b.Fragments[dataKey], Fragment{Tool: f.Tool, Data: f.Data, Range: r})
		return nil
	}

	if change.Previous == nil {
		return nil
	}
	prev, err := FormatFrom(change.Previous)
	if err != nil {
		return err
	}
	b.unformat(dataKey, prev.Tool, r)
	return nil
}

// unformat removes tool formatting inside r, splitting fragments that extend past it.
func (b *BlockData) unformat(dataKey, tool string, r index.TextRange) {
	var out []Fragment
	for _, f := range b.Fragments[dataKey] {
		if f.Tool != tool || f.Range.End() <= r.Start() || f.Range.Start() >= r.End() {
			out = append(out, f)
			continue
		}
		if f.Range.Start() < r.Start() {
			left := f
			left.Range = index.TextRange{f.Range.Start(), r.Start()}
			out = append(out, left)
		}
		if f.Range.End() > r.End() {
			right := f
			right.Range = index.TextRange{r.End(), f.Range.End()}
			out = append(out, right)
		}
	}
	b.Fragments[dataKey] = out
}
