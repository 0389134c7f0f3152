package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	segmentSeparator = ":"
	keySeparator     = "@"

	documentSegment = "doc"
	propertySegment = "prop"
	blockSegment    = "block"
	tuneSegment     = "tune"
	tuneKeySegment  = "tuneKey"
	dataSegment     = "data"
)

// ErrMalformed is returned by Parse for strings that do not follow the index grammar.
var ErrMalformed = errors.New("malformed serialized index")

// Segment ranks fix the serialization order.
var segmentRank = map[string]int{
	documentSegment: 0,
	propertySegment: 1,
	blockSegment:    2,
	tuneSegment:     3,
	tuneKeySegment:  4,
	dataSegment:     5,
}

const textRangeRank = 6

func (i Index) segments() string {
	var parts []string
	add := func(name, value string) {
		parts = append(parts, name+keySeparator+value)
	}

	if i.DocumentID != "" {
		add(documentSegment, i.DocumentID)
	}
	if i.PropertyName != "" {
		add(propertySegment, i.PropertyName)
	}
	if i.BlockIndex != nil {
		add(blockSegment, strconv.Itoa(*i.BlockIndex))
	}
	if i.TuneName != "" {
		add(tuneSegment, i.TuneName)
	}
	if i.TuneKey != "" {
		add(tuneKeySegment, i.TuneKey)
	}
	if i.DataKey != "" {
		add(dataSegment, i.DataKey)
	}
	if i.TextRange != nil {
		parts = append(parts, fmt.Sprintf("[%d,%d]", i.TextRange.Start(), i.TextRange.End()))
	}

	return strings.Join(parts, segmentSeparator)
}

// Serialize encodes the index as a quoted, colon-joined list of segments, for example
// "doc@d1:block@0:data@text:[0,5]". Absent fields are omitted, so the zero Index
// serializes to "".
func (i Index) Serialize() string {
	return quote(i.segments())
}

// quote JSON-encodes s without escaping HTML characters.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// Parse decodes a string produced by Serialize and validates the result.
// The surrounding quotes are optional. An empty string parses to the zero Index.
func Parse(s string) (Index, error) {
	raw := s
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return Index{}, errors.Wrapf(ErrMalformed, "%s: %v", s, err)
		}
	}
	if raw == "" {
		return Index{}, nil
	}

	var (
		idx  Index
		last = -1
	)
	for _, seg := range strings.Split(raw, segmentSeparator) {
		rank, err := idx.parseSegment(seg)
		if err != nil {
			return Index{}, err
		}
		if rank <= last {
			return Index{}, errors.Wrapf(ErrMalformed, "segment %q is out of order in %q", seg, raw)
		}
		last = rank
	}

	if err := idx.Validate(); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// parseSegment fills one field of i from seg and returns the segment rank.
func (i *Index) parseSegment(seg string) (int, error) {
	if strings.HasPrefix(seg, "[") {
		var r [2]int
		if err := json.Unmarshal([]byte(seg), &r); err != nil {
			return 0, errors.Wrapf(ErrMalformed, "text range %q: %v", seg, err)
		}
		tr := TextRange(r)
		i.TextRange = &tr
		return textRangeRank, nil
	}

	name, value, ok := strings.Cut(seg, keySeparator)
	if !ok || value == "" {
		return 0, errors.Wrapf(ErrMalformed, "segment %q", seg)
	}
	rank, known := segmentRank[name]
	if !known {
		return 0, errors.Wrapf(ErrMalformed, "unknown segment %q", name)
	}

	switch name {
	case documentSegment:
		i.DocumentID = value
	case propertySegment:
		i.PropertyName = value
	case blockSegment:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, errors.Wrapf(ErrMalformed, "block index %q", value)
		}
		i.BlockIndex = &n
	case tuneSegment:
		i.TuneName = value
	case tuneKeySegment:
		i.TuneKey = value
	case dataSegment:
		i.DataKey = value
	}
	return rank, nil
}

// MarshalJSON encodes the index in its serialized form.
func (i Index) MarshalJSON() ([]byte, error) {
	return []byte(quote(i.Serialize())), nil
}

// UnmarshalJSON decodes an index from its serialized form.
func (i *Index) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
