package ot

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/index"
)

// ErrUnknownType is returned when decoding an operation of an unknown type.
var ErrUnknownType = errors.New("unknown operation type")

type wireData struct {
	Payload     json.RawMessage `json:"payload"`
	PrevPayload json.RawMessage `json:"prevPayload,omitempty"`
}

// ToSerialized converts op to its wire form.
func (op Operation) ToSerialized() (commons.SerializedOperation, error) {
	data, err := json.Marshal(op.Data)
	if err != nil {
		return commons.SerializedOperation{}, errors.Wrapf(err, "encode data of %s", op)
	}
	return commons.SerializedOperation{
		Type:   string(op.Type),
		Index:  op.Index.Serialize(),
		Data:   data,
		UserID: op.UserID,
		Rev:    op.Rev,
	}, nil
}

// FromSerialized decodes a wire operation. Block payloads of inserts and deletes
// decode to []document.BlockData, everything else to generic JSON values.
func FromSerialized(s commons.SerializedOperation) (Operation, error) {
	t := Type(s.Type)
	if !t.Valid() {
		return Operation{}, errors.Wrapf(ErrUnknownType, "%q", s.Type)
	}

	idx, err := index.Parse(s.Index)
	if err != nil {
		return Operation{}, err
	}

	op := Operation{Type: t, Index: idx, UserID: s.UserID, Rev: s.Rev}
	if len(s.Data) == 0 || string(s.Data) == "null" {
		return op, nil
	}

	var data wireData
	if err := json.Unmarshal(s.Data, &data); err != nil {
		return Operation{}, errors.Wrap(err, "decode operation data")
	}
	if op.Data.Payload, err = decodePayload(data.Payload, t, idx); err != nil {
		return Operation{}, err
	}
	if op.Data.PrevPayload, err = decodePayload(data.PrevPayload, t, idx); err != nil {
		return Operation{}, err
	}
	return op, nil
}

func decodePayload(raw json.RawMessage, t Type, idx index.Index) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if idx.IsBlockIndex() && (t == Insert || t == Delete) {
		var blocks []document.BlockData
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, errors.Wrap(err, "decode block payload")
		}
		return blocks, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return v, nil
}

// MarshalJSON encodes op in its wire form.
func (op Operation) MarshalJSON() ([]byte, error) {
	s, err := op.ToSerialized()
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes op from its wire form.
func (op *Operation) UnmarshalJSON(b []byte) error {
	var s commons.SerializedOperation
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := FromSerialized(s)
	if err != nil {
		return err
	}
	*op = decoded
	return nil
}
