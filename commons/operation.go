package commons

import "encoding/json"

// SerializedOperation is an operation as it travels over the wire.
type SerializedOperation struct {
	// Type represents the operation type, for example, insert, delete.
	Type string `json:"type"`

	// Index represents the serialized index the operation targets.
	Index string `json:"index"`

	// Data holds the payload and, for modifications, the previous payload.
	Data json.RawMessage `json:"data"`

	// UserID represents the author.
	UserID string `json:"userId"`

	// Rev represents the revision.
	Rev int `json:"rev"`
}
