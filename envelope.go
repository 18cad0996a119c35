package ledger

import (
	"time"

	"github.com/google/uuid"
)

type (
	// WriteEnvelope is the wire-agnostic record handed to a backend for
	// appending. The backend assigns its version and position
	WriteEnvelope struct {
		Name     string
		Payload  []byte
		Metadata []byte
		ID       uuid.UUID
	}

	// ReadEnvelope is a persisted event as it comes back from a backend.
	// It must be treated as immutable; backends hand out shared slices
	ReadEnvelope struct {
		RecordedAt time.Time
		StreamID   StreamID
		Name       string
		Payload    []byte
		Metadata   []byte
		ID         uuid.UUID
		Version    StreamVersion
		Position   GlobalPosition
	}
)

// NewWriteEnvelope creates a WriteEnvelope with a fresh event ID. A nil
// metadata slice means the event carries no metadata
func NewWriteEnvelope(name string, payload, metadata []byte) *WriteEnvelope {
	return &WriteEnvelope{
		ID:       uuid.New(),
		Name:     name,
		Payload:  payload,
		Metadata: metadata,
	}
}

// HasMetadata reports whether the envelope carries metadata
func (e *WriteEnvelope) HasMetadata() bool {
	return e.Metadata != nil
}

// HasMetadata reports whether the envelope carries metadata
func (e *ReadEnvelope) HasMetadata() bool {
	return e.Metadata != nil
}

// Recorded builds the ReadEnvelope a backend stores for a WriteEnvelope
func (e *WriteEnvelope) Recorded(
	id StreamID, ver StreamVersion, pos GlobalPosition, at time.Time,
) *ReadEnvelope {
	return &ReadEnvelope{
		RecordedAt: at,
		StreamID:   id,
		Name:       e.Name,
		Payload:    e.Payload,
		Metadata:   e.Metadata,
		ID:         e.ID,
		Version:    ver,
		Position:   pos,
	}
}
