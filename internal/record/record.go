// Package record encodes persisted envelopes for the backends that store
// them as opaque values
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/ledger"
)

// Record is the stored form of a ReadEnvelope. Version and position are
// implied by where the record is kept, so they are not part of it
type Record struct {
	At       time.Time       `json:"at"`
	Stream   ledger.StreamID `json:"stream"`
	Name     string          `json:"name"`
	Payload  []byte          `json:"payload"`
	Metadata []byte          `json:"metadata"`
	ID       uuid.UUID       `json:"id"`
}

// Encode marshals a WriteEnvelope bound for a stream
func Encode(
	id ledger.StreamID, ev *ledger.WriteEnvelope, at time.Time,
) ([]byte, error) {
	return json.Marshal(&Record{
		At:       at,
		Stream:   id,
		Name:     ev.Name,
		Payload:  ev.Payload,
		Metadata: ev.Metadata,
		ID:       ev.ID,
	})
}

// Decode unmarshals a record and places it at the given version and
// position
func Decode(
	data []byte, ver ledger.StreamVersion, pos ledger.GlobalPosition,
) (*ledger.ReadEnvelope, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record at position %d: %w", pos, err)
	}
	return &ledger.ReadEnvelope{
		RecordedAt: r.At.UTC(),
		StreamID:   r.Stream,
		Name:       r.Name,
		Payload:    r.Payload,
		Metadata:   r.Metadata,
		ID:         r.ID,
		Version:    ver,
		Position:   pos,
	}, nil
}
