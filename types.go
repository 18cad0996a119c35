package ledger

import (
	"strconv"

	"go.uber.org/zap"
)

type (
	// StreamID identifies a single entity stream in the log
	StreamID string

	// StreamVersion is the zero-indexed position of an event within its
	// stream. Versions are contiguous and assigned by the backend
	StreamVersion uint64

	// GlobalPosition orders every event across the entire log. Positions
	// are strictly increasing but not necessarily contiguous
	GlobalPosition uint64
)

// Zero is the version of the first event appended to a stream
const Zero StreamVersion = 0

func (id StreamID) String() string {
	return string(id)
}

// Field returns a zap field tagging a log entry with the stream
func (id StreamID) Field() zap.Field {
	return zap.String("stream_id", string(id))
}

func (v StreamVersion) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// Next returns the version that follows v
func (v StreamVersion) Next() StreamVersion {
	return v + 1
}

// Field returns a zap field tagging a log entry with the version
func (v StreamVersion) Field() zap.Field {
	return zap.Uint64("version", uint64(v))
}

func (p GlobalPosition) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// Field returns a zap field tagging a log entry with the position
func (p GlobalPosition) Field() zap.Field {
	return zap.Uint64("position", uint64(p))
}

// FieldWithKey returns a zap field for the position under a custom key
func (p GlobalPosition) FieldWithKey(key string) zap.Field {
	return zap.Uint64(key, uint64(p))
}
