package ledger

import (
	"context"
	"iter"
)

type (
	// StreamReader reads a single stream. The sequence yields ErrStreamNotFound
	// when the stream was never written
	StreamReader interface {
		ReadStream(
			context.Context, StreamID, ReadOptions,
		) iter.Seq2[*ReadEnvelope, error]
	}

	// Appender atomically appends a batch to a stream, checking the
	// precondition first. A failed precondition yields a
	// *WrongExpectedVersionError and writes nothing
	Appender interface {
		Append(
			context.Context, StreamID, ExpectedVersion, []*WriteEnvelope,
		) (*AppendResult, error)
	}

	// LogReader reads the global log. Head reports the last committed
	// position, or false for an empty log. ReadLog yields every event
	// strictly after the given position, or from the start when hasAfter
	// is false, and stops at the end of the log as it is when read
	LogReader interface {
		Head(context.Context) (GlobalPosition, bool, error)
		ReadLog(
			ctx context.Context, after GlobalPosition, hasAfter bool,
		) iter.Seq2[*ReadEnvelope, error]
	}

	// LiveFeed tails the global log strictly after the given position. The
	// sequence runs until the context ends, and yields ErrFellBehind when
	// the subscriber cannot keep pace
	LiveFeed interface {
		Live(
			ctx context.Context, after GlobalPosition, hasAfter bool,
		) iter.Seq2[*ReadEnvelope, error]
	}

	// Backend is the full set of capabilities a storage adapter provides
	Backend interface {
		StreamReader
		Appender
		LogReader
		LiveFeed
	}

	// Direction selects the order of a stream read
	Direction int

	// ReadFrom selects where a stream read begins
	ReadFrom struct {
		version StreamVersion
		kind    readFromKind
	}

	// ReadOptions configures a stream read. A zero Limit reads everything
	ReadOptions struct {
		From      ReadFrom
		Direction Direction
		Limit     int
	}

	// AppendResult reports where a batch landed
	AppendResult struct {
		StreamID      StreamID
		FirstVersion  StreamVersion
		LastVersion   StreamVersion
		FirstPosition GlobalPosition
		LastPosition  GlobalPosition
	}

	readFromKind int
)

const (
	Forward Direction = iota
	Backward
)

const (
	fromStart readFromKind = iota
	fromEnd
	fromAfter
)

// StartFrom begins at the first event of the stream
func StartFrom() ReadFrom {
	return ReadFrom{kind: fromStart}
}

// StartEnd begins at the last event of the stream
func StartEnd() ReadFrom {
	return ReadFrom{kind: fromEnd}
}

// After begins exclusively after version v in the read direction
func After(v StreamVersion) ReadFrom {
	return ReadFrom{kind: fromAfter, version: v}
}

// IsStart reports whether the read begins at the first event
func (f ReadFrom) IsStart() bool {
	return f.kind == fromStart
}

// IsEnd reports whether the read begins at the last event
func (f ReadFrom) IsEnd() bool {
	return f.kind == fromEnd
}

// After returns the exclusive version bound, if the read has one
func (f ReadFrom) After() (StreamVersion, bool) {
	return f.version, f.kind == fromAfter
}

// ReadForward reads the whole stream from its first event
func ReadForward() ReadOptions {
	return ReadOptions{From: StartFrom(), Direction: Forward}
}

// ReadBackward reads the whole stream from its last event
func ReadBackward() ReadOptions {
	return ReadOptions{From: StartEnd(), Direction: Backward}
}

// Select applies the options to a stream whose last version is last, and
// returns the selected versions in read order
func (o ReadOptions) Select(last StreamVersion) []StreamVersion {
	var res []StreamVersion
	full := func() bool {
		return o.Limit > 0 && len(res) >= o.Limit
	}
	if o.Direction == Backward {
		from := int64(last)
		switch after, ok := o.From.After(); {
		case ok:
			from = min(int64(after)-1, int64(last))
		case o.From.IsStart():
			from = 0
		}
		for v := from; v >= 0 && !full(); v-- {
			res = append(res, StreamVersion(v))
		}
		return res
	}
	from := Zero
	switch after, ok := o.From.After(); {
	case ok:
		if after >= last {
			return res
		}
		from = after + 1
	case o.From.IsEnd():
		from = last
	}
	for v := from; v <= last && !full(); v++ {
		res = append(res, v)
	}
	return res
}

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// CheckExpected validates a precondition against a stream's state and
// returns the error an Appender reports when it fails
func CheckExpected(
	id StreamID, expected ExpectedVersion, current StreamVersion, exists bool,
) error {
	if expected.Matches(current, exists) {
		return nil
	}
	return &WrongExpectedVersionError{
		StreamID: id,
		Expected: expected,
		Actual:   current,
		Exists:   exists,
	}
}

// ErrorSeq returns a sequence that yields only err
func ErrorSeq(err error) iter.Seq2[*ReadEnvelope, error] {
	return func(yield func(*ReadEnvelope, error) bool) {
		yield(nil, err)
	}
}
