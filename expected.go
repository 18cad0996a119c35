package ledger

import "fmt"

// ExpectedVersion is the optimistic-concurrency precondition of an Append
type ExpectedVersion struct {
	value int64
}

const (
	expectedAny      = -1
	expectedNoStream = -2
)

// Any skips the version check entirely
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedAny}
}

// NoStream requires that the stream has never been written
func NoStream() ExpectedVersion {
	return ExpectedVersion{value: expectedNoStream}
}

// Exact requires that the last event of the stream is at version v
func Exact(v StreamVersion) ExpectedVersion {
	if int64(v) < 0 {
		panic(fmt.Sprintf("exact version out of range: %d", uint64(v)))
	}
	return ExpectedVersion{value: int64(v)}
}

// IsAny reports whether the precondition skips the check
func (ev ExpectedVersion) IsAny() bool {
	return ev.value == expectedAny
}

// IsNoStream reports whether the stream must not exist
func (ev ExpectedVersion) IsNoStream() bool {
	return ev.value == expectedNoStream
}

// IsExact reports whether a specific version is required
func (ev ExpectedVersion) IsExact() bool {
	return ev.value >= 0
}

// Version returns the required version of an Exact precondition, or Zero
func (ev ExpectedVersion) Version() StreamVersion {
	if ev.value >= 0 {
		return StreamVersion(ev.value)
	}
	return Zero
}

// Matches checks the precondition against a stream's current state. exists
// is false for a stream that was never written, in which case current is
// ignored
func (ev ExpectedVersion) Matches(current StreamVersion, exists bool) bool {
	switch {
	case ev.IsAny():
		return true
	case ev.IsNoStream():
		return !exists
	default:
		return exists && current == StreamVersion(ev.value)
	}
}

// Advance returns the precondition a stream satisfies after n more events
// have been appended on top of ev
func (ev ExpectedVersion) Advance(n int) ExpectedVersion {
	if n <= 0 || ev.IsAny() {
		return ev
	}
	if ev.IsNoStream() {
		return Exact(StreamVersion(n - 1))
	}
	return Exact(StreamVersion(ev.value + int64(n)))
}

func (ev ExpectedVersion) String() string {
	switch {
	case ev.IsAny():
		return "Any"
	case ev.IsNoStream():
		return "NoStream"
	default:
		return fmt.Sprintf("Exact(%d)", ev.value)
	}
}
