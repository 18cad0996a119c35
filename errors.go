package ledger

import (
	"errors"
	"fmt"
	"reflect"
)

type (
	// WrongExpectedVersionError reports an optimistic-concurrency conflict
	// on Append. Nothing from the rejected batch was written
	WrongExpectedVersionError struct {
		StreamID StreamID
		Expected ExpectedVersion
		Actual   StreamVersion
		Exists   bool
	}

	// MappingNotFoundError reports an event name or type that has no
	// registered mapping. Exactly one of Name or Type is set
	MappingNotFoundError struct {
		Type reflect.Type
		Name string
	}

	// SerializationError wraps a codec failure for a named event
	SerializationError struct {
		Cause error
		Name  string
	}

	// SubscriptionDroppedError is returned by Subscription.Run when the
	// subscription hits an unrecoverable fault. It is terminal
	SubscriptionDroppedError struct {
		Cause error
		Name  string
		State SubscriptionState
	}
)

var (
	// ErrStreamNotFound is returned when reading a stream that was never
	// written
	ErrStreamNotFound = errors.New("stream not found")

	// ErrWrongExpectedVersion matches any *WrongExpectedVersionError
	ErrWrongExpectedVersion = errors.New("wrong expected version")

	// ErrMappingNotFound matches any *MappingNotFoundError
	ErrMappingNotFound = errors.New("event mapping not found")

	// ErrSerialization matches any *SerializationError
	ErrSerialization = errors.New("serialization failure")

	// ErrSubscriptionDropped matches any *SubscriptionDroppedError
	ErrSubscriptionDropped = errors.New("subscription dropped")

	// ErrFellBehind is raised by a live feed that could not keep pace with
	// the log. Subscriptions treat it as a signal to resubscribe
	ErrFellBehind = errors.New("live feed fell behind")

	// ErrInvalidMapping reports an EventMapper configuration problem
	ErrInvalidMapping = errors.New("invalid event mapping")

	// ErrVersionGap reports a stream whose versions are not contiguous
	ErrVersionGap = errors.New("stream version gap")

	// ErrNoEvents is returned by backends asked to append an empty batch
	ErrNoEvents = errors.New("no events to append")

	// ErrEmptyStreamID is returned for operations on an empty StreamID
	ErrEmptyStreamID = errors.New("stream id is empty")

	// ErrHandlerPanic wraps a panic recovered from an event handler
	ErrHandlerPanic = errors.New("event handler panicked")
)

func (e *WrongExpectedVersionError) Error() string {
	actual := "no stream"
	if e.Exists {
		actual = e.Actual.String()
	}
	return fmt.Sprintf(
		"wrong expected version for stream %q: expected %s, actual %s",
		e.StreamID, e.Expected, actual,
	)
}

func (e *WrongExpectedVersionError) Is(target error) bool {
	return target == ErrWrongExpectedVersion
}

func (e *MappingNotFoundError) Error() string {
	if e.Type != nil {
		return fmt.Sprintf("%s: type %s", ErrMappingNotFound, e.Type)
	}
	return fmt.Sprintf("%s: name %q", ErrMappingNotFound, e.Name)
}

func (e *MappingNotFoundError) Is(target error) bool {
	return target == ErrMappingNotFound
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s for %q: %v", ErrSerialization, e.Name, e.Cause)
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

func (e *SubscriptionDroppedError) Error() string {
	return fmt.Sprintf(
		"subscription %q dropped while %s: %v", e.Name, e.State, e.Cause,
	)
}

func (e *SubscriptionDroppedError) Is(target error) bool {
	return target == ErrSubscriptionDropped
}

func (e *SubscriptionDroppedError) Unwrap() error {
	return e.Cause
}
