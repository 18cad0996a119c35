package ledger

import (
	"fmt"
	"reflect"
)

type (
	// EventTypeMapping binds a Go event type to its canonical name and any
	// deprecated aliases it may still be stored under
	EventTypeMapping struct {
		Type       reflect.Type
		Name       string
		Deprecated []string
		decode     decoder
		ignored    bool
	}

	// EventMapper converts between persisted envelopes and event values. It
	// is built once and is safe for concurrent use
	EventMapper struct {
		codec   Codec
		byName  map[string]*EventTypeMapping
		byType  map[reflect.Type]*EventTypeMapping
		ignored map[string]bool
	}

	decoder func(Codec, []byte) (any, error)
)

// Map declares a mapping for event type T under the canonical name. Events
// stored under any of the deprecated names decode to T as well
func Map[T any](name string, deprecated ...string) EventTypeMapping {
	return EventTypeMapping{
		Type:       reflect.TypeFor[T](),
		Name:       name,
		Deprecated: deprecated,
		decode: func(c Codec, data []byte) (any, error) {
			var ev T
			if err := c.Unmarshal(data, &ev); err != nil {
				return nil, err
			}
			return ev, nil
		},
	}
}

// Ignore declares legacy event names that decode to no events at all,
// rather than failing with ErrMappingNotFound
func Ignore(names ...string) EventTypeMapping {
	return EventTypeMapping{
		Deprecated: names,
		ignored:    true,
	}
}

// NewEventMapper builds an EventMapper over the provided mappings. A nil
// codec selects JSONCodec
func NewEventMapper(
	codec Codec, mappings ...EventTypeMapping,
) (*EventMapper, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	m := &EventMapper{
		codec:   codec,
		byName:  map[string]*EventTypeMapping{},
		byType:  map[reflect.Type]*EventTypeMapping{},
		ignored: map[string]bool{},
	}
	for i := range mappings {
		if err := m.register(&mappings[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustEventMapper is NewEventMapper for static configuration, panicking on
// an invalid mapping
func MustEventMapper(codec Codec, mappings ...EventTypeMapping) *EventMapper {
	m, err := NewEventMapper(codec, mappings...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *EventMapper) register(mp *EventTypeMapping) error {
	if mp.ignored {
		for _, name := range mp.Deprecated {
			if err := m.claimName(name); err != nil {
				return err
			}
			m.ignored[name] = true
		}
		return nil
	}
	if mp.Type == nil || mp.decode == nil {
		return fmt.Errorf("%w: mapping %q has no type", ErrInvalidMapping,
			mp.Name)
	}
	if _, ok := m.byType[mp.Type]; ok {
		return fmt.Errorf("%w: type %s mapped twice", ErrInvalidMapping,
			mp.Type)
	}
	if err := m.claimName(mp.Name); err != nil {
		return err
	}
	m.byName[mp.Name] = mp
	for _, name := range mp.Deprecated {
		if err := m.claimName(name); err != nil {
			return err
		}
		m.byName[name] = mp
	}
	m.byType[mp.Type] = mp
	return nil
}

func (m *EventMapper) claimName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty event name", ErrInvalidMapping)
	}
	_, mapped := m.byName[name]
	if mapped || m.ignored[name] {
		return fmt.Errorf("%w: name %q resolves to more than one mapping",
			ErrInvalidMapping, name)
	}
	return nil
}

// Codec returns the codec used for payloads
func (m *EventMapper) Codec() Codec {
	return m.codec
}

// ContentType returns the content type tag of the payload codec
func (m *EventMapper) ContentType() string {
	return m.codec.ContentType()
}

// NameOf returns the canonical name registered for the event's type
func (m *EventMapper) NameOf(ev any) (string, error) {
	mp, err := m.lookupType(ev)
	if err != nil {
		return "", err
	}
	return mp.Name, nil
}

// IsIgnored reports whether the name is configured to decode to no events
func (m *EventMapper) IsIgnored(name string) bool {
	return m.ignored[name]
}

// FromReadEvent decodes an envelope into its event value. The result holds
// zero events for ignored names and exactly one otherwise
func (m *EventMapper) FromReadEvent(env *ReadEnvelope) ([]any, error) {
	if m.ignored[env.Name] {
		return nil, nil
	}
	mp, ok := m.byName[env.Name]
	if !ok {
		return nil, &MappingNotFoundError{Name: env.Name}
	}
	ev, err := mp.decode(m.codec, env.Payload)
	if err != nil {
		return nil, &SerializationError{Name: env.Name, Cause: err}
	}
	return []any{ev}, nil
}

// ToWriteEvent encodes an event value into a WriteEnvelope stamped with the
// canonical name of its type
func (m *EventMapper) ToWriteEvent(ev any) (*WriteEnvelope, error) {
	return m.ToWriteEventWithMetadata(ev, nil)
}

// ToWriteEventWithMetadata is ToWriteEvent with caller-supplied metadata
func (m *EventMapper) ToWriteEventWithMetadata(
	ev any, metadata []byte,
) (*WriteEnvelope, error) {
	mp, err := m.lookupType(ev)
	if err != nil {
		return nil, err
	}
	data, err := m.codec.Marshal(ev)
	if err != nil {
		return nil, &SerializationError{Name: mp.Name, Cause: err}
	}
	return NewWriteEnvelope(mp.Name, data, metadata), nil
}

func (m *EventMapper) lookupType(ev any) (*EventTypeMapping, error) {
	typ := reflect.TypeOf(ev)
	if mp, ok := m.byType[typ]; ok {
		return mp, nil
	}
	if typ != nil && typ.Kind() == reflect.Pointer {
		if mp, ok := m.byType[typ.Elem()]; ok {
			return mp, nil
		}
	}
	return nil, &MappingNotFoundError{Type: typ}
}
