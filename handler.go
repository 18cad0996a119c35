package ledger

import (
	"context"
	"errors"
	"reflect"
)

type (
	// Consumer receives every event a Subscription delivers. Delivery is at
	// least once, so OnEvent must tolerate replays. A returned error drops
	// the subscription
	Consumer interface {
		OnEvent(context.Context, *ReadEnvelope) error
	}

	// ConsumerFunc adapts a function to the Consumer interface
	ConsumerFunc func(context.Context, *ReadEnvelope) error

	// StateObserver is notified as a Subscription moves between states. A
	// Consumer that also implements StateObserver is registered
	// automatically
	StateObserver interface {
		OnInitializing(context.Context)
		OnSubscribing(context.Context)
		OnCatchingUp(context.Context)
		OnCaughtUp(context.Context)
		OnFellBehind(context.Context)
		OnDropped(context.Context, error)
	}

	// NopObserver implements StateObserver with no-ops, for embedding in
	// observers that only care about some transitions
	NopObserver struct{}

	// Handler processes one decoded event
	Handler func(context.Context, *ReadEnvelope, any) error

	// Handlers is a static dispatch table keyed by event type
	Handlers map[reflect.Type]Handler

	// HandlerEntry is one row of a dispatch table, produced by Handle
	HandlerEntry struct {
		Type    reflect.Type
		Handler Handler
	}

	// TypedConsumer decodes envelopes through an EventMapper and dispatches
	// each event to the handler registered for its type. Events with no
	// handler are skipped
	TypedConsumer struct {
		mapper      *EventMapper
		handlers    Handlers
		skipUnknown bool
	}
)

var _ Consumer = (*TypedConsumer)(nil)

func (fn ConsumerFunc) OnEvent(ctx context.Context, env *ReadEnvelope) error {
	return fn(ctx, env)
}

func (NopObserver) OnInitializing(context.Context)   {}
func (NopObserver) OnSubscribing(context.Context)    {}
func (NopObserver) OnCatchingUp(context.Context)     {}
func (NopObserver) OnCaughtUp(context.Context)       {}
func (NopObserver) OnFellBehind(context.Context)     {}
func (NopObserver) OnDropped(context.Context, error) {}

// Handle binds a typed handler function to event type E
func Handle[E any](
	fn func(context.Context, *ReadEnvelope, E) error,
) HandlerEntry {
	return HandlerEntry{
		Type:    reflect.TypeFor[E](),
		Handler: MakeHandler(fn),
	}
}

// MakeHandler adapts a typed handler function into a Handler
func MakeHandler[E any](
	fn func(context.Context, *ReadEnvelope, E) error,
) Handler {
	return func(ctx context.Context, env *ReadEnvelope, ev any) error {
		switch e := ev.(type) {
		case E:
			return fn(ctx, env, e)
		case *E:
			if e != nil {
				return fn(ctx, env, *e)
			}
		}
		return nil
	}
}

// MakeDispatcher builds a dispatch table from its entries
func MakeDispatcher(entries ...HandlerEntry) Handlers {
	res := make(Handlers, len(entries))
	for _, e := range entries {
		res[e.Type] = e.Handler
	}
	return res
}

// NewTypedConsumer creates a TypedConsumer over the mapper and handlers
func NewTypedConsumer(
	mapper *EventMapper, entries ...HandlerEntry,
) *TypedConsumer {
	return &TypedConsumer{
		mapper:   mapper,
		handlers: MakeDispatcher(entries...),
	}
}

// SkipUnknown makes the consumer skip event names the mapper does not
// know, instead of failing with ErrMappingNotFound
func (c *TypedConsumer) SkipUnknown() *TypedConsumer {
	c.skipUnknown = true
	return c
}

func (c *TypedConsumer) OnEvent(ctx context.Context, env *ReadEnvelope) error {
	evs, err := c.mapper.FromReadEvent(env)
	if err != nil {
		if c.skipUnknown && errors.Is(err, ErrMappingNotFound) {
			return nil
		}
		return err
	}
	for _, ev := range evs {
		fn, ok := c.handlers[reflect.TypeOf(ev)]
		if !ok {
			continue
		}
		if err := fn(ctx, env, ev); err != nil {
			return err
		}
	}
	return nil
}
