package ledger

import "reflect"

type (
	// Applier folds a single decoded event into entity state
	Applier[T any] func(T, any) T

	// Appliers is the static apply table of an entity, keyed by event type.
	// Events with no entry leave the state unchanged
	Appliers[T any] map[reflect.Type]Applier[T]

	// ApplierEntry is one row of an apply table, produced by On
	ApplierEntry[T any] struct {
		Type  reflect.Type
		Apply Applier[T]
	}
)

// On binds a typed fold function to event type E
func On[T, E any](fn func(T, E) T) ApplierEntry[T] {
	return ApplierEntry[T]{
		Type:  reflect.TypeFor[E](),
		Apply: MakeApplier(fn),
	}
}

// MakeApplier adapts a typed fold function into an Applier. Values of the
// wrong type, including *E, are unwrapped or ignored
func MakeApplier[T, E any](fn func(T, E) T) Applier[T] {
	return func(state T, ev any) T {
		switch e := ev.(type) {
		case E:
			return fn(state, e)
		case *E:
			if e != nil {
				return fn(state, *e)
			}
		}
		return state
	}
}

// MakeAppliers builds an apply table from its entries. A later entry for
// the same event type replaces an earlier one
func MakeAppliers[T any](entries ...ApplierEntry[T]) Appliers[T] {
	res := make(Appliers[T], len(entries))
	for _, e := range entries {
		res[e.Type] = e.Apply
	}
	return res
}

// Apply folds ev into state using the table entry for its type
func (a Appliers[T]) Apply(state T, ev any) T {
	if apply, ok := a.lookup(ev); ok {
		return apply(state, ev)
	}
	return state
}

// Handles reports whether the table has an entry for the event's type
func (a Appliers[T]) Handles(ev any) bool {
	_, ok := a.lookup(ev)
	return ok
}

func (a Appliers[T]) lookup(ev any) (Applier[T], bool) {
	typ := reflect.TypeOf(ev)
	if apply, ok := a[typ]; ok {
		return apply, true
	}
	if typ != nil && typ.Kind() == reflect.Pointer {
		apply, ok := a[typ.Elem()]
		return apply, ok
	}
	return nil, false
}
