package ledger

type (
	// Adapter owns how an entity type is created and folded: a constructor
	// for blank state and the static apply table
	Adapter[T any] struct {
		construct Constructor[T]
		appliers  Appliers[T]
	}

	// Constructor creates the blank state of a new entity
	Constructor[T any] func(StreamID) T

	// Entity maintains folded state for a stream and tracks the events
	// raised since the last successful Save. It is not safe for concurrent
	// use
	Entity[T any] struct {
		adapter *Adapter[T]
		state   T
		id      StreamID
		raised  []any
		version StreamVersion
		exists  bool
	}
)

// NewAdapter creates an Adapter from a constructor and apply table entries
func NewAdapter[T any](
	cons Constructor[T], entries ...ApplierEntry[T],
) *Adapter[T] {
	return &Adapter[T]{
		construct: cons,
		appliers:  MakeAppliers(entries...),
	}
}

// NewAdapterWithAppliers creates an Adapter over a prebuilt apply table
func NewAdapterWithAppliers[T any](
	cons Constructor[T], apps Appliers[T],
) *Adapter[T] {
	return &Adapter[T]{
		construct: cons,
		appliers:  apps,
	}
}

// Blank returns fresh state for the identified entity
func (a *Adapter[T]) Blank(id StreamID) T {
	return a.construct(id)
}

// Apply folds a single event into state
func (a *Adapter[T]) Apply(state T, ev any) T {
	return a.appliers.Apply(state, ev)
}

// Appliers returns the adapter's apply table
func (a *Adapter[T]) Appliers() Appliers[T] {
	return a.appliers
}

// New creates an unsaved entity with blank state. Its first Save must use
// NoStream as the precondition
func (a *Adapter[T]) New(id StreamID) *Entity[T] {
	return &Entity[T]{
		adapter: a,
		id:      id,
		state:   a.construct(id),
		raised:  []any{},
	}
}

// ID returns the entity's stream identifier
func (e *Entity[_]) ID() StreamID {
	return e.id
}

// State returns the entity's current folded state
func (e *Entity[T]) State() T {
	return e.state
}

// Version returns the version of the last persisted event. It is only
// meaningful when Exists reports true
func (e *Entity[_]) Version() StreamVersion {
	return e.version
}

// Exists reports whether the entity has at least one persisted event
func (e *Entity[_]) Exists() bool {
	return e.exists
}

// Expected returns the precondition that a Save of this entity must meet
// if nothing else has written to its stream
func (e *Entity[_]) Expected() ExpectedVersion {
	if !e.exists {
		return NoStream()
	}
	return Exact(e.version)
}

// Raised returns the events raised since the last successful Save
func (e *Entity[_]) Raised() []any {
	return e.raised
}

// Raise folds the events into state and queues them for the next Save
func (e *Entity[_]) Raise(evs ...any) {
	for _, ev := range evs {
		e.apply(ev)
		e.raised = append(e.raised, ev)
	}
}

// Raise is the typed form of Entity.Raise
func Raise[T, E any](e *Entity[T], ev E) {
	e.Raise(ev)
}

func (e *Entity[_]) apply(ev any) {
	e.state = e.adapter.Apply(e.state, ev)
}

func (e *Entity[_]) loaded(v StreamVersion) {
	e.version = v
	e.exists = true
}

func (e *Entity[_]) saved(n int, res *AppendResult) {
	if n == 0 {
		return
	}
	e.raised = []any{}
	switch {
	case res != nil:
		e.loaded(res.LastVersion)
	case e.exists:
		e.version += StreamVersion(n)
	default:
		e.loaded(StreamVersion(n - 1))
	}
}
