package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type (
	// StreamStore is the part of a Backend that a Repository needs
	StreamStore interface {
		StreamReader
		Appender
	}

	// Repository loads entities by folding their streams and saves the
	// events they raise. It holds no locks and never retries a conflict;
	// concurrent writers are arbitrated by the backend's precondition check
	Repository[T any] struct {
		store   StreamStore
		mapper  *EventMapper
		adapter *Adapter[T]
		logger  *zap.Logger
		metrics Metrics
		entity  string
	}
)

// NewRepository creates a Repository for one entity type
func NewRepository[T any](
	store StreamStore, mapper *EventMapper, adapter *Adapter[T],
	cfg RepositoryConfig,
) *Repository[T] {
	cfg = cfg.withDefaults()
	return &Repository[T]{
		store:   store,
		mapper:  mapper,
		adapter: adapter,
		logger:  cfg.Logger.With(zap.String("entity", cfg.Entity)),
		metrics: cfg.Metrics,
		entity:  cfg.Entity,
	}
}

// New creates an unsaved entity with blank state
func (r *Repository[T]) New(id StreamID) *Entity[T] {
	return r.adapter.New(id)
}

// Load reads the entity's stream from the start and folds every event into
// fresh state. A stream that was never written yields ErrStreamNotFound
func (r *Repository[T]) Load(
	ctx context.Context, id StreamID,
) (*Entity[T], error) {
	if id == "" {
		return nil, ErrEmptyStreamID
	}
	defer r.metrics.LoadDuration(r.entity).ObserveDuration()

	e := r.adapter.New(id)
	next := Zero
	for env, err := range r.store.ReadStream(ctx, id, ReadForward()) {
		if err != nil {
			return nil, err
		}
		if env.Version != next {
			return nil, fmt.Errorf(
				"%w: stream %q expected version %d, read %d",
				ErrVersionGap, id, next, env.Version,
			)
		}
		evs, err := r.mapper.FromReadEvent(env)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			e.apply(ev)
		}
		e.loaded(env.Version)
		next = env.Version.Next()
	}
	if !e.exists {
		return nil, ErrStreamNotFound
	}

	r.logger.Debug("entity loaded", id.Field(), e.version.Field())
	return e, nil
}

// LoadOrNew is Load, except that a missing stream yields a new entity
func (r *Repository[T]) LoadOrNew(
	ctx context.Context, id StreamID,
) (*Entity[T], error) {
	e, err := r.Load(ctx, id)
	if errors.Is(err, ErrStreamNotFound) {
		return r.adapter.New(id), nil
	}
	return e, err
}

// Exists reports whether the entity's stream has been written
func (r *Repository[T]) Exists(
	ctx context.Context, id StreamID,
) (bool, error) {
	opts := ReadOptions{From: StartEnd(), Direction: Backward, Limit: 1}
	for _, err := range r.store.ReadStream(ctx, id, opts) {
		if errors.Is(err, ErrStreamNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Save appends every raised event in a single batch guarded by expected.
// On success the raised events are cleared and the tracked version moves
// to the last appended event. A *WrongExpectedVersionError is returned as
// is and leaves the entity untouched
func (r *Repository[T]) Save(
	ctx context.Context, e *Entity[T], expected ExpectedVersion,
) error {
	raised := e.Raised()
	if len(raised) == 0 {
		return nil
	}
	defer r.metrics.SaveDuration(r.entity).ObserveDuration()

	envs := make([]*WriteEnvelope, 0, len(raised))
	for _, ev := range raised {
		env, err := r.mapper.ToWriteEvent(ev)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}

	res, err := r.store.Append(ctx, e.ID(), expected, envs)
	if err != nil {
		if errors.Is(err, ErrWrongExpectedVersion) {
			r.metrics.ConcurrencyConflict(r.entity)
			r.logger.Debug("save conflict", e.ID().Field(), zap.Error(err))
		}
		return err
	}

	e.saved(len(envs), res)
	r.metrics.EventsAppended(r.entity, len(envs))
	r.logger.Debug("entity saved",
		e.ID().Field(),
		e.version.Field(),
		zap.Int("events", len(envs)),
	)
	return nil
}
