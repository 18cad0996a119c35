// Package memory provides an in-process ledger Backend and CheckpointStore.
// It is complete enough to run subscriptions against, and is the reference
// the other backends are tested for parity with
package memory

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kode4food/ledger"
)

type (
	// Store is an in-memory Backend. Global positions start at 1
	Store struct {
		hub     *hub
		logger  *zap.Logger
		now     func() time.Time
		streams map[ledger.StreamID][]*ledger.ReadEnvelope
		log     []*ledger.ReadEnvelope
		mu      sync.RWMutex
		closed  bool
	}

	// Config configures a Store
	Config struct {
		Logger *zap.Logger
		Clock  func() time.Time

		// LiveBuffer bounds how many committed events a live subscriber may
		// have outstanding before it is cut off with ErrFellBehind
		LiveBuffer int
	}
)

// DefaultLiveBuffer is the default per-subscriber live buffer
const DefaultLiveBuffer = 1024

// ErrClosed is returned by a Store that has been closed
var ErrClosed = errors.New("memory store closed")

var _ ledger.Backend = (*Store)(nil)

func DefaultConfig() Config {
	return Config{
		Logger:     zap.NewNop(),
		Clock:      time.Now,
		LiveBuffer: DefaultLiveBuffer,
	}
}

// NewStore creates an empty Store
func NewStore(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.LiveBuffer <= 0 {
		cfg.LiveBuffer = DefaultLiveBuffer
	}
	return &Store{
		hub:     newHub(cfg.LiveBuffer),
		logger:  cfg.Logger.With(zap.String("backend", "memory")),
		now:     cfg.Clock,
		streams: map[ledger.StreamID][]*ledger.ReadEnvelope{},
	}
}

// Close ends every live feed. Further calls fail with ErrClosed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.hub.close()
	return nil
}

func (s *Store) Append(
	ctx context.Context, id ledger.StreamID, expected ledger.ExpectedVersion,
	evs []*ledger.WriteEnvelope,
) (*ledger.AppendResult, error) {
	if id == "" {
		return nil, ledger.ErrEmptyStreamID
	}
	if len(evs) == 0 {
		return nil, ledger.ErrNoEvents
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	stream := s.streams[id]
	current, exists := lastVersion(stream)
	err := ledger.CheckExpected(id, expected, current, exists)
	if err != nil {
		return nil, err
	}

	next := ledger.Zero
	if exists {
		next = current.Next()
	}
	at := s.now().UTC()
	recorded := make([]*ledger.ReadEnvelope, 0, len(evs))
	for i, ev := range evs {
		pos := ledger.GlobalPosition(len(s.log) + 1)
		env := ev.Recorded(id, next+ledger.StreamVersion(i), pos, at)
		env.Payload = bytes.Clone(ev.Payload)
		env.Metadata = bytes.Clone(ev.Metadata)
		s.log = append(s.log, env)
		recorded = append(recorded, env)
	}
	s.streams[id] = append(stream, recorded...)
	s.hub.publish(recorded)

	first, last := recorded[0], recorded[len(recorded)-1]
	s.logger.Debug("events appended",
		id.Field(), last.Version.Field(), last.Position.Field(),
		zap.Int("events", len(recorded)),
	)
	return &ledger.AppendResult{
		StreamID:      id,
		FirstVersion:  first.Version,
		LastVersion:   last.Version,
		FirstPosition: first.Position,
		LastPosition:  last.Position,
	}, nil
}

func (s *Store) ReadStream(
	ctx context.Context, id ledger.StreamID, opts ledger.ReadOptions,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	s.mu.RLock()
	stream := s.streams[id]
	s.mu.RUnlock()

	last, ok := lastVersion(stream)
	if !ok {
		return ledger.ErrorSeq(ledger.ErrStreamNotFound)
	}
	versions := opts.Select(last)
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		for _, v := range versions {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(stream[v], nil) {
				return
			}
		}
	}
}

func (s *Store) Head(ctx context.Context) (ledger.GlobalPosition, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.log) == 0 {
		return 0, false, nil
	}
	return ledger.GlobalPosition(len(s.log)), true, nil
}

func (s *Store) ReadLog(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	s.mu.RLock()
	backlog := s.since(after, hasAfter)
	s.mu.RUnlock()
	return replay(ctx, backlog)
}

func (s *Store) Live(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			yield(nil, ErrClosed)
			return
		}
		backlog := s.since(after, hasAfter)
		last, hasLast := after, hasAfter
		if len(backlog) > 0 {
			last, hasLast = backlog[len(backlog)-1].Position, true
		}
		sub := s.hub.subscribe(last, hasLast)
		s.mu.RUnlock()
		defer sub.close()

		for env, err := range replay(ctx, backlog) {
			if !yield(env, err) || err != nil {
				return
			}
		}

		for {
			env, err := sub.next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

// since returns the log entries strictly after the position. Callers hold
// the lock
func (s *Store) since(
	after ledger.GlobalPosition, hasAfter bool,
) []*ledger.ReadEnvelope {
	start := 0
	if hasAfter {
		start = min(int(after), len(s.log))
	}
	return s.log[start:len(s.log):len(s.log)]
}

func replay(
	ctx context.Context, envs []*ledger.ReadEnvelope,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		for _, env := range envs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

func lastVersion(
	stream []*ledger.ReadEnvelope,
) (ledger.StreamVersion, bool) {
	if len(stream) == 0 {
		return ledger.Zero, false
	}
	return stream[len(stream)-1].Version, true
}
