package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	// SubscriptionState is the position of a Subscription in its lifecycle
	SubscriptionState int32

	// LogSource is the part of a Backend that a Subscription needs
	LogSource interface {
		LogReader
		LiveFeed
	}

	// Subscription replays the global log from its last checkpoint and then
	// tails the live feed, delivering each event to its Consumer in strictly
	// increasing position order. Checkpoints are saved after processing, so
	// delivery across restarts is at least once
	Subscription struct {
		source      LogSource
		consumer    Consumer
		checkpoints Checkpointer
		observer    StateObserver
		deliver     Next[*Delivery]
		policy      CheckpointPolicy
		logger      *zap.Logger
		metrics     Metrics
		dropped     error
		name        string
		capacity    int
		flushAfter  time.Duration
		tickEvery   time.Duration
		state       atomic.Int32
		running     atomic.Bool
		started     atomic.Bool
	}

	// progress is the consumer-side bookkeeping of a single Run
	progress struct {
		savedAt time.Time
		last    GlobalPosition
		pending int
		hasLast bool
	}

	// queueItem carries the envelope by reference. Backends hand out a
	// fresh envelope per event, so a consumer may keep what it is given
	queueItem struct {
		err  error
		env  *ReadEnvelope
		kind itemKind
	}

	itemKind int
)

const (
	Initializing SubscriptionState = iota
	Subscribing
	CatchingUp
	Live
	FellBehind
	Dropped
)

const (
	itemEvent itemKind = iota
	itemCaughtUp
	itemFellBehind
	itemFault
	itemTick
)

// ErrSubscriptionRunning is returned by Run on a Subscription that is
// already running
var ErrSubscriptionRunning = errors.New("subscription already running")

var stateNames = map[SubscriptionState]string{
	Initializing: "initializing",
	Subscribing:  "subscribing",
	CatchingUp:   "catching-up",
	Live:         "live",
	FellBehind:   "fell-behind",
	Dropped:      "dropped",
}

func (s SubscriptionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// NewSubscription creates a Subscription. If cfg.Observer is nil and the
// consumer implements StateObserver, the consumer observes transitions
func NewSubscription(
	source LogSource, consumer Consumer, cp Checkpointer,
	cfg SubscriptionConfig,
) *Subscription {
	cfg = cfg.withDefaults()
	s := &Subscription{
		source:      source,
		consumer:    consumer,
		checkpoints: cp,
		observer:    cfg.Observer,
		policy:      cfg.Policy,
		logger:      cfg.Logger.With(zap.String("subscription", cfg.Name)),
		metrics:     cfg.Metrics,
		name:        cfg.Name,
		capacity:    cfg.QueueCapacity,
		flushAfter:  cfg.FlushTimeout,
		tickEvery:   cfg.TickInterval,
	}
	if s.observer == nil {
		if obs, ok := consumer.(StateObserver); ok {
			s.observer = obs
		} else {
			s.observer = NopObserver{}
		}
	}
	s.deliver = Chain(s.handle, cfg.Interceptors...)
	return s
}

// Name returns the subscription's name
func (s *Subscription) Name() string {
	return s.name
}

// State returns the current state. It is safe to call from any goroutine
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Run drives the subscription until the context ends or it is dropped.
// Cancellation flushes any pending checkpoint and returns the context's
// error. Any unrecoverable fault returns a *SubscriptionDroppedError, after
// which the Subscription cannot be run again
func (s *Subscription) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSubscriptionRunning
	}
	defer s.running.Store(false)
	if s.dropped != nil {
		return s.dropped
	}

	p := &progress{savedAt: time.Now()}
	s.transition(Initializing)
	s.observer.OnInitializing(ctx)
	pos, ok, err := s.checkpoints.LoadCheckpoint(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.drop(ctx, p, fmt.Errorf("load checkpoint: %w", err))
	}
	p.last, p.hasLast = pos, ok
	if ok {
		s.logger.Info("resuming from checkpoint", pos.Field())
	}

	for {
		err := s.attempt(ctx, p)
		switch {
		case ctx.Err() != nil:
			s.flushDetached(ctx, p)
			s.logger.Info("subscription stopped", p.last.Field())
			return ctx.Err()
		case errors.Is(err, ErrFellBehind):
			s.transition(FellBehind)
			s.logger.Warn("subscription fell behind",
				p.last.Field(), zap.Error(err),
			)
			s.observer.OnFellBehind(ctx)
			if err := s.flush(ctx, p); err != nil {
				return s.drop(ctx, p, err)
			}
		default:
			return s.drop(ctx, p, err)
		}
	}
}

func (s *Subscription) attempt(ctx context.Context, p *progress) error {
	s.transition(Subscribing)
	s.observer.OnSubscribing(ctx)
	head, hasHead, err := s.source.Head(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	catchUp := hasHead && (!p.hasLast || head > p.last)
	if catchUp {
		s.transition(CatchingUp)
		s.observer.OnCatchingUp(ctx)
	} else if err := s.caughtUp(ctx, p); err != nil {
		return err
	}

	q := NewArenaQueue(s.capacity, resetItem)
	g, gctx := errgroup.WithContext(ctx)
	after, hasAfter := p.last, p.hasLast
	g.Go(func() error {
		defer q.Close()
		if catchUp {
			return s.produce(gctx, q, after, hasAfter, &head)
		}
		return s.produce(gctx, q, after, hasAfter, nil)
	})
	g.Go(func() error {
		return s.consume(gctx, q, p)
	})
	if s.tickEvery > 0 {
		g.Go(func() error {
			return s.tick(gctx, q)
		})
	}
	return g.Wait()
}

// tick queues a periodic item so that time-based checkpoint policies are
// consulted while the feed is idle
func (s *Subscription) tick(
	ctx context.Context, q *ArenaQueue[queueItem],
) error {
	t := time.NewTicker(s.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		err := s.mark(ctx, q, itemTick, nil)
		if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// produce writes the log after the resume position into the queue. With a
// head it first replays up to that head and marks the catch-up boundary,
// then it tails the live feed. Feed faults are queued as the final item so
// that everything before them is still delivered
func (s *Subscription) produce(
	ctx context.Context, q *ArenaQueue[queueItem],
	after GlobalPosition, hasAfter bool, head *GlobalPosition,
) error {
	last, hasLast := after, hasAfter
	if head != nil {
		for env, err := range s.source.ReadLog(ctx, after, hasAfter) {
			if err != nil {
				return s.mark(ctx, q, itemFault, fmt.Errorf("read log: %w", err))
			}
			if env.Position > *head {
				break
			}
			if err := q.Write(ctx, fillItem(env)); err != nil {
				return err
			}
			last, hasLast = env.Position, true
			if last == *head {
				break
			}
		}
		if err := s.mark(ctx, q, itemCaughtUp, nil); err != nil {
			return err
		}
	}

	for env, err := range s.source.Live(ctx, last, hasLast) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrFellBehind) {
			return s.mark(ctx, q, itemFellBehind, err)
		}
		if err != nil {
			return s.mark(ctx, q, itemFault, fmt.Errorf("live feed: %w", err))
		}
		if err := q.Write(ctx, fillItem(env)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mark(ctx, q, itemFellBehind,
		fmt.Errorf("%w: live feed ended", ErrFellBehind),
	)
}

func (s *Subscription) mark(
	ctx context.Context, q *ArenaQueue[queueItem], kind itemKind, cause error,
) error {
	return q.Write(ctx, func(it *queueItem) error {
		it.kind = kind
		it.err = cause
		return nil
	})
}

func (s *Subscription) consume(
	ctx context.Context, q *ArenaQueue[queueItem], p *progress,
) error {
	for it := range q.ReadAll(ctx) {
		switch it.kind {
		case itemCaughtUp:
			if err := s.caughtUp(ctx, p); err != nil {
				return err
			}
		case itemFellBehind, itemFault:
			return it.err
		case itemTick:
			if p.pending > 0 && s.policy(p.pending, time.Since(p.savedAt)) {
				if err := s.flush(ctx, p); err != nil {
					return err
				}
			}
		default:
			if err := s.process(ctx, it.env, p); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

func (s *Subscription) process(
	ctx context.Context, env *ReadEnvelope, p *progress,
) error {
	if p.hasLast && env.Position <= p.last {
		return nil
	}
	d := &Delivery{
		Envelope:     env,
		Subscription: s.name,
		State:        s.State(),
	}
	if err := s.deliver(ctx, d); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("deliver %q at position %d: %w",
			env.Name, env.Position, err)
	}
	p.last, p.hasLast = env.Position, true
	p.pending++
	if s.policy(p.pending, time.Since(p.savedAt)) {
		return s.flush(ctx, p)
	}
	return nil
}

func (s *Subscription) handle(ctx context.Context, d *Delivery) error {
	return s.consumer.OnEvent(ctx, d.Envelope)
}

func (s *Subscription) caughtUp(ctx context.Context, p *progress) error {
	s.transition(Live)
	s.observer.OnCaughtUp(ctx)
	return s.flush(ctx, p)
}

func (s *Subscription) flush(ctx context.Context, p *progress) error {
	if p.pending == 0 || !p.hasLast {
		return nil
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, p.last); err != nil {
		return fmt.Errorf("save checkpoint at %d: %w", p.last, err)
	}
	p.pending = 0
	p.savedAt = time.Now()
	s.metrics.CheckpointSaved(s.name, p.last)
	s.logger.Debug("checkpoint saved", p.last.Field())
	return nil
}

// flushDetached saves a pending checkpoint while the run's context may
// already be done
func (s *Subscription) flushDetached(ctx context.Context, p *progress) {
	fctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), s.flushAfter,
	)
	defer cancel()
	if err := s.flush(fctx, p); err != nil {
		s.logger.Error("final checkpoint failed", zap.Error(err))
	}
}

func (s *Subscription) drop(
	ctx context.Context, p *progress, cause error,
) error {
	at := s.State()
	s.flushDetached(ctx, p)
	s.transition(Dropped)
	s.logger.Error("subscription dropped",
		zap.Stringer("during", at), zap.Error(cause),
	)
	s.observer.OnDropped(ctx, cause)
	s.dropped = &SubscriptionDroppedError{
		Name:  s.name,
		State: at,
		Cause: cause,
	}
	return s.dropped
}

func (s *Subscription) transition(state SubscriptionState) {
	prev := SubscriptionState(s.state.Swap(int32(state)))
	first := !s.started.Swap(true)
	if prev == state && !first {
		return
	}
	s.metrics.StateChanged(s.name, state)
	if first {
		s.logger.Info("subscription state changed", zap.Stringer("to", state))
		return
	}
	s.logger.Info("subscription state changed",
		zap.Stringer("from", prev), zap.Stringer("to", state),
	)
}

func fillItem(env *ReadEnvelope) func(*queueItem) error {
	return func(it *queueItem) error {
		it.kind = itemEvent
		it.env = env
		return nil
	}
}

func resetItem(it *queueItem) {
	it.kind = itemEvent
	it.env = nil
	it.err = nil
}
