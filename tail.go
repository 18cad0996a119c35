package ledger

import (
	"context"
	"iter"
	"sync"
	"time"
)

type (
	// Signal wakes any number of waiters each time Notify is called. A
	// waiter takes its channel with Wait before checking for work, so a
	// Notify that lands in between is never lost
	Signal struct {
		ch chan struct{}
		mu sync.Mutex
	}

	// TailConfig configures a polling live feed built with Tail
	TailConfig struct {
		// Wake returns a channel that closes once new events may be
		// available. A nil Wake relies on PollInterval alone
		Wake func() <-chan struct{}

		// PollInterval bounds how long the feed waits without a wake-up
		// before reading again. Zero disables polling
		PollInterval time.Duration
	}
)

// DefaultPollInterval is used by backends whose wake-ups are best effort
const DefaultPollInterval = time.Second

// NewSignal creates a Signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Wait returns a channel that is closed by the next Notify
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Notify wakes every current waiter
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}

// Tail turns a LogReader into a live feed. It repeatedly reads the log after
// the last position it yielded, then sleeps until woken or the poll
// interval passes. The feed ends when the context does or a read fails
func Tail(
	ctx context.Context, r LogReader, after GlobalPosition, hasAfter bool,
	cfg TailConfig,
) iter.Seq2[*ReadEnvelope, error] {
	return func(yield func(*ReadEnvelope, error) bool) {
		var tick <-chan time.Time
		if cfg.PollInterval > 0 {
			t := time.NewTicker(cfg.PollInterval)
			defer t.Stop()
			tick = t.C
		}

		last, hasLast := after, hasAfter
		for {
			var wake <-chan struct{}
			if cfg.Wake != nil {
				wake = cfg.Wake()
			}
			for env, err := range r.ReadLog(ctx, last, hasLast) {
				if err != nil {
					yield(nil, err)
					return
				}
				if hasLast && env.Position <= last {
					continue
				}
				if !yield(env, nil) {
					return
				}
				last, hasLast = env.Position, true
			}

			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-wake:
			case <-tick:
			}
		}
	}
}
