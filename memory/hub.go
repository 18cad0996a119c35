package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/ledger"
)

type (
	// hub fans committed events out to live subscribers over a topic. A
	// subscriber that takes an event off the topic while more than its
	// limit of events are outstanding is cut off with ErrFellBehind
	hub struct {
		topic    topic.Topic[*ledger.ReadEnvelope]
		producer topic.Producer[*ledger.ReadEnvelope]
		done     chan struct{}
		head     atomic.Uint64
		limit    int
		once     sync.Once
	}

	subscriber struct {
		consumer topic.Consumer[*ledger.ReadEnvelope]
		receive  <-chan *ledger.ReadEnvelope
		hub      *hub
		last     ledger.GlobalPosition
		hasLast  bool
	}
)

func newHub(limit int) *hub {
	t := caravan.NewTopic[*ledger.ReadEnvelope]()
	return &hub{
		topic:    t,
		producer: t.NewProducer(),
		done:     make(chan struct{}),
		limit:    max(limit, 1),
	}
}

// subscribe opens a consumer that skips everything up to and including the
// given position. Callers hold the store lock so that nothing is published
// between the backlog snapshot and the consumer's creation
func (h *hub) subscribe(
	after ledger.GlobalPosition, hasAfter bool,
) *subscriber {
	c := h.topic.NewConsumer()
	return &subscriber{
		consumer: c,
		receive:  c.Receive(),
		hub:      h,
		last:     after,
		hasLast:  hasAfter,
	}
}

// publish sends events to the topic in commit order. Callers hold the store
// lock
func (h *hub) publish(evs []*ledger.ReadEnvelope) {
	h.head.Store(uint64(evs[len(evs)-1].Position))
	for _, ev := range evs {
		h.producer.Send() <- ev
	}
}

// close ends every subscriber's feed with ErrClosed
func (h *hub) close() {
	h.once.Do(func() {
		close(h.done)
		h.producer.Close()
	})
}

// next blocks for the next event after the subscriber's position. It
// returns ErrClosed once the hub is closed and ErrFellBehind once the
// subscriber has too many events outstanding
func (s *subscriber) next(ctx context.Context) (*ledger.ReadEnvelope, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.hub.done:
			return nil, ErrClosed
		case env, ok := <-s.receive:
			if !ok {
				return nil, ErrClosed
			}
			if s.hasLast && env.Position <= s.last {
				continue
			}
			if s.outstanding(env) > s.hub.limit {
				return nil, ledger.ErrFellBehind
			}
			s.last, s.hasLast = env.Position, true
			return env, nil
		}
	}
}

// outstanding counts the event and every event published after it
func (s *subscriber) outstanding(env *ledger.ReadEnvelope) int {
	head := ledger.GlobalPosition(s.hub.head.Load())
	if head < env.Position {
		return 1
	}
	return int(head-env.Position) + 1
}

func (s *subscriber) close() {
	s.consumer.Close()
}
