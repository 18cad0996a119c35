package ledger_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/ledger"
)

type (
	SessionStarted struct {
		Customer string `json:"customer"`
	}

	ItemAdded struct {
		Item string `json:"item"`
	}

	ItemRemoved struct {
		Item string `json:"item"`
	}

	Cart struct {
		Items    map[string]bool
		ID       ledger.StreamID
		Customer string
		Started  bool
	}

	// recorder is a Consumer and StateObserver that remembers everything
	recorder struct {
		fail     func(*ledger.ReadEnvelope) error
		hooks    []string
		names    []string
		position []ledger.GlobalPosition
		mu       sync.Mutex
	}
)

const (
	EventSessionStarted = "cart.session-started"
	EventItemAdded      = "cart.item-added"
	EventItemRemoved    = "cart.item-removed"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func NewCart(id ledger.StreamID) *Cart {
	return &Cart{ID: id, Items: map[string]bool{}}
}

func cartMapper(t *testing.T) *ledger.EventMapper {
	t.Helper()
	m, err := ledger.NewEventMapper(ledger.JSONCodec{},
		ledger.Map[SessionStarted](EventSessionStarted, "SessionStarted"),
		ledger.Map[ItemAdded](EventItemAdded, "ItemAdded", "cart.added"),
		ledger.Map[ItemRemoved](EventItemRemoved),
	)
	assert.NoError(t, err)
	return m
}

func cartAdapter() *ledger.Adapter[*Cart] {
	return ledger.NewAdapter[*Cart](NewCart,
		ledger.On(func(c *Cart, ev SessionStarted) *Cart {
			c.Started = true
			c.Customer = ev.Customer
			return c
		}),
		ledger.On(func(c *Cart, ev ItemAdded) *Cart {
			c.Items[ev.Item] = true
			return c
		}),
		ledger.On(func(c *Cart, ev ItemRemoved) *Cart {
			delete(c.Items, ev.Item)
			return c
		}),
	)
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) OnEvent(_ context.Context, env *ledger.ReadEnvelope) error {
	if r.fail != nil {
		if err := r.fail(env); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.position = append(r.position, env.Position)
	r.names = append(r.names, env.Name)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnInitializing(context.Context) { r.hook("initializing") }
func (r *recorder) OnSubscribing(context.Context)  { r.hook("subscribing") }
func (r *recorder) OnCatchingUp(context.Context)   { r.hook("catching-up") }
func (r *recorder) OnCaughtUp(context.Context)     { r.hook("caught-up") }
func (r *recorder) OnFellBehind(context.Context)   { r.hook("fell-behind") }

func (r *recorder) OnDropped(context.Context, error) {
	r.hook("dropped")
}

func (r *recorder) hook(name string) {
	r.mu.Lock()
	r.hooks = append(r.hooks, name)
	r.mu.Unlock()
}

func (r *recorder) positions() []ledger.GlobalPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.position)
}

func (r *recorder) seenHooks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.hooks)
}

func (r *recorder) waitFor(t *testing.T, count int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return len(r.positions()) >= count
	}, 5*time.Second, 5*time.Millisecond)
}

func (r *recorder) waitForHook(t *testing.T, name string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return slices.Contains(r.seenHooks(), name)
	}, 5*time.Second, 5*time.Millisecond)
}

func positions(from, to int) []ledger.GlobalPosition {
	var res []ledger.GlobalPosition
	for p := from; p <= to; p++ {
		res = append(res, ledger.GlobalPosition(p))
	}
	return res
}
