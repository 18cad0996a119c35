package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/ledger"
)

type (
	counterState struct {
		Value int
	}

	Incremented struct{ By int }
	Decremented struct{ By int }
	Reset       struct{}
)

func counterAppliers() ledger.Appliers[counterState] {
	return ledger.MakeAppliers(
		ledger.On(func(s counterState, ev Incremented) counterState {
			return counterState{Value: s.Value + ev.By}
		}),
		ledger.On(func(s counterState, ev Decremented) counterState {
			return counterState{Value: s.Value - ev.By}
		}),
		ledger.On(func(counterState, Reset) counterState {
			return counterState{}
		}),
	)
}

func TestAppliers(t *testing.T) {
	apps := counterAppliers()
	assert.Len(t, apps, 3)

	s := counterState{}
	s = apps.Apply(s, Incremented{By: 5})
	s = apps.Apply(s, &Incremented{By: 2})
	s = apps.Apply(s, Decremented{By: 3})
	assert.Equal(t, 4, s.Value)

	s = apps.Apply(s, Reset{})
	assert.Equal(t, 0, s.Value)
}

func TestAppliersIgnoreUnknown(t *testing.T) {
	apps := counterAppliers()
	s := apps.Apply(counterState{Value: 9}, "not an event")
	assert.Equal(t, 9, s.Value)
	s = apps.Apply(s, nil)
	assert.Equal(t, 9, s.Value)

	assert.True(t, apps.Handles(Reset{}))
	assert.True(t, apps.Handles(&Reset{}))
	assert.False(t, apps.Handles(42))
}

func TestMakeApplierWrongType(t *testing.T) {
	apply := ledger.MakeApplier(func(s counterState, ev Incremented) counterState {
		t.Fatal("should not be called")
		return s
	})
	s := apply(counterState{Value: 1}, Decremented{By: 1})
	assert.Equal(t, 1, s.Value)

	var nilEvent *Incremented
	s = apply(s, nilEvent)
	assert.Equal(t, 1, s.Value)
}

func TestMakeAppliersLastWins(t *testing.T) {
	apps := ledger.MakeAppliers(
		ledger.On(func(counterState, Reset) counterState {
			return counterState{Value: 1}
		}),
		ledger.On(func(counterState, Reset) counterState {
			return counterState{Value: 2}
		}),
	)
	assert.Equal(t, 2, apps.Apply(counterState{}, Reset{}).Value)
}

func TestAdapter(t *testing.T) {
	adapter := ledger.NewAdapterWithAppliers(
		func(ledger.StreamID) counterState { return counterState{Value: 100} },
		counterAppliers(),
	)
	assert.Equal(t, 100, adapter.Blank("c").Value)
	assert.Equal(t, 101, adapter.Apply(adapter.Blank("c"), Incremented{1}).Value)
	assert.Len(t, adapter.Appliers(), 3)

	e := adapter.New("c")
	assert.Equal(t, ledger.StreamID("c"), e.ID())
	assert.False(t, e.Exists())
	assert.Equal(t, ledger.NoStream(), e.Expected())
	assert.Empty(t, e.Raised())

	e.Raise(Incremented{By: 2}, Decremented{By: 1})
	ledger.Raise(e, Incremented{By: 10})
	assert.Equal(t, 111, e.State().Value)
	assert.Equal(t, []any{
		Incremented{By: 2}, Decremented{By: 1}, Incremented{By: 10},
	}, e.Raised())
}
