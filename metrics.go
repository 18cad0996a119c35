package ledger

type (
	// Timer measures one operation. ObserveDuration records the time elapsed
	// since the Timer was created
	Timer interface {
		ObserveDuration()
	}

	// Metrics receives instrumentation from repositories and subscriptions.
	// Implementations must be safe for concurrent use
	Metrics interface {
		// Repository
		LoadDuration(entity string) Timer
		SaveDuration(entity string) Timer
		EventsAppended(entity string, count int)
		ConcurrencyConflict(entity string)

		// Subscription
		EventDuration(subscription string, live bool) Timer
		EventProcessed(subscription string, live, success bool)
		CheckpointSaved(subscription string, pos GlobalPosition)
		StateChanged(subscription string, state SubscriptionState)
	}

	nopMetrics struct{}
	nopTimer   struct{}
)

// NopMetrics returns a Metrics that discards everything
func NopMetrics() Metrics {
	return nopMetrics{}
}

func (nopMetrics) LoadDuration(string) Timer              { return nopTimer{} }
func (nopMetrics) SaveDuration(string) Timer              { return nopTimer{} }
func (nopMetrics) EventsAppended(string, int)             {}
func (nopMetrics) ConcurrencyConflict(string)             {}
func (nopMetrics) EventDuration(string, bool) Timer       { return nopTimer{} }
func (nopMetrics) EventProcessed(string, bool, bool)      {}
func (nopMetrics) CheckpointSaved(string, GlobalPosition) {}
func (nopMetrics) StateChanged(string, SubscriptionState) {}

func (nopTimer) ObserveDuration() {}
