package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type (
	// Next continues an interceptor chain with the in-flight value
	Next[T any] func(ctx context.Context, v T) error

	// Interceptor wraps the rest of a chain. It may act before and after
	// calling next, or not call it at all
	Interceptor[T any] func(ctx context.Context, v T, next Next[T]) error

	// Delivery is the in-flight value of a subscription's chain
	Delivery struct {
		Envelope     *ReadEnvelope
		Subscription string
		State        SubscriptionState
	}
)

// Chain wraps core in the interceptors. The first interceptor is the
// outermost: it runs first on the way in and last on the way out
func Chain[T any](core Next[T], interceptors ...Interceptor[T]) Next[T] {
	next := core
	for i := len(interceptors) - 1; i >= 0; i-- {
		next = wrap(interceptors[i], next)
	}
	return next
}

func wrap[T any](ic Interceptor[T], next Next[T]) Next[T] {
	return func(ctx context.Context, v T) error {
		return ic(ctx, v, next)
	}
}

// Live reports whether the delivery happened while the subscription was
// tailing the live feed
func (d *Delivery) Live() bool {
	return d.State == Live
}

// Fields returns zap fields describing the delivery
func (d *Delivery) Fields() []zap.Field {
	return []zap.Field{
		zap.String("subscription", d.Subscription),
		zap.Stringer("state", d.State),
		zap.String("event", d.Envelope.Name),
		d.Envelope.StreamID.Field(),
		d.Envelope.Version.Field(),
		d.Envelope.Position.Field(),
	}
}

// LogInterceptor logs every delivery at debug level and every failed one
// at error level
func LogInterceptor(logger *zap.Logger) Interceptor[*Delivery] {
	return func(ctx context.Context, d *Delivery, next Next[*Delivery]) error {
		start := time.Now()
		err := next(ctx, d)
		fields := append(d.Fields(), zap.Duration("duration", time.Since(start)))
		if err != nil {
			logger.Error("event delivery failed",
				append(fields, zap.Error(err))...,
			)
			return err
		}
		logger.Debug("event delivered", fields...)
		return nil
	}
}

// MetricsInterceptor records delivery latency and outcome
func MetricsInterceptor(m Metrics) Interceptor[*Delivery] {
	return func(ctx context.Context, d *Delivery, next Next[*Delivery]) error {
		t := m.EventDuration(d.Subscription, d.Live())
		err := next(ctx, d)
		t.ObserveDuration()
		m.EventProcessed(d.Subscription, d.Live(), err == nil)
		return err
	}
}

// RecoverInterceptor turns a panic further down the chain into an error
func RecoverInterceptor() Interceptor[*Delivery] {
	return func(
		ctx context.Context, d *Delivery, next Next[*Delivery],
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %q at position %d: %v",
					ErrHandlerPanic, d.Envelope.Name, d.Envelope.Position, r)
			}
		}()
		return next(ctx, d)
	}
}
