package ledger

import (
	"time"

	"go.uber.org/zap"
)

type (
	// RepositoryConfig configures a Repository
	RepositoryConfig struct {
		Logger  *zap.Logger
		Metrics Metrics
		Entity  string
	}

	// SubscriptionConfig configures a Subscription
	SubscriptionConfig struct {
		Logger        *zap.Logger
		Metrics       Metrics
		Policy        CheckpointPolicy
		Observer      StateObserver
		Name          string
		Interceptors  []Interceptor[*Delivery]
		QueueCapacity int
		FlushTimeout  time.Duration

		// TickInterval is how often the policy is consulted while no
		// events arrive. Negative disables the tick
		TickInterval time.Duration
	}
)

const (
	DefaultEntityName        = "entity"
	DefaultSubscriptionName  = "subscription"
	DefaultQueueCapacity     = 256
	DefaultCheckpointEvery   = 100
	DefaultCheckpointFlush   = 5 * time.Second
	DefaultCheckpointTimeout = 10 * time.Second
	DefaultCheckpointTick    = time.Second
)

func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		Logger:  zap.NewNop(),
		Metrics: NopMetrics(),
		Entity:  DefaultEntityName,
	}
}

func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Logger:  zap.NewNop(),
		Metrics: NopMetrics(),
		Name:    DefaultSubscriptionName,
		Policy: AnyOf(
			EveryN(DefaultCheckpointEvery),
			EveryInterval(DefaultCheckpointFlush),
		),
		QueueCapacity: DefaultQueueCapacity,
		FlushTimeout:  DefaultCheckpointTimeout,
		TickInterval:  DefaultCheckpointTick,
	}
}

func (c RepositoryConfig) withDefaults() RepositoryConfig {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics()
	}
	if c.Entity == "" {
		c.Entity = DefaultEntityName
	}
	return c
}

func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	def := DefaultSubscriptionConfig()
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Metrics == nil {
		c.Metrics = def.Metrics
	}
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Policy == nil {
		c.Policy = def.Policy
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = def.FlushTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	return c
}
