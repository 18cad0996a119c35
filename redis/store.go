// Package redis provides a ledger Backend and CheckpointStore on Redis.
// Appends run as a single Lua script so the expected version check and the
// write are atomic. Live feeds poll the log and are woken early through a
// pub/sub channel
package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/internal/record"
)

type (
	// Store is a Redis-backed ledger Backend
	Store struct {
		client       *redis.Client
		logger       *zap.Logger
		now          func() time.Time
		appendLua    *redis.Script
		readLua      *redis.Script
		prefix       string
		pageSize     int
		pollInterval time.Duration
	}

	// Config configures a Store
	Config struct {
		Logger       *zap.Logger
		Clock        func() time.Time
		Addr         string
		Password     string
		Prefix       string
		DB           int
		PageSize     int
		PollInterval time.Duration
	}
)

const (
	DefaultEndpoint = "localhost:6379"
	DefaultPrefix   = "ledger"
	DefaultDB       = 0
	DefaultPageSize = 512

	ConnectTimeout = 5 * time.Second

	streamInfix   = ":stream:"
	logSuffix     = ":log"
	notifySuffix  = ":notify"
	checkpointKey = ":checkpoints"
)

// ErrUnexpectedLuaResult is returned when a script reply has the wrong shape
var ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")

var _ ledger.Backend = (*Store)(nil)

func DefaultConfig() Config {
	return Config{
		Logger:       zap.NewNop(),
		Clock:        time.Now,
		Addr:         DefaultEndpoint,
		Prefix:       DefaultPrefix,
		DB:           DefaultDB,
		PageSize:     DefaultPageSize,
		PollInterval: ledger.DefaultPollInterval,
	}
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewStoreWithClient(client, cfg), nil
}

// NewStoreWithClient wraps an existing client. Closing the Store closes it
func NewStoreWithClient(client *redis.Client, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Store{
		client:       client,
		logger:       cfg.Logger.With(zap.String("backend", "redis")),
		now:          cfg.Clock,
		appendLua:    redis.NewScript(luaAppendEvents),
		readLua:      redis.NewScript(luaReadStream),
		prefix:       cfg.Prefix,
		pageSize:     cfg.PageSize,
		pollInterval: cfg.PollInterval,
	}
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
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

	at := s.now().UTC()
	args := make([]any, 0, len(evs)+2)
	args = append(args, expectMode(expected), uint64(expected.Version()))
	for _, ev := range evs {
		data, err := record.Encode(id, ev, at)
		if err != nil {
			return nil, err
		}
		args = append(args, string(data))
	}

	keys := []string{s.streamKey(id), s.logKey()}
	result, err := s.appendLua.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", id, err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		return nil, ErrUnexpectedLuaResult
	}
	success, _ := res[0].(int64)
	length, _ := res[1].(int64)
	if success == 0 {
		return nil, conflict(id, expected, length)
	}
	if len(res) < 3 {
		return nil, ErrUnexpectedLuaResult
	}
	firstPos, _ := res[2].(int64)

	n := len(evs)
	out := &ledger.AppendResult{
		StreamID:      id,
		FirstVersion:  ledger.StreamVersion(length),
		LastVersion:   ledger.StreamVersion(length) + ledger.StreamVersion(n-1),
		FirstPosition: ledger.GlobalPosition(firstPos),
		LastPosition:  ledger.GlobalPosition(firstPos) + ledger.GlobalPosition(n-1),
	}

	err = s.client.Publish(ctx, s.notifyKey(), uint64(out.LastPosition)).Err()
	if err != nil {
		s.logger.Warn("live notification failed", zap.Error(err))
	}
	s.logger.Debug("events appended",
		id.Field(), out.LastVersion.Field(), out.LastPosition.Field(),
		zap.Int("events", n),
	)
	return out, nil
}

func (s *Store) ReadStream(
	ctx context.Context, id ledger.StreamID, opts ledger.ReadOptions,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		length, err := s.client.LLen(ctx, s.streamKey(id)).Result()
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", id, err))
			return
		}
		if length == 0 {
			yield(nil, ledger.ErrStreamNotFound)
			return
		}

		versions := opts.Select(ledger.StreamVersion(length - 1))
		if len(versions) == 0 {
			return
		}
		lo, hi := versions[0], versions[len(versions)-1]
		if lo > hi {
			lo, hi = hi, lo
		}
		envs, err := s.readRange(ctx, id, lo, hi)
		if err != nil {
			yield(nil, err)
			return
		}
		if opts.Direction == ledger.Backward {
			slices.Reverse(envs)
		}
		for _, env := range envs {
			if !yield(env, nil) {
				return
			}
		}
	}
}

func (s *Store) Head(ctx context.Context) (ledger.GlobalPosition, bool, error) {
	length, err := s.client.LLen(ctx, s.logKey()).Result()
	if err != nil {
		return 0, false, fmt.Errorf("read head: %w", err)
	}
	return ledger.GlobalPosition(length), length > 0, nil
}

// ReadLog pages through the log list. The position of an entry is its
// index plus one
func (s *Store) ReadLog(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		start := int64(0)
		if hasAfter {
			start = int64(after)
		}
		for {
			stop := start + int64(s.pageSize) - 1
			page, err := s.client.LRange(ctx, s.logKey(), start, stop).Result()
			if err != nil {
				yield(nil, fmt.Errorf("read log: %w", err))
				return
			}
			for i, entry := range page {
				pos := ledger.GlobalPosition(start + int64(i) + 1)
				env, err := decodeLogEntry(entry, pos)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(env, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			start += int64(len(page))
		}
	}
}

// Live tails the log, waking on append notifications and polling in case
// one is missed
func (s *Store) Live(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		pubsub := s.client.Subscribe(lctx, s.notifyKey())
		defer func() { _ = pubsub.Close() }()
		if _, err := pubsub.Receive(lctx); err != nil {
			yield(nil, fmt.Errorf("subscribe: %w", err))
			return
		}

		sig := ledger.NewSignal()
		go func() {
			for range pubsub.Channel() {
				sig.Notify()
			}
		}()

		for env, err := range ledger.Tail(lctx, s, after, hasAfter,
			ledger.TailConfig{
				Wake:         sig.Wait,
				PollInterval: s.pollInterval,
			},
		) {
			if !yield(env, err) {
				return
			}
		}
	}
}

func (s *Store) readRange(
	ctx context.Context, id ledger.StreamID, lo, hi ledger.StreamVersion,
) ([]*ledger.ReadEnvelope, error) {
	keys := []string{s.streamKey(id), s.logKey()}
	result, err := s.readLua.Run(ctx, s.client, keys,
		uint64(lo), uint64(hi),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	res, ok := result.([]any)
	if !ok || len(res)%2 != 0 {
		return nil, ErrUnexpectedLuaResult
	}

	envs := make([]*ledger.ReadEnvelope, 0, len(res)/2)
	for i := 0; i < len(res); i += 2 {
		ps, _ := res[i].(string)
		entry, _ := res[i+1].(string)
		pos, err := strconv.ParseUint(ps, 10, 64)
		if err != nil {
			return nil, ErrUnexpectedLuaResult
		}
		env, err := decodeLogEntry(entry, ledger.GlobalPosition(pos))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *Store) streamKey(id ledger.StreamID) string {
	return s.prefix + streamInfix + string(id)
}

func (s *Store) logKey() string {
	return s.prefix + logSuffix
}

func (s *Store) notifyKey() string {
	return s.prefix + notifySuffix
}

func decodeLogEntry(
	entry string, pos ledger.GlobalPosition,
) (*ledger.ReadEnvelope, error) {
	vs, data, ok := strings.Cut(entry, ":")
	if !ok {
		return nil, fmt.Errorf("%w: log entry %d", ErrUnexpectedLuaResult, pos)
	}
	ver, err := strconv.ParseUint(vs, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: log entry %d", ErrUnexpectedLuaResult, pos)
	}
	return record.Decode([]byte(data), ledger.StreamVersion(ver), pos)
}

func expectMode(expected ledger.ExpectedVersion) string {
	switch {
	case expected.IsNoStream():
		return "none"
	case expected.IsExact():
		return "exact"
	default:
		return "any"
	}
}

func conflict(
	id ledger.StreamID, expected ledger.ExpectedVersion, length int64,
) error {
	actual, exists := ledger.Zero, length > 0
	if exists {
		actual = ledger.StreamVersion(length - 1)
	}
	return &ledger.WrongExpectedVersionError{
		StreamID: id,
		Expected: expected,
		Actual:   actual,
		Exists:   exists,
	}
}
