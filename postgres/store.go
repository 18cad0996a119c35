// Package postgres provides a ledger Backend and CheckpointStore on
// PostgreSQL. Appends are serialized with a transaction-scoped advisory
// lock, so global positions become visible in commit order. Live feeds are
// woken by LISTEN/NOTIFY and poll as a fallback
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
)

type (
	// Store is a PostgreSQL-backed ledger Backend
	Store struct {
		pool         *pgxpool.Pool
		logger       *zap.Logger
		now          func() time.Time
		q            queries
		channel      string
		lockID       int64
		pageSize     int
		pollInterval time.Duration
	}

	// Config configures a Store
	Config struct {
		Logger           *zap.Logger
		Clock            func() time.Time
		DSN              string
		EventsTable      string
		CheckpointsTable string
		Channel          string
		LockID           int64
		PageSize         int
		PollInterval     time.Duration
	}

	rowScanner interface {
		Scan(dest ...any) error
	}
)

const (
	DefaultEventsTable      = "ledger_events"
	DefaultCheckpointsTable = "ledger_checkpoints"
	DefaultChannel          = "ledger_events"
	DefaultLockID           = 0x6c6564676572
	DefaultPageSize         = 512

	ConnectTimeout = 5 * time.Second

	uniqueViolation = "23505"
)

var _ ledger.Backend = (*Store)(nil)

func DefaultConfig() Config {
	return Config{
		Logger:           zap.NewNop(),
		Clock:            time.Now,
		EventsTable:      DefaultEventsTable,
		CheckpointsTable: DefaultCheckpointsTable,
		Channel:          DefaultChannel,
		LockID:           DefaultLockID,
		PageSize:         DefaultPageSize,
		PollInterval:     ledger.DefaultPollInterval,
	}
}

// NewStore opens a connection pool and verifies it
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return NewStoreWithPool(pool, cfg), nil
}

// NewStoreWithPool wraps an existing pool. Closing the Store closes it
func NewStoreWithPool(pool *pgxpool.Pool, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.EventsTable == "" {
		cfg.EventsTable = def.EventsTable
	}
	if cfg.CheckpointsTable == "" {
		cfg.CheckpointsTable = def.CheckpointsTable
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.LockID == 0 {
		cfg.LockID = def.LockID
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Store{
		pool:         pool,
		logger:       cfg.Logger.With(zap.String("backend", "postgres")),
		now:          cfg.Clock,
		q:            makeQueries(cfg.EventsTable, cfg.CheckpointsTable),
		channel:      cfg.Channel,
		lockID:       cfg.LockID,
		pageSize:     cfg.PageSize,
		pollInterval: cfg.PollInterval,
	}
}

// Pool returns the underlying connection pool
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	s.pool.Close()
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockID)
	if err != nil {
		return nil, fmt.Errorf("lock log: %w", err)
	}

	var cur *int64
	err = tx.QueryRow(ctx, s.q.currentVersion, string(id)).Scan(&cur)
	if err != nil {
		return nil, fmt.Errorf("read version of %s: %w", id, err)
	}
	current, exists := ledger.Zero, cur != nil
	if exists {
		current = ledger.StreamVersion(*cur)
	}
	err = ledger.CheckExpected(id, expected, current, exists)
	if err != nil {
		return nil, err
	}

	next := ledger.Zero
	if exists {
		next = current.Next()
	}
	at := s.now().UTC()
	batch := &pgx.Batch{}
	for i, ev := range evs {
		batch.Queue(s.q.insertEvent,
			string(id), int64(next)+int64(i), ev.ID, ev.Name,
			payloadOf(ev.Payload), ev.Metadata, at,
		)
	}

	res := &ledger.AppendResult{
		StreamID:     id,
		FirstVersion: next,
		LastVersion:  next + ledger.StreamVersion(len(evs)-1),
	}
	br := tx.SendBatch(ctx, batch)
	for i := range evs {
		var pos int64
		if err := br.QueryRow().Scan(&pos); err != nil {
			_ = br.Close()
			if isUniqueViolation(err) {
				_ = tx.Rollback(ctx)
				return nil, s.conflict(ctx, id, expected)
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}
		if i == 0 {
			res.FirstPosition = ledger.GlobalPosition(pos)
		}
		res.LastPosition = ledger.GlobalPosition(pos)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
	}

	_, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)",
		s.channel, strconv.FormatUint(uint64(res.LastPosition), 10),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	s.logger.Debug("events appended",
		id.Field(), res.LastVersion.Field(), res.LastPosition.Field(),
		zap.Int("events", len(evs)),
	)
	return res, nil
}

// conflict reports a version collision raised by the unique index, which
// only a writer bypassing the advisory lock can cause. The stream's current
// version is read outside the aborted transaction
func (s *Store) conflict(
	ctx context.Context, id ledger.StreamID, expected ledger.ExpectedVersion,
) error {
	res := &ledger.WrongExpectedVersionError{
		StreamID: id,
		Expected: expected,
	}
	var cur *int64
	err := s.pool.QueryRow(ctx, s.q.currentVersion, string(id)).Scan(&cur)
	if err != nil {
		s.logger.Warn("read version after conflict", id.Field(), zap.Error(err))
		return res
	}
	if cur != nil {
		res.Actual, res.Exists = ledger.StreamVersion(*cur), true
	}
	return res
}

func (s *Store) ReadStream(
	ctx context.Context, id ledger.StreamID, opts ledger.ReadOptions,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		var cur *int64
		err := s.pool.QueryRow(ctx, s.q.currentVersion, string(id)).Scan(&cur)
		if err != nil {
			yield(nil, fmt.Errorf("read version of %s: %w", id, err))
			return
		}
		if cur == nil {
			yield(nil, ledger.ErrStreamNotFound)
			return
		}

		versions := opts.Select(ledger.StreamVersion(*cur))
		if len(versions) == 0 {
			return
		}
		lo, hi := versions[0], versions[len(versions)-1]
		query := s.q.readStream
		if opts.Direction == ledger.Backward {
			lo, hi = hi, lo
			query = s.q.readStreamDesc
		}
		envs, err := s.query(ctx, query, string(id), int64(lo), int64(hi))
		if err != nil {
			yield(nil, fmt.Errorf("read %s: %w", id, err))
			return
		}
		for _, env := range envs {
			if !yield(env, nil) {
				return
			}
		}
	}
}

func (s *Store) Head(ctx context.Context) (ledger.GlobalPosition, bool, error) {
	var head *int64
	if err := s.pool.QueryRow(ctx, s.q.head).Scan(&head); err != nil {
		return 0, false, fmt.Errorf("read head: %w", err)
	}
	if head == nil {
		return 0, false, nil
	}
	return ledger.GlobalPosition(*head), true, nil
}

func (s *Store) ReadLog(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		from := int64(0)
		if hasAfter {
			from = int64(after)
		}
		for {
			page, err := s.query(ctx, s.q.readLog, from, s.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("read log: %w", err))
				return
			}
			for _, env := range page {
				if !yield(env, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			from = int64(page[len(page)-1].Position)
		}
	}
}

// Live holds one pooled connection for LISTEN while the feed runs
func (s *Store) Live(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("acquire listener: %w", err))
			return
		}
		listen := "LISTEN " + pgx.Identifier{s.channel}.Sanitize()
		if _, err := conn.Exec(ctx, listen); err != nil {
			conn.Release()
			yield(nil, fmt.Errorf("listen: %w", err))
			return
		}

		lctx, cancel := context.WithCancel(ctx)
		sig := ledger.NewSignal()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, err := conn.Conn().WaitForNotification(lctx)
				if err != nil {
					return
				}
				sig.Notify()
			}
		}()
		defer func() {
			cancel()
			<-done
			conn.Release()
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

func (s *Store) query(
	ctx context.Context, query string, args ...any,
) ([]*ledger.ReadEnvelope, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*ledger.ReadEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func scanEnvelope(row rowScanner) (*ledger.ReadEnvelope, error) {
	var (
		pos, ver int64
		stream   string
		id       uuid.UUID
		env      ledger.ReadEnvelope
	)
	err := row.Scan(
		&pos, &stream, &ver, &id, &env.Name,
		&env.Payload, &env.Metadata, &env.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	env.Position = ledger.GlobalPosition(pos)
	env.Version = ledger.StreamVersion(ver)
	env.StreamID = ledger.StreamID(stream)
	env.ID = id
	env.RecordedAt = env.RecordedAt.UTC()
	return &env, nil
}

// payloadOf keeps a nil payload out of the NOT NULL column
func payloadOf(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
