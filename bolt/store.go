// Package bolt provides a ledger Backend and CheckpointStore in a single
// embedded bbolt file. The file is locked to one process, so live feeds are
// woken in-process on every commit
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/internal/record"
)

type (
	// Store is a bbolt-backed ledger Backend
	Store struct {
		db           *bolt.DB
		logger       *zap.Logger
		now          func() time.Time
		signal       *ledger.Signal
		pageSize     int
		pollInterval time.Duration
	}

	// Config configures a Store
	Config struct {
		Logger *zap.Logger
		Clock  func() time.Time
		Path   string

		// Timeout bounds how long Open waits for the file lock
		Timeout  time.Duration
		PageSize int

		// PollInterval re-reads the log periodically. Commits already wake
		// live feeds, so zero is the default
		PollInterval time.Duration
	}
)

const (
	DefaultPath     = "ledger.db"
	DefaultTimeout  = time.Second
	DefaultPageSize = 512
)

var (
	bucketLog         = []byte("log")
	bucketStreams     = []byte("streams")
	bucketCheckpoints = []byte("checkpoints")
)

// ErrCorruptEntry is returned when a stored value cannot be decoded
var ErrCorruptEntry = errors.New("corrupt bolt entry")

var _ ledger.Backend = (*Store)(nil)

func DefaultConfig() Config {
	return Config{
		Logger:   zap.NewNop(),
		Clock:    time.Now,
		Path:     DefaultPath,
		Timeout:  DefaultTimeout,
		PageSize: DefaultPageSize,
	}
}

// Open opens or creates the database file and its buckets
func Open(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketLog, bucketStreams, bucketCheckpoints,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{
		db:           db,
		logger:       cfg.Logger.With(zap.String("backend", "bolt")),
		now:          cfg.Clock,
		signal:       ledger.NewSignal(),
		pageSize:     cfg.PageSize,
		pollInterval: cfg.PollInterval,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	var res *ledger.AppendResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		streams := tx.Bucket(bucketStreams)
		log := tx.Bucket(bucketLog)

		current, exists := ledger.Zero, false
		stream := streams.Bucket([]byte(id))
		if stream != nil {
			if k, _ := stream.Cursor().Last(); k != nil {
				current, exists = ledger.StreamVersion(decodeKey(k)), true
			}
		}
		err := ledger.CheckExpected(id, expected, current, exists)
		if err != nil {
			return err
		}
		if stream == nil {
			stream, err = streams.CreateBucket([]byte(id))
			if err != nil {
				return err
			}
		}

		next := ledger.Zero
		if exists {
			next = current.Next()
		}
		res = &ledger.AppendResult{StreamID: id, FirstVersion: next}
		for i, ev := range evs {
			ver := next + ledger.StreamVersion(i)
			seq, err := log.NextSequence()
			if err != nil {
				return err
			}
			pos := ledger.GlobalPosition(seq)
			data, err := record.Encode(id, ev, at)
			if err != nil {
				return err
			}
			err = log.Put(encodeKey(uint64(pos)), logValue(ver, data))
			if err != nil {
				return err
			}
			err = stream.Put(encodeKey(uint64(ver)), encodeKey(uint64(pos)))
			if err != nil {
				return err
			}
			if i == 0 {
				res.FirstPosition = pos
			}
			res.LastVersion, res.LastPosition = ver, pos
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.signal.Notify()
	s.logger.Debug("events appended",
		id.Field(), res.LastVersion.Field(), res.LastPosition.Field(),
		zap.Int("events", len(evs)),
	)
	return res, nil
}

func (s *Store) ReadStream(
	ctx context.Context, id ledger.StreamID, opts ledger.ReadOptions,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		var envs []*ledger.ReadEnvelope
		err := s.db.View(func(tx *bolt.Tx) error {
			stream := tx.Bucket(bucketStreams).Bucket([]byte(id))
			if stream == nil {
				return ledger.ErrStreamNotFound
			}
			k, _ := stream.Cursor().Last()
			if k == nil {
				return ledger.ErrStreamNotFound
			}
			log := tx.Bucket(bucketLog)
			last := ledger.StreamVersion(decodeKey(k))
			for _, ver := range opts.Select(last) {
				pk := stream.Get(encodeKey(uint64(ver)))
				if pk == nil {
					return fmt.Errorf("%w: %s version %d",
						ErrCorruptEntry, id, ver)
				}
				env, err := decodeLog(pk, log.Get(pk))
				if err != nil {
					return err
				}
				envs = append(envs, env)
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, env := range envs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

func (s *Store) Head(ctx context.Context) (ledger.GlobalPosition, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var head ledger.GlobalPosition
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(bucketLog).Cursor().Last(); k != nil {
			head, ok = ledger.GlobalPosition(decodeKey(k)), true
		}
		return nil
	})
	return head, ok, err
}

// ReadLog reads the log in pages, each in its own read transaction, so a
// slow consumer never pins an old transaction
func (s *Store) ReadLog(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return func(yield func(*ledger.ReadEnvelope, error) bool) {
		start := uint64(1)
		if hasAfter {
			start = uint64(after) + 1
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := s.readPage(start)
			if err != nil {
				yield(nil, err)
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
			start = uint64(page[len(page)-1].Position) + 1
		}
	}
}

func (s *Store) Live(
	ctx context.Context, after ledger.GlobalPosition, hasAfter bool,
) iter.Seq2[*ledger.ReadEnvelope, error] {
	return ledger.Tail(ctx, s, after, hasAfter, ledger.TailConfig{
		Wake:         s.signal.Wait,
		PollInterval: s.pollInterval,
	})
}

func (s *Store) readPage(start uint64) ([]*ledger.ReadEnvelope, error) {
	page := make([]*ledger.ReadEnvelope, 0, s.pageSize)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Seek(encodeKey(start)); k != nil; k, v = c.Next() {
			env, err := decodeLog(k, v)
			if err != nil {
				return err
			}
			page = append(page, env)
			if len(page) == s.pageSize {
				break
			}
		}
		return nil
	})
	return page, err
}

func encodeKey(n uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), n)
}

func decodeKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

// logValue prefixes the encoded record with its stream version
func logValue(ver ledger.StreamVersion, data []byte) []byte {
	return append(encodeKey(uint64(ver)), data...)
}

func decodeLog(k, v []byte) (*ledger.ReadEnvelope, error) {
	if len(k) != 8 || len(v) < 8 {
		return nil, ErrCorruptEntry
	}
	pos := ledger.GlobalPosition(decodeKey(k))
	ver := ledger.StreamVersion(decodeKey(v[:8]))
	return record.Decode(v[8:], ver, pos)
}
