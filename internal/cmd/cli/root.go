// Package cli contains the cobra commands of the ledger tool. Every command
// opens the bolt file named by --db for its own duration, so commands run
// one at a time against a given file
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/bolt"
)

type eventJSON struct {
	RecordedAt time.Time             `json:"recorded_at"`
	Stream     ledger.StreamID       `json:"stream"`
	Name       string                `json:"name"`
	ID         string                `json:"id"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	Text       string                `json:"payload_text,omitempty"`
	Metadata   json.RawMessage       `json:"metadata,omitempty"`
	Version    ledger.StreamVersion  `json:"version"`
	Position   ledger.GlobalPosition `json:"position"`
}

const (
	// DBEnv overrides the default database path
	DBEnv = "LEDGER_DB"

	DefaultDB          = "ledger.db"
	DefaultOpenTimeout = bolt.DefaultTimeout
)

// NewRoot constructs the root command and registers every subcommand
func NewRoot(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Inspect and feed a bolt-backed event ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", defaultDB(), "Database file")
	root.PersistentFlags().Duration("open-timeout", DefaultOpenTimeout,
		"How long to wait for the database file lock",
	)
	root.AddCommand(
		newAppendCommand(logger),
		newReadCommand(logger),
		newHeadCommand(logger),
		newTailCommand(logger),
		newCheckpointsCommand(logger),
	)
	return root
}

func defaultDB() string {
	if path := os.Getenv(DBEnv); path != "" {
		return path
	}
	return DefaultDB
}

// withStore opens the database for the duration of fn
func withStore(
	cmd *cobra.Command, logger *zap.Logger, fn func(*bolt.Store) error,
) error {
	path, _ := cmd.Flags().GetString("db")
	timeout, _ := cmd.Flags().GetDuration("open-timeout")

	cfg := bolt.DefaultConfig()
	cfg.Path = path
	cfg.Timeout = timeout
	cfg.Logger = logger
	s, err := bolt.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}()
	return fn(s)
}

// writeEvent prints one event as a JSON line. Payloads that are not valid
// JSON are printed as text
func writeEvent(w io.Writer, env *ledger.ReadEnvelope) error {
	out := eventJSON{
		RecordedAt: env.RecordedAt,
		Stream:     env.StreamID,
		Name:       env.Name,
		ID:         env.ID.String(),
		Version:    env.Version,
		Position:   env.Position,
	}
	if json.Valid(env.Payload) {
		out.Payload = env.Payload
	} else {
		out.Text = string(env.Payload)
	}
	if env.HasMetadata() && json.Valid(env.Metadata) {
		out.Metadata = env.Metadata
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode event at %d: %w", env.Position, err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
