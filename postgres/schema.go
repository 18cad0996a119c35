package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// queries holds the statements for one pair of table names
type queries struct {
	createEvents      string
	createCheckpoints string
	currentVersion    string
	insertEvent       string
	readStream        string
	readStreamDesc    string
	readLog           string
	head              string
	loadCheckpoint    string
	saveCheckpoint    string
	listCheckpoints   string
}

func makeQueries(events, checkpoints string) queries {
	ev := pgx.Identifier{events}.Sanitize()
	cp := pgx.Identifier{checkpoints}.Sanitize()
	idx := pgx.Identifier{events + "_stream_version"}.Sanitize()
	cols := `position, stream_id, version, event_id, name,
		payload, metadata, recorded_at`

	return queries{
		createEvents: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				position    BIGSERIAL PRIMARY KEY,
				stream_id   TEXT NOT NULL,
				version     BIGINT NOT NULL,
				event_id    UUID NOT NULL,
				name        TEXT NOT NULL,
				payload     BYTEA NOT NULL,
				metadata    BYTEA,
				recorded_at TIMESTAMPTZ NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (stream_id, version);
		`, ev, idx, ev),

		createCheckpoints: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name       TEXT PRIMARY KEY,
				position   BIGINT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, cp),

		currentVersion: fmt.Sprintf(`
			SELECT MAX(version) FROM %s WHERE stream_id = $1
		`, ev),

		insertEvent: fmt.Sprintf(`
			INSERT INTO %s (
				stream_id, version, event_id, name,
				payload, metadata, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING position
		`, ev),

		readStream: fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE stream_id = $1 AND version BETWEEN $2 AND $3
			ORDER BY version ASC
		`, cols, ev),

		readStreamDesc: fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE stream_id = $1 AND version BETWEEN $2 AND $3
			ORDER BY version DESC
		`, cols, ev),

		readLog: fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE position > $1
			ORDER BY position ASC
			LIMIT $2
		`, cols, ev),

		head: fmt.Sprintf(`SELECT MAX(position) FROM %s`, ev),

		loadCheckpoint: fmt.Sprintf(`
			SELECT position FROM %s WHERE name = $1
		`, cp),

		saveCheckpoint: fmt.Sprintf(`
			INSERT INTO %s (name, position, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (name)
			DO UPDATE SET position = EXCLUDED.position, updated_at = NOW()
		`, cp),

		listCheckpoints: fmt.Sprintf(`
			SELECT name, position FROM %s ORDER BY name
		`, cp),
	}
}

// Migrate creates the events and checkpoints tables if they are missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.q.createEvents); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, s.q.createCheckpoints); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}
