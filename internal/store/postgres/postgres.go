// Package postgres backs the persistence adapter with two tables: kv holds
// JSON documents, kv_index holds the sorted per-user indexes. Apply runs the
// whole batch in one sql.Tx, so the balance write and the ledger append
// commit or roll back together.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stellune/credits-service/internal/infrastructure/observability"
	"github.com/stellune/credits-service/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k          TEXT PRIMARY KEY,
	v          JSONB NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS kv_index (
	idx        TEXT NOT NULL,
	member     TEXT NOT NULL,
	score      BIGINT NOT NULL,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (idx, member)
);
CREATE INDEX IF NOT EXISTS kv_index_score ON kv_index (idx, score DESC);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the kv tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate kv schema: %w", err)
	}
	return nil
}

func (s *Store) observe(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.StoreCalls.WithLabelValues(method, status).Inc()
	observability.StoreDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (s *Store) Get(ctx context.Context, key string, dest any) error {
	var err error
	tracer := otel.Tracer("postgres-store")
	ctx, span := tracer.Start(ctx, "Get")
	span.SetAttributes(attribute.String("key", key))
	defer span.End()

	start := time.Now()
	defer func() {
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.observe("Get", start, err)
	}()

	var raw []byte
	query := `SELECT v FROM kv WHERE k = $1 AND (expires_at IS NULL OR expires_at > now())`
	err = s.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = store.ErrNotFound
		return err
	}
	if err != nil {
		slog.Error("failed to get key", "method", "Get", "key", key, "error", err)
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return unmarshalValue(key, raw, dest)
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.SetTTL(ctx, key, value, 0)
}

func (s *Store) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	var err error
	start := time.Now()
	defer func() { s.observe("Set", start, err) }()

	err = execSet(ctx, s.db, key, value, ttl)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var err error
	start := time.Now()
	defer func() { s.observe("Delete", start, err) }()

	if _, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = $1`, key); err != nil {
		slog.Error("failed to delete key", "method", "Delete", "key", key, "error", err)
		err = fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return err
}

func (s *Store) IndexAdd(ctx context.Context, index, member string, score int64) error {
	var err error
	start := time.Now()
	defer func() { s.observe("IndexAdd", start, err) }()

	err = execIndexAdd(ctx, s.db, index, member, score)
	return err
}

func (s *Store) IndexRemove(ctx context.Context, index, member string) error {
	var err error
	start := time.Now()
	defer func() { s.observe("IndexRemove", start, err) }()

	query := `DELETE FROM kv_index WHERE idx = $1 AND member = $2`
	if _, err = s.db.ExecContext(ctx, query, index, member); err != nil {
		err = fmt.Errorf("failed to remove from index %s: %w", index, err)
	}
	return err
}

func (s *Store) IndexRange(ctx context.Context, index string, limit int) ([]string, error) {
	var err error
	tracer := otel.Tracer("postgres-store")
	ctx, span := tracer.Start(ctx, "IndexRange")
	span.SetAttributes(attribute.String("index", index), attribute.Int("limit", limit))
	defer span.End()

	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.observe("IndexRange", start, err)
	}()

	query := `
		SELECT member FROM kv_index
		WHERE idx = $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY score DESC
		LIMIT $2`
	var lim any = limit
	if limit <= 0 {
		lim = nil // LIMIT NULL, no bound
	}
	rows, err := s.db.QueryContext(ctx, query, index, lim)
	if err != nil {
		slog.Error("failed to range index", "method", "IndexRange", "index", index, "error", err)
		return nil, fmt.Errorf("failed to range index %s: %w", index, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err = rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan index member: %w", err)
		}
		members = append(members, m)
	}
	err = rows.Err()
	return members, err
}

func (s *Store) IndexTrim(ctx context.Context, index string, keep int) error {
	var err error
	start := time.Now()
	defer func() { s.observe("IndexTrim", start, err) }()

	err = execIndexTrim(ctx, s.db, index, keep)
	return err
}

func (s *Store) IndexExpire(ctx context.Context, index string, ttl time.Duration) error {
	var err error
	start := time.Now()
	defer func() { s.observe("IndexExpire", start, err) }()

	query := `UPDATE kv_index SET expires_at = now() + make_interval(secs => $2) WHERE idx = $1`
	if _, err = s.db.ExecContext(ctx, query, index, ttl.Seconds()); err != nil {
		err = fmt.Errorf("failed to expire index %s: %w", index, err)
	}
	return err
}

func (s *Store) Apply(ctx context.Context, b *store.Batch) error {
	var err error
	tracer := otel.Tracer("postgres-store")
	ctx, span := tracer.Start(ctx, "Apply")
	span.SetAttributes(attribute.Int("ops", len(b.Ops)))
	defer span.End()

	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.observe("Apply", start, err)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin batch", "method", "Apply", "error", err)
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	for _, op := range b.Ops {
		switch op.Kind {
		case store.OpSet, store.OpSetTTL:
			err = execSet(ctx, tx, op.Key, op.Value, op.TTL)
		case store.OpDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE k = $1`, op.Key)
		case store.OpIndexAdd:
			err = execIndexAdd(ctx, tx, op.Index, op.Member, op.Score)
		case store.OpIndexRemove:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv_index WHERE idx = $1 AND member = $2`, op.Index, op.Member)
		case store.OpIndexTrim:
			err = execIndexTrim(ctx, tx, op.Index, op.Keep)
		case store.OpIndexExpire:
			_, err = tx.ExecContext(ctx, `UPDATE kv_index SET expires_at = now() + make_interval(secs => $2) WHERE idx = $1`, op.Index, op.TTL.Seconds())
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "method", "Apply", "error", rbErr)
			}
			return fmt.Errorf("batch op failed: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit batch", "method", "Apply", "error", err)
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func marshalValue(key string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	return raw, nil
}

func unmarshalValue(key string, raw []byte, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execSet(ctx context.Context, db execer, key string, value any, ttl time.Duration) error {
	raw, err := marshalValue(key, value)
	if err != nil {
		return err
	}
	var query string
	var args []any
	if ttl > 0 {
		query = `
			INSERT INTO kv (k, v, expires_at) VALUES ($1, $2, now() + make_interval(secs => $3))
			ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at`
		args = []any{key, raw, ttl.Seconds()}
	} else {
		query = `
			INSERT INTO kv (k, v, expires_at) VALUES ($1, $2, NULL)
			ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = NULL`
		args = []any{key, raw}
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("failed to set key", "method", "Set", "key", key, "error", err)
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func execIndexAdd(ctx context.Context, db execer, index, member string, score int64) error {
	query := `
		INSERT INTO kv_index (idx, member, score) VALUES ($1, $2, $3)
		ON CONFLICT (idx, member) DO UPDATE SET score = EXCLUDED.score`
	if _, err := db.ExecContext(ctx, query, index, member, score); err != nil {
		return fmt.Errorf("failed to add to index %s: %w", index, err)
	}
	return nil
}

func execIndexTrim(ctx context.Context, db execer, index string, keep int) error {
	if keep < 0 {
		return nil
	}
	query := `
		DELETE FROM kv_index
		WHERE idx = $1 AND member NOT IN (
			SELECT member FROM kv_index WHERE idx = $1 ORDER BY score DESC LIMIT $2
		)`
	if _, err := db.ExecContext(ctx, query, index, keep); err != nil {
		return fmt.Errorf("failed to trim index %s: %w", index, err)
	}
	return nil
}
