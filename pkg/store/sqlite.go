package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dubstudio/pkg/db"
	"dubstudio/pkg/model"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	CacheStore
	JobStore
	StateStore

	Close() error
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteTime = "2006-01-02 15:04:05"

func now() string {
	return time.Now().UTC().Format(sqliteTime)
}

// --- Cache ---

// GetCache returns a clip; gzip blobs are decompressed transparently.
func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Debug("Cache read failed", "key", key, "error", err)
		return nil, false
	}

	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		decompressed, err := decompress(val)
		if err != nil {
			slog.Warn("Corrupt cache entry dropped", "key", key, "error", err)
			return nil, false
		}
		return decompressed, true
	}
	return val, true
}

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetCache stores a clip gzip-compressed. Keys look like "engine:hash"; the
// engine prefix is kept in its own column for pruning and stats.
func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	compressed, err := compress(val)
	if err == nil {
		val = compressed
	}
	engine, _, _ := strings.Cut(key, ":")

	query := `INSERT OR REPLACE INTO cache (key, value, engine, created_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, key, val, engine, now())
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// SaveJob inserts or replaces a job record.
func (s *SQLiteStore) SaveJob(ctx context.Context, j *model.Job) error {
	report, err := marshalNullable(j.Report, j.Report == nil)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	diag, err := marshalNullable(j.Diagnostics, j.Diagnostics == nil)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostics: %w", err)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := j.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `INSERT OR REPLACE INTO jobs
		(id, state, engine, language, mode, segments, output_path, error, error_kind, report, diagnostics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		j.ID, string(j.State), j.Engine, j.Language, j.Mode, j.Segments, j.OutputPath, j.Error, j.ErrorKind,
		report, diag, created.UTC().Format(sqliteTime), updated.UTC().Format(sqliteTime))
	return err
}

const jobColumns = `id, state, engine, language, mode, segments, output_path, error, error_kind, report, diagnostics, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	var (
		j                                               model.Job
		state                                           string
		engine, language, mode, output, errMsg, errKind sql.NullString
		report, diag                                    sql.NullString
		segments                                        sql.NullInt64
		created, updated                                sql.NullString
	)
	if err := r.Scan(&j.ID, &state, &engine, &language, &mode, &segments, &output, &errMsg, &errKind,
		&report, &diag, &created, &updated); err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.Engine = engine.String
	j.Language = language.String
	j.Mode = mode.String
	j.Segments = int(segments.Int64)
	j.OutputPath = output.String
	j.Error = errMsg.String
	j.ErrorKind = errKind.String
	j.CreatedAt = parseTime(created.String)
	j.UpdatedAt = parseTime(updated.String)

	if report.Valid {
		j.Report = &model.AlignmentReport{}
		if err := json.Unmarshal([]byte(report.String), j.Report); err != nil {
			return nil, fmt.Errorf("job %s: bad report: %w", j.ID, err)
		}
	}
	if diag.Valid {
		j.Diagnostics = &model.Diagnostics{}
		if err := json.Unmarshal([]byte(diag.String), j.Diagnostics); err != nil {
			return nil, fmt.Errorf("job %s: bad diagnostics: %w", j.ID, err)
		}
	}
	return &j, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{sqliteTime, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// GetJob returns ErrNotFound for unknown ids.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns the most recent jobs first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, error = ?, error_kind = ?, updated_at = ? WHERE state IN (?, ?)",
		string(model.JobFailed), reason, model.KindRenderFailure.String(), now(),
		string(model.JobQueued), string(model.JobRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
