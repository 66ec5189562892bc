package inventory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "mediashuffler/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (or creates) the sqlite-backed store at cfg.Path and applies
// migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, media_type, status, added_at, sent_at FROM media WHERE key = ?`, key)
	return scanRecord(row)
}

func (s *sqliteStore) UpsertIfAbsent(ctx context.Context, key string, mt MediaType) (Record, bool, error) {
	if strings.TrimSpace(key) == "" {
		return Record{}, false, errors.New("empty key")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO media(key, media_type, status, added_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO NOTHING`,
		key, string(mt), string(StatusUnsent), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Record{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, err
	}
	rec, err := s.Get(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return rec, n > 0, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, key string, at time.Time) (Record, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET status = ?, sent_at = ? WHERE key = ? AND status = ?`,
		string(StatusSent), at.UTC().Format(time.RFC3339Nano), key, string(StatusUnsent),
	)
	if err != nil {
		return Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		// Distinguish "no such record" from "lost the race".
		rec, err := s.Get(ctx, key)
		if err != nil {
			return Record{}, err
		}
		if rec.Status == StatusSent {
			return rec, ErrAlreadySent
		}
		return rec, fmt.Errorf("mark sent %q: no transition", key)
	}
	return s.Get(ctx, key)
}

func (s *sqliteStore) ListUnsent(ctx context.Context, types ...MediaType) ([]Record, error) {
	q := `SELECT key, media_type, status, added_at, sent_at FROM media WHERE status = ?`
	args := []any{string(StatusUnsent)}
	if len(types) > 0 {
		q += ` AND media_type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += ` ORDER BY key`
	return s.list(ctx, q, args...)
}

func (s *sqliteStore) ListSent(ctx context.Context) ([]Record, error) {
	return s.list(ctx,
		`SELECT key, media_type, status, added_at, sent_at FROM media WHERE status = ? ORDER BY key`,
		string(StatusSent))
}

func (s *sqliteStore) list(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context, st Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media WHERE status = ?`, string(st)).Scan(&n)
	return n, err
}

func (s *sqliteStore) AlignStatus(ctx context.Context, key string, st Status, sentAt *time.Time) error {
	var sa any
	if sentAt != nil {
		sa = sentAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET status = ?, sent_at = ? WHERE key = ?`,
		string(st), sa, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendDispatch(ctx context.Context, e DispatchEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_audit(id, at, key, source, outcome, err, took_ms)
		 VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(time.RFC3339Nano), nullStr(e.Key), e.Trigger, e.Outcome,
		nullStr(e.Error), e.TookMS,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var rec Record
	var mt, st, added string
	var sent sql.NullString
	if err := r.Scan(&rec.Key, &mt, &st, &added, &sent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Type = MediaType(mt)
	rec.Status = Status(st)
	if t, err := time.Parse(time.RFC3339Nano, added); err == nil {
		rec.AddedAt = t
	}
	if sent.Valid {
		if t, err := time.Parse(time.RFC3339Nano, sent.String); err == nil {
			rec.SentAt = &t
		}
	}
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
