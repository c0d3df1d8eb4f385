package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
	_ "modernc.org/sqlite"
)

const (
	HistoryLimit = 100
	VocabLimit   = 300

	keyStreak          = "langbridge-study-streak-v1"
	keyDailyExpression = "langbridge-daily-expression-v1"
)

var (
	ErrEmptyTerm = errors.New("store: vocabulary term is empty")
	ErrNotFound  = errors.New("store: not found")
)

// HistoryItem is one recorded analysis.
type HistoryItem struct {
	ID        int64
	Text      string
	Mode      script.Mode
	Result    *protocol.Analysis
	CreatedAt time.Time
}

type VocabItem struct {
	ID        string
	Term      string
	Meaning   string
	ExampleEn string
	ExampleKo string
	CreatedAt time.Time
}

// Streak counts consecutive local calendar days with study activity.
type Streak struct {
	Streak        int    `json:"streak"`
	LastStudyDate string `json:"lastStudyDate"`
}

// Store keeps the study state in SQLite. Ephemeral mode uses an in-memory
// database that disappears with the process.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to the client config.
func Open(ctx context.Context, cfg config.ClientConfig, log *slog.Logger) (*Store, error) {
	var dsn string
	if cfg.RetentionMode == "ephemeral" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		dir := filepath.Dir(cfg.StorePath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.StorePath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the in-memory database shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "store")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    text TEXT NOT NULL,
    mode TEXT NOT NULL,
    result TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS vocab (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    term TEXT NOT NULL,
    term_key TEXT NOT NULL UNIQUE,
    meaning TEXT,
    example_en TEXT,
    example_ko TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(fn func() time.Time) {
	if fn != nil {
		s.clock = fn
	}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddHistory records an analysis as the newest entry and keeps only the
// most recent HistoryLimit entries.
func (s *Store) AddHistory(ctx context.Context, item HistoryItem) (HistoryItem, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.clock()
	}
	result, err := json.Marshal(item.Result)
	if err != nil {
		return item, fmt.Errorf("encode history result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return item, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO history(text, mode, result, created_at) VALUES(?, ?, ?, ?)`,
		item.Text, string(item.Mode), string(result), item.CreatedAt.UTC())
	if err != nil {
		return item, fmt.Errorf("insert history: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return item, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		HistoryLimit); err != nil {
		return item, fmt.Errorf("trim history: %w", err)
	}
	return item, tx.Commit()
}

// History lists entries newest first.
func (s *Store) History(ctx context.Context) ([]HistoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, mode, result, created_at FROM history ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryItem
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) HistoryItem(ctx context.Context, id int64) (HistoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, mode, result, created_at FROM history WHERE id = ?`, id)
	item, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item, ErrNotFound
	}
	return item, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(sc scanner) (HistoryItem, error) {
	var (
		item   HistoryItem
		mode   string
		result sql.NullString
	)
	if err := sc.Scan(&item.ID, &item.Text, &mode, &result, &item.CreatedAt); err != nil {
		return item, err
	}
	item.Mode = script.ParseMode(mode)
	if result.Valid && result.String != "" && result.String != "null" {
		var a protocol.Analysis
		if err := json.Unmarshal([]byte(result.String), &a); err != nil {
			return item, fmt.Errorf("decode history result: %w", err)
		}
		item.Result = &a
	}
	return item, nil
}

func (s *Store) ClearHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}

// AddVocab saves a term as the newest entry. Terms are trimmed and
// de-duplicated case-insensitively; a duplicate leaves the list unchanged.
// The updated list is returned.
func (s *Store) AddVocab(ctx context.Context, item VocabItem) ([]VocabItem, error) {
	term := strings.TrimSpace(item.Term)
	if term == "" {
		return nil, ErrEmptyTerm
	}
	item.Term = term
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vocab(id, term, term_key, meaning, example_en, example_ko, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(term_key) DO NOTHING`,
		item.ID, item.Term, strings.ToLower(term), item.Meaning, item.ExampleEn, item.ExampleKo, item.CreatedAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert vocab: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vocab WHERE seq NOT IN (SELECT seq FROM vocab ORDER BY seq DESC LIMIT ?)`,
		VocabLimit); err != nil {
		return nil, fmt.Errorf("trim vocab: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Vocab(ctx)
}

// RemoveVocab deletes the entry with id and returns the remaining list.
func (s *Store) RemoveVocab(ctx context.Context, id string) ([]VocabItem, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vocab WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return s.Vocab(ctx)
}

func (s *Store) ClearVocab(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vocab`)
	return err
}

// Vocab lists saved terms newest first.
func (s *Store) Vocab(ctx context.Context) ([]VocabItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, term, meaning, example_en, example_ko, created_at FROM vocab ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VocabItem
	for rows.Next() {
		var (
			item                          VocabItem
			meaning, exampleEn, exampleKo sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Term, &meaning, &exampleEn, &exampleKo, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Meaning, item.ExampleEn, item.ExampleKo = meaning.String, exampleEn.String, exampleKo.String
		out = append(out, item)
	}
	return out, rows.Err()
}

// Streak returns the stored streak, or a zero streak when none is stored.
func (s *Store) Streak(ctx context.Context) (Streak, error) {
	var st Streak
	found, err := s.loadDocument(ctx, keyStreak, &st)
	if err != nil || !found {
		return Streak{}, err
	}
	if st.Streak < 0 {
		st.Streak = 0
	}
	return st, nil
}

// BumpStreak marks today as studied: same day leaves the streak alone, the
// day after the last study date extends it, and any gap restarts it at 1.
func (s *Store) BumpStreak(ctx context.Context) (Streak, error) {
	st, err := s.Streak(ctx)
	if err != nil {
		return st, err
	}
	now := s.clock()
	today := localDate(now)
	if st.LastStudyDate == today {
		return st, nil
	}
	yesterday := localDate(time.Date(now.Year(), now.Month(), now.Day()-1, 12, 0, 0, 0, now.Location()))
	next := Streak{Streak: 1, LastStudyDate: today}
	if st.LastStudyDate == yesterday {
		next.Streak = max(1, st.Streak+1)
	}
	if err := s.saveDocument(ctx, keyStreak, next); err != nil {
		return st, err
	}
	return next, nil
}

// DailyExpression returns the cached expression, or nil when none is stored
// or the stored value is incomplete.
func (s *Store) DailyExpression(ctx context.Context) (*protocol.DailyExpression, error) {
	var d protocol.DailyExpression
	found, err := s.loadDocument(ctx, keyDailyExpression, &d)
	if err != nil || !found {
		return nil, err
	}
	if d.Date == "" || d.Expression == "" {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) SaveDailyExpression(ctx context.Context, d *protocol.DailyExpression) error {
	if d == nil {
		return errors.New("store: nil daily expression")
	}
	return s.saveDocument(ctx, keyDailyExpression, d)
}

// IsFresh reports whether d was generated for today's (UTC) date.
func (s *Store) IsFresh(d *protocol.DailyExpression) bool {
	if d == nil {
		return false
	}
	return d.Date == s.clock().UTC().Format(time.DateOnly)
}

func (s *Store) loadDocument(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn("discarding unreadable document", slog.String("key", key), slog.String("error", err.Error()))
		return false, nil
	}
	return true, nil
}

func (s *Store) saveDocument(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(data), s.clock().UTC())
	return err
}

func localDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
