// Package flagstore persists the final red flags of every evaluated scan so
// later scans can escalate recurring patterns.
//
// SQLite is the default backend. Postgres is supported through lib/pq with
// the same schema and queries. A Redis read-through cache (Cache) can sit in
// front of either.
package flagstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so SQLite can compare timestamps as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultListLimit caps ListRecords when no limit is given.
const DefaultListLimit = 100

// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
var ErrUnknownDriver = errors.New("flagstore: unknown driver")

// ─── Types ───────────────────────────────────────────────────────────────────

// Record is one stored red flag.
type Record struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	ScanID      string        `json:"scan_id"`
	Type        string        `json:"type"`
	Category    string        `json:"category"`
	Signal      string        `json:"signal"`
	Severity    scan.Severity `json:"severity"`
	Evidence    []string      `json:"evidence"`
	IsEscalated bool          `json:"is_escalated"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Flag returns the record as a red flag.
func (r Record) Flag() scan.RedFlag {
	return scan.RedFlag{
		Type:        r.Type,
		Category:    r.Category,
		Signal:      r.Signal,
		Severity:    r.Severity,
		Evidence:    r.Evidence,
		IsEscalated: r.IsEscalated,
	}
}

// ListQuery selects records for inspection. Zero times leave that end of
// the range open.
type ListQuery struct {
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config selects and locates the backing database.
type Config struct {
	Driver  string
	DataDir string
	DSN     string
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQL-backed flag history. It implements both
// escalation.HistoryReader and escalation.HistoryWriter.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

var (
	_ escalation.HistoryReader = (*Store)(nil)
	_ escalation.HistoryWriter = (*Store)(nil)
)

// Open connects to the configured database and runs migrations.
// For sqlite it creates DataDir and opens flags.db inside it with WAL mode.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		db, err = openSQLite(ctx, cfg.DataDir)
	case DriverPostgres:
		db, err = openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := NewWithDB(db, cfg.Driver, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flagstore: migration: %w", err)
	}
	logger.Info("flag store ready", zap.String("driver", cfg.Driver))
	return s, nil
}

func openSQLite(ctx context.Context, dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("flagstore: create data dir: %w", err)
	}
	db, err := openDB(DriverSQLite, filepath.Join(dataDir, "flags.db"))
	if err != nil {
		return nil, fmt.Errorf("flagstore: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("flagstore: pragma %q: %w", p, err)
		}
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("flagstore: postgres requires a database url")
	}
	db, err := openDB(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("flagstore: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flagstore: ping database: %w", err)
	}
	return db, nil
}

// NewWithDB wraps an already open database. It does not migrate.
func NewWithDB(db *sql.DB, driver string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, driver: driver, logger: logger}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	id, ts, boolean := "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT", "INTEGER"
	if s.driver == DriverPostgres {
		id, ts, boolean = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "BOOLEAN"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS red_flags (
			id           ` + id + `,
			user_id      TEXT NOT NULL,
			scan_id      TEXT NOT NULL,
			flag_type    TEXT NOT NULL,
			category     TEXT NOT NULL,
			signal       TEXT NOT NULL,
			severity     TEXT NOT NULL,
			evidence     TEXT NOT NULL,
			is_escalated ` + boolean + ` NOT NULL,
			recorded_at  ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_red_flags_user_time ON red_flags(user_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_red_flags_scan ON red_flags(scan_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// RecordFlags replaces the stored flags of one scan. Re-recording the same
// scan never double counts it.
func (s *Store) RecordFlags(ctx context.Context, userID, scanID string, at time.Time, flags []scan.RedFlag) error {
	if userID == "" || scanID == "" {
		return fmt.Errorf("flagstore: user id and scan id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flagstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM red_flags WHERE user_id = ? AND scan_id = ?`), userID, scanID); err != nil {
		return fmt.Errorf("flagstore: clear scan %s: %w", scanID, err)
	}

	insert := s.rebind(`INSERT INTO red_flags
		(user_id, scan_id, flag_type, category, signal, severity, evidence, is_escalated, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, f := range flags {
		evidence, err := json.Marshal(nonNil(f.Evidence))
		if err != nil {
			return fmt.Errorf("flagstore: encode evidence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			userID, scanID, f.Type, f.Category, f.Signal, f.Severity.String(),
			string(evidence), f.IsEscalated, s.timeArg(at),
		); err != nil {
			return fmt.Errorf("flagstore: insert flag %s: %w", f.PatternKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flagstore: commit: %w", err)
	}
	s.logger.Debug("recorded red flags",
		zap.String("user_id", userID),
		zap.String("scan_id", scanID),
		zap.Int("count", len(flags)))
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// FlagsForUser returns the user's flags recorded in [q.Since(), q.AsOf],
// oldest first, excluding q.ExcludeScanID.
func (s *Store) FlagsForUser(ctx context.Context, q escalation.HistoryQuery) ([]scan.RedFlag, error) {
	records, err := s.query(ctx,
		`WHERE user_id = ? AND scan_id <> ? AND recorded_at >= ? AND recorded_at <= ?
		 ORDER BY recorded_at ASC, id ASC`,
		q.UserID, q.ExcludeScanID, s.timeArg(q.Since()), s.timeArg(q.AsOf))
	if err != nil {
		return nil, fmt.Errorf("flagstore: flags for user: %w", err)
	}
	return onePerScanPattern(records), nil
}

// onePerScanPattern keeps a single flag per pattern key within each scan,
// the most severe one, at the position the pattern first appeared.
func onePerScanPattern(records []Record) []scan.RedFlag {
	flags := make([]scan.RedFlag, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		f := r.Flag()
		key := r.ScanID + "|" + f.PatternKey()
		if i, ok := index[key]; ok {
			if f.Severity > flags[i].Severity {
				flags[i] = f
			}
			continue
		}
		index[key] = len(flags)
		flags = append(flags, f)
	}
	return flags
}

// ListRecords returns a user's stored flags, newest first.
func (s *Store) ListRecords(ctx context.Context, q ListQuery) ([]Record, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("flagstore: user id is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	where := []string{"user_id = ?"}
	args := []any{q.UserID}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, s.timeArg(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "recorded_at <= ?")
		args = append(args, s.timeArg(q.Until))
	}
	args = append(args, limit)

	records, err := s.query(ctx,
		"WHERE "+strings.Join(where, " AND ")+" ORDER BY recorded_at DESC, id DESC LIMIT ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("flagstore: list records: %w", err)
	}
	return records, nil
}

func (s *Store) query(ctx context.Context, clause string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, scan_id, flag_type, category, signal, severity, evidence, is_escalated, recorded_at
		 FROM red_flags `+clause), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := []Record{}
	for rows.Next() {
		var (
			r        Record
			severity string
			evidence string
			at       dbTime
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ScanID, &r.Type, &r.Category, &r.Signal,
			&severity, &evidence, &r.IsEscalated, &at); err != nil {
			return nil, err
		}
		if r.Severity, err = scan.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
			return nil, fmt.Errorf("record %d: decode evidence: %w", r.ID, err)
		}
		r.RecordedAt = at.Time
		records = append(records, r)
	}
	return records, rows.Err()
}

// ─── Dialect helpers ─────────────────────────────────────────────────────────

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg returns t in the column representation of the driver.
func (s *Store) timeArg(t time.Time) any {
	if s.driver == DriverPostgres {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

// dbTime scans both TEXT and TIMESTAMPTZ columns.
type dbTime struct{ time.Time }

func (d *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		d.Time = x.UTC()
	case string:
		return d.parse(x)
	case []byte:
		return d.parse(string(x))
	case nil:
		d.Time = time.Time{}
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
