package flagstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DigitalExpart/MatchIQ-sub000/internal/config"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/escalation"
	"github.com/DigitalExpart/MatchIQ-sub000/internal/scan"
)

var asOf = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func controlling(sev scan.Severity) scan.RedFlag {
	return scan.RedFlag{
		Type:     "controlling_behavior",
		Category: "trust_safety",
		Signal:   "Controlling behavior",
		Severity: sev,
		Evidence: []string{"q1"},
	}
}

// newTestStore opens a SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DataDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func daysBefore(n int) time.Time { return asOf.AddDate(0, 0, -n) }

// ─── SQLite ──────────────────────────────────────────────────────────────────

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Config{Driver: DriverPostgres}, nil)
	assert.ErrorContains(t, err, "requires a database url")
}

func TestOpen_InjectedOpenFailure(t *testing.T) {
	orig := openDB
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { openDB = orig })

	_, err := Open(context.Background(), Config{DataDir: t.TempDir()}, nil)
	assert.ErrorContains(t, err, "open database: boom")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(ctx, Config{DataDir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.RecordFlags(ctx, "u1", "s1", daysBefore(1), []scan.RedFlag{controlling(scan.SeverityHigh)}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, Config{DataDir: dir}, nil)
	require.NoError(t, err)
	defer s2.Close()

	flags, err := s2.FlagsForUser(ctx, escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90})
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestFlagsForUser_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordFlags(ctx, "u1", "old", daysBefore(120), []scan.RedFlag{controlling(scan.SeverityCritical)}))
	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(30), []scan.RedFlag{controlling(scan.SeverityHigh)}))
	require.NoError(t, s.RecordFlags(ctx, "u1", "s2", daysBefore(10), []scan.RedFlag{controlling(scan.SeverityMedium)}))
	require.NoError(t, s.RecordFlags(ctx, "u1", "future", asOf.Add(time.Hour), []scan.RedFlag{controlling(scan.SeverityLow)}))
	require.NoError(t, s.RecordFlags(ctx, "u2", "x1", daysBefore(5), []scan.RedFlag{controlling(scan.SeverityHigh)}))

	tests := []struct {
		name    string
		q       escalation.HistoryQuery
		wantSev []scan.Severity
	}{
		{
			name:    "90 day window, oldest first",
			q:       escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90},
			wantSev: []scan.Severity{scan.SeverityHigh, scan.SeverityMedium},
		},
		{
			name:    "180 day window reaches older scans",
			q:       escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 180},
			wantSev: []scan.Severity{scan.SeverityCritical, scan.SeverityHigh, scan.SeverityMedium},
		},
		{
			name:    "current scan excluded",
			q:       escalation.HistoryQuery{UserID: "u1", ExcludeScanID: "s2", AsOf: asOf, WindowDays: 90},
			wantSev: []scan.Severity{scan.SeverityHigh},
		},
		{
			name:    "window start is inclusive",
			q:       escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 10},
			wantSev: []scan.Severity{scan.SeverityMedium},
		},
		{
			name:    "unknown user",
			q:       escalation.HistoryQuery{UserID: "nobody", AsOf: asOf, WindowDays: 90},
			wantSev: []scan.Severity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, err := s.FlagsForUser(ctx, tt.q)
			require.NoError(t, err)
			got := []scan.Severity{}
			for _, f := range flags {
				got = append(got, f.Severity)
			}
			assert.Equal(t, tt.wantSev, got)
		})
	}
}

func TestRecordFlags_ReplacesScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(1), []scan.RedFlag{
		controlling(scan.SeverityHigh), controlling(scan.SeverityMedium),
	}))
	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(1), []scan.RedFlag{controlling(scan.SeverityHigh)}))

	recs, err := s.ListRecords(ctx, ListQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(1), nil))
	recs, err = s.ListRecords(ctx, ListQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecordFlags_RoundTripsFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := controlling(scan.SeverityCritical)
	f.IsEscalated = true
	f.Evidence = []string{"q1", "q7"}
	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(2), []scan.RedFlag{f}))

	recs, err := s.ListRecords(ctx, ListQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "s1", r.ScanID)
	assert.Equal(t, scan.SeverityCritical, r.Severity)
	assert.Equal(t, []string{"q1", "q7"}, r.Evidence)
	assert.True(t, r.IsEscalated)
	assert.True(t, daysBefore(2).Equal(r.RecordedAt))
	assert.Equal(t, "controlling_behavior:trust_safety", r.Flag().PatternKey())
}

func TestRecordFlags_RequiresIDs(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.RecordFlags(context.Background(), "", "s1", asOf, nil))
	assert.Error(t, s.RecordFlags(context.Background(), "u1", "", asOf, nil))
}

func TestListRecords_NewestFirstWithRangeAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, scanID := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.RecordFlags(ctx, "u1", scanID, daysBefore(40-10*i), []scan.RedFlag{controlling(scan.SeverityLow)}))
	}

	recs, err := s.ListRecords(ctx, ListQuery{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].ScanID)
	assert.Equal(t, "c", recs[1].ScanID)

	recs, err = s.ListRecords(ctx, ListQuery{UserID: "u1", Since: daysBefore(30), Until: daysBefore(20)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ScanID)
	assert.Equal(t, "b", recs[1].ScanID)

	_, err = s.ListRecords(ctx, ListQuery{})
	assert.Error(t, err)
}

func TestStore_DrivesEscalation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(20), []scan.RedFlag{controlling(scan.SeverityHigh)}))

	reg, err := config.BuiltinRegistry()
	require.NoError(t, err)

	out, err := escalation.New(s, reg.Latest()).Escalate(ctx, escalation.Request{
		UserID: "u1", ScanID: "s2", AsOf: asOf, Flags: []scan.RedFlag{controlling(scan.SeverityHigh)},
	})
	require.NoError(t, err)
	require.Len(t, out.Flags, 1)
	assert.Equal(t, scan.SeverityCritical, out.Flags[0].Severity)
	assert.Equal(t, 2, out.Flags[0].OccurrenceCount)
}

func TestFlagsForUser_OneFlagPerPatternPerScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jealousy := controlling(scan.SeverityMedium)
	jealousy.Type = "deal_breaker"
	jealousy.Signal = "Deal breaker: jealousy"
	secrecy := controlling(scan.SeverityHigh)
	secrecy.Type = "deal_breaker"
	secrecy.Signal = "Deal breaker: secrecy"

	require.NoError(t, s.RecordFlags(ctx, "u1", "s1", daysBefore(20),
		[]scan.RedFlag{jealousy, controlling(scan.SeverityLow), secrecy}))

	flags, err := s.FlagsForUser(ctx, escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90})
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "deal_breaker:trust_safety", flags[0].PatternKey())
	assert.Equal(t, scan.SeverityHigh, flags[0].Severity)
	assert.Equal(t, "Deal breaker: secrecy", flags[0].Signal)
	assert.Equal(t, "controlling_behavior:trust_safety", flags[1].PatternKey())

	reg, err := config.BuiltinRegistry()
	require.NoError(t, err)

	// One prior scan: a medium deal breaker needs three scans, so it stays put.
	current := jealousy
	out, err := escalation.New(s, reg.Latest()).Escalate(ctx, escalation.Request{
		UserID: "u1", ScanID: "s2", AsOf: asOf, Flags: []scan.RedFlag{current},
	})
	require.NoError(t, err)
	require.Len(t, out.Flags, 1)
	assert.Equal(t, scan.SeverityMedium, out.Flags[0].Severity)
	assert.False(t, out.Flags[0].IsEscalated)
}

// ─── Postgres dialect (sqlmock) ──────────────────────────────────────────────

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewWithDB(db, DriverPostgres, zap.NewNop())
}

func TestPostgres_Migrate(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS red_flags \(\s+id\s+BIGSERIAL PRIMARY KEY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_red_flags_user_time`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_red_flags_scan`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordFlags(t *testing.T) {
	mock, s := setupMockStore(t)
	at := daysBefore(3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM red_flags WHERE user_id = $1 AND scan_id = $2`)).
		WithArgs("u1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WithArgs("u1", "s1", "controlling_behavior", "trust_safety", "Controlling behavior", "high", `["q1"]`, false, at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RecordFlags(context.Background(), "u1", "s1", at, []scan.RedFlag{controlling(scan.SeverityHigh)}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordFlags_InsertFailureRollsBack(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM red_flags`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO red_flags`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.RecordFlags(context.Background(), "u1", "s1", asOf, []scan.RedFlag{controlling(scan.SeverityHigh)})
	assert.ErrorContains(t, err, "insert flag controlling_behavior:trust_safety")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FlagsForUser(t *testing.T) {
	mock, s := setupMockStore(t)
	q := escalation.HistoryQuery{UserID: "u1", ExcludeScanID: "s9", AsOf: asOf, WindowDays: 90}

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "scan_id", "flag_type", "category", "signal",
		"severity", "evidence", "is_escalated", "recorded_at",
	}).
		AddRow(1, "u1", "s1", "controlling_behavior", "trust_safety", "Controlling behavior", "high", `["q1"]`, false, daysBefore(40)).
		AddRow(2, "u1", "s2", "controlling_behavior", "trust_safety", "Controlling behavior", "critical", `["q2"]`, true, daysBefore(4))

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1 AND scan_id <> $2 AND recorded_at >= $3 AND recorded_at <= $4`)).
		WithArgs("u1", "s9", q.Since(), asOf).
		WillReturnRows(rows)

	flags, err := s.FlagsForUser(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, scan.SeverityHigh, flags[0].Severity)
	assert.Equal(t, scan.SeverityCritical, flags[1].Severity)
	assert.True(t, flags[1].IsEscalated)
	assert.Equal(t, []string{"q2"}, flags[1].Evidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FlagsForUser_BadSeverity(t *testing.T) {
	mock, s := setupMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "scan_id", "flag_type", "category", "signal",
		"severity", "evidence", "is_escalated", "recorded_at",
	}).AddRow(7, "u1", "s1", "t", "c", "sig", "catastrophic", `[]`, false, asOf)
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	_, err := s.FlagsForUser(context.Background(), escalation.HistoryQuery{UserID: "u1", AsOf: asOf, WindowDays: 90})
	assert.ErrorContains(t, err, "record 7")
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	lite := &Store{driver: DriverSQLite}
	q := "SELECT 1 WHERE a = ? AND b = ? LIMIT ?"

	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2 LIMIT $3", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}
