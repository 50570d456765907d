package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := New(sqlx.NewDb(db, "postgres"))
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = s.Close()
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return s, mock
}

func TestMigrate_CreatesTable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS roughness_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestRecord_BindsNamedColumns(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO roughness_runs`).
		WithArgs("r1", "medium", "1,2,3,4,EPSG:4326", StatusFailed, "external_tool", false,
			sqlmock.AnyArg(), int64(1200), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Record(context.Background(), Run{
		RunID: "r1", Class: "medium", Extent: "1,2,3,4,EPSG:4326",
		Status: StatusFailed, ErrorKind: "external_tool", DurationMS: 1200, CreatedAt: ts,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestRecord_WrapsDriverError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO roughness_runs`).WillReturnError(errors.New("conn reset"))
	err := s.Record(context.Background(), Run{RunID: "r2", Status: StatusOK})
	if err == nil || !strings.Contains(err.Error(), "runstore record r2: conn reset") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRecent_ClampsLimitAndScans(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"run_id", "class", "extent", "status", "error_kind", "cached", "outputs", "duration_ms", "created_at",
	}).AddRow("r1", "high", "e", StatusOK, "", true, []byte(`{"roughness":{"path":"/o/n.tif"}}`), int64(5), ts)

	mock.ExpectQuery(`SELECT run_id, class`).WithArgs(MaxLimit).WillReturnRows(rows)

	got, err := s.Recent(context.Background(), 1_000_000)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "r1" || !got[0].Cached || !got[0].CreatedAt.Equal(ts) {
		t.Fatalf("rows=%+v", got)
	}
	var out map[string]any
	if err := json.Unmarshal(got[0].Outputs, &out); err != nil || out["roughness"] == nil {
		t.Fatalf("outputs=%s err=%v", got[0].Outputs, err)
	}
}

func TestRecent_DefaultLimit(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT run_id, class`).WithArgs(DefaultLimit).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))
	got, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
}

func TestPing_ReportsDriverError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection reset"))
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
