package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/tracepipe/internal/domain"
)

// fakeRow подставляет значения в Scan по порядку колонок.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = r.values[i].(uuid.UUID)
		case *string:
			*p = r.values[i].(string)
		case **string:
			*p, _ = r.values[i].(*string)
		case **int:
			*p, _ = r.values[i].(*int)
		case **time.Time:
			*p, _ = r.values[i].(*time.Time)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

// --- scanRun Tests ---

func TestScanRun(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	failed := 3
	msg := "opt exited with status 1"

	run, err := scanRun(fakeRow{values: []any{
		id, "triad", "triad", "/work", "FAILED", "FAILED", &failed, &now, &now, &msg, now,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.ID != id || run.WorkloadID != "triad" {
		t.Errorf("unexpected identity %s %s", run.ID, run.WorkloadID)
	}
	if run.Status != domain.RunStatusFailed || run.State != domain.StateFailed {
		t.Errorf("expected FAILED/FAILED, got %s/%s", run.Status, run.State)
	}
	if run.FailedStage != domain.StageInstrument {
		t.Errorf("expected failed stage 3, got %d", run.FailedStage)
	}
	if run.Error != msg {
		t.Errorf("expected error %q, got %q", msg, run.Error)
	}
}

func TestScanRun_NullColumns(t *testing.T) {
	run, err := scanRun(fakeRow{values: []any{
		uuid.New(), "triad", "triad", "/work", "SUCCEEDED", "EXECUTED", nil, nil, nil, nil, time.Now(),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.FailedStage != 0 || run.Error != "" || run.StartedAt != nil {
		t.Errorf("NULL columns should map to zero values, got %+v", run)
	}
}

func TestScanRun_NoRows(t *testing.T) {
	_, err := scanRun(fakeRow{err: pgx.ErrNoRows})
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

// --- Helpers Tests ---

func TestRunFilter_Limit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, defaultListLimit},
		{-1, defaultListLimit},
		{5, 5},
		{10000, maxListLimit},
	}
	for _, tt := range tests {
		if got := (RunFilter{Limit: tt.limit}).limit(); got != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("") != nil {
		t.Error("empty string should be NULL")
	}
	if s := nullString("x"); s == nil || *s != "x" {
		t.Error("non-empty string should be kept")
	}
	if nullStage(0) != nil {
		t.Error("stage 0 should be NULL")
	}
	if s := nullStage(domain.StageLower); s == nil || *s != 5 {
		t.Error("stage 5 should be kept")
	}
}
