package app

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"hubsync/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	clock := testutil.FixedClock()
	op := NewOperation("ImportSheet", "hub.xlsx", clock)

	if _, err := uuid.Parse(op.ID); err != nil {
		t.Errorf("ID = %q, not a uuid: %v", op.ID, err)
	}
	if op.Name != "ImportSheet" || op.Parameters != "hub.xlsx" {
		t.Errorf("op = %+v", op)
	}
	if op.Status != "running" {
		t.Errorf("Status = %q, want running", op.Status)
	}
	if op.Finished() {
		t.Error("Finished() = true before Finish")
	}
	if op.Duration() != 0 {
		t.Errorf("Duration() = %v before Finish, want 0", op.Duration())
	}
}

func TestOperation_Finish(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{name: "success", err: nil, wantStatus: "success"},
		{name: "error", err: errors.New("boom"), wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.FixedClock()
			op := NewOperation("BackupPush", "", clock)
			clock.Advance(3 * time.Second)

			op.Finish(tt.err, clock)

			if op.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", op.Status, tt.wantStatus)
			}
			if !errors.Is(op.Err, tt.err) {
				t.Errorf("Err = %v, want %v", op.Err, tt.err)
			}
			if got := op.Duration(); got != 3*time.Second {
				t.Errorf("Duration() = %v, want 3s", got)
			}
		})
	}
}
