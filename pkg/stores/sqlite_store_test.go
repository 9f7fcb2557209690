package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func newExecution(id, graph string, status ExecutionStatus, at time.Time) *Execution {
	return &Execution{
		ID:          id,
		Graph:       graph,
		Fingerprint: "9f1c2a7d00000000",
		Fetches:     []string{"y"},
		Feeds:       []string{"x"},
		Mode:        ExecutionModeInference,
		Status:      status,
		Steps:       3,
		Duration:    1500 * time.Microsecond,
		CreatedAt:   at,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an error for an empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate should fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests that migrations apply and are idempotent
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&count); err != nil {
		t.Fatalf("executions table is not accessible: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestExecutionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	at := time.Unix(1700000000, 123456789)
	exec := newExecution("exec-1", "mlp", ExecutionStatusSucceeded, at)
	exec.Mode = ExecutionModeTraining
	exec.ProbeMax = intPtr(7)
	exec.ProbeMin = intPtr(2)

	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	if err := store.CreateExecution(ctx, exec); err == nil {
		t.Error("expected an error for a duplicate id")
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.Graph != "mlp" || got.Mode != ExecutionModeTraining || got.Status != ExecutionStatusSucceeded {
		t.Errorf("unexpected execution: %+v", got)
	}
	if len(got.Fetches) != 1 || got.Fetches[0] != "y" || len(got.Feeds) != 1 || got.Feeds[0] != "x" {
		t.Errorf("names not round-tripped: fetches=%v feeds=%v", got.Fetches, got.Feeds)
	}
	if got.Duration != exec.Duration || got.Steps != 3 {
		t.Errorf("duration=%v steps=%d", got.Duration, got.Steps)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, at)
	}
	if got.ProbeMax == nil || *got.ProbeMax != 7 || got.ProbeMin == nil || *got.ProbeMin != 2 {
		t.Errorf("probe not round-tripped: %v %v", got.ProbeMax, got.ProbeMin)
	}
	if got.Error != nil || got.ErrorKind != nil {
		t.Errorf("expected no error fields, got %v %v", got.Error, got.ErrorKind)
	}

	_, err = store.GetExecution(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateExecution_Defaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exec := &Execution{
		ID:     "exec-1",
		Graph:  "g",
		Mode:   ModeOf(false),
		Status: ExecutionStatusFailed,
		Error:  strPtr("[LookupError] no value for x"),
	}
	exec.ErrorKind = strPtr("LookupError")
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	if exec.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.Fetches == nil || len(got.Fetches) != 0 {
		t.Errorf("nil names should read back empty, got %#v", got.Fetches)
	}
	if got.ErrorKind == nil || *got.ErrorKind != "LookupError" {
		t.Errorf("error kind = %v", got.ErrorKind)
	}

	if err := store.CreateExecution(ctx, &Execution{Graph: "g"}); err == nil {
		t.Error("expected an error for a missing id")
	}
	bad := newExecution("exec-2", "g", "crashed", time.Now())
	if err := store.CreateExecution(ctx, bad); err == nil {
		t.Error("expected the status check constraint to reject the row")
	}
}

func TestListExecutions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	rows := []*Execution{
		newExecution("a", "mlp", ExecutionStatusSucceeded, base),
		newExecution("b", "mlp", ExecutionStatusFailed, base.Add(time.Second)),
		newExecution("c", "split", ExecutionStatusSucceeded, base.Add(2*time.Second)),
		newExecution("d", "mlp", ExecutionStatusSucceeded, base.Add(3*time.Second)),
	}
	for _, r := range rows {
		if err := store.CreateExecution(ctx, r); err != nil {
			t.Fatalf("failed to create %s: %v", r.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter ExecutionFilter
		want   []string
	}{
		{"all", ExecutionFilter{}, []string{"d", "c", "b", "a"}},
		{"limit", ExecutionFilter{Limit: 2}, []string{"d", "c"}},
		{"offset", ExecutionFilter{Limit: 2, Offset: 2}, []string{"b", "a"}},
		{"graph", ExecutionFilter{Graph: "mlp"}, []string{"d", "b", "a"}},
		{"status", ExecutionFilter{Graph: "mlp", Status: ExecutionStatusSucceeded}, []string{"d", "a"}},
		{"none", ExecutionFilter{Graph: "other"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListExecutions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list executions: %v", err)
			}
			ids := make([]string, len(got))
			for i, e := range got {
				ids[i] = e.ID
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}

	count, err := store.CountExecutions(ctx, "mlp")
	if err != nil || count != 3 {
		t.Errorf("CountExecutions(mlp) = %d, %v; want 3", count, err)
	}
	count, err = store.CountExecutions(ctx, "")
	if err != nil || count != 4 {
		t.Errorf("CountExecutions() = %d, %v; want 4", count, err)
	}

	deleted, err := store.DeleteExecutionsBefore(ctx, base.Add(2*time.Second))
	if err != nil || deleted != 2 {
		t.Errorf("DeleteExecutionsBefore() = %d, %v; want 2", deleted, err)
	}
	count, _ = store.CountExecutions(ctx, "")
	if count != 2 {
		t.Errorf("%d executions left, want 2", count)
	}
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.CreateExecution(ctx, newExecution("exec-1", "g", ExecutionStatusSucceeded, time.Now())); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetExecution(ctx, "exec-1"); err != nil {
		t.Errorf("execution not persisted: %v", err)
	}
}
