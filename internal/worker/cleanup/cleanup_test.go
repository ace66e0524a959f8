package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// mockDeleter はExpiredSessionDeleterのテスト用モック。
type mockDeleter struct {
	calls   atomic.Int32
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteExpired(context.Context) (int64, error) {
	m.calls.Add(1)
	return m.deleted, m.err
}

type countingMetrics struct {
	metrics.Nop
	cleaned int64
}

func (m *countingMetrics) RecordSessionsCleaned(n int64) { m.cleaned += n }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogField はJSONログから指定キーの値を探す。
func findLogField(buf *bytes.Buffer, key string) (interface{}, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	m := &countingMetrics{}
	job := NewCleanupJob(&mockDeleter{deleted: 42}, m, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if v, ok := findLogField(&buf, "deleted_count"); !ok || v != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogField(&buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
	if m.cleaned != 42 {
		t.Errorf("metrics cleaned = %d, want 42", m.cleaned)
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, nil, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if v, ok := findLogField(&buf, "deleted_count"); !ok || v != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{err: sql.ErrConnDone}, nil, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

// TestCleanupJob_Run_WithPostgresRepo はリポジトリ経由で発行されるSQLを検証する。
func TestCleanupJob_Run_WithPostgresRepo(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= now\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	var buf bytes.Buffer
	m := &countingMetrics{}
	job := NewCleanupJob(repository.NewPostgresSessionRepo(db), m, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if m.cleaned != 7 {
		t.Errorf("metrics cleaned = %d, want 7", m.cleaned)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, nil, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(time.Second)
	for deleter.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後にRunが実行されなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
