package resourcesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/security"
)

// --- モック定義 ---

type mockRepo struct {
	mu        sync.Mutex
	byURL     map[string]model.Resource
	upsertErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{byURL: make(map[string]model.Resource)}
}

func (m *mockRepo) Upsert(_ context.Context, res *model.Resource) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.byURL[res.URL]
	m.byURL[res.URL] = *res
	return !exists, nil
}

func (m *mockRepo) get(url string) (model.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byURL[url]
	return r, ok
}

// mockGuard は検証結果を固定し、テストサーバーへ接続できる通常のクライアントを返す。
type mockGuard struct {
	validateErr error
}

func (m *mockGuard) Validate(string) error { return m.validateErr }

func (m *mockGuard) Client(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

type mockInvalidator struct {
	calls atomic.Int32
}

func (m *mockInvalidator) InvalidateResources(context.Context) { m.calls.Add(1) }

type mockMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	fetches  []bool
	statuses []int
	inserted int
	updated  int
}

func (m *mockMetrics) RecordFeedFetch(success bool, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, success)
	m.statuses = append(m.statuses, status)
}

func (m *mockMetrics) RecordResourcesUpserted(inserted, updated int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted += inserted
	m.updated += updated
}

type syncerFixture struct {
	syncer      *Syncer
	repo        *mockRepo
	guard       *mockGuard
	invalidator *mockInvalidator
	metrics     *mockMetrics
	logs        *bytes.Buffer
}

func newSyncerFixture() *syncerFixture {
	f := &syncerFixture{
		repo:        newMockRepo(),
		guard:       &mockGuard{},
		invalidator: &mockInvalidator{},
		metrics:     &mockMetrics{},
		logs:        &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	f.syncer = NewSyncer(f.repo, f.guard, security.NewSanitizer(), f.invalidator, f.metrics, logger, 5*time.Second, 1<<20)
	return f
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Career Library</title>
    <link>https://example.com</link>
    <item>
      <title>Cracking the System Design Round</title>
      <link>https://www.youtube.com/watch?v=abc123</link>
      <description>&lt;p&gt;Walkthrough of &lt;b&gt;common&lt;/b&gt; questions&lt;/p&gt;</description>
      <category>Interview Prep</category>
    </item>
    <item>
      <title>Mock interview recording</title>
      <link>https://example.com/mock</link>
      <enclosure url="https://cdn.example.com/mock.mp4" type="video/mp4" length="1024"/>
    </item>
    <item>
      <title>Resume checklist</title>
      <link>https://example.com/resume</link>
      <description>Ten things to fix.</description>
    </item>
    <item>
      <title></title>
      <link>https://example.com/untitled</link>
    </item>
  </channel>
</rss>`

func TestSyncer_Sync_ImportsResources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	f := newSyncerFixture()
	if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	tests := []struct {
		url      string
		wantType model.ResourceType
		wantCat  string
		wantDesc string
	}{
		{"https://www.youtube.com/watch?v=abc123", model.ResourceTypeVideo, "Interview Prep", "Walkthrough of common questions"},
		{"https://example.com/mock", model.ResourceTypeVideo, "Career Library", ""},
		{"https://example.com/resume", model.ResourceTypeDocument, "Career Library", "Ten things to fix."},
	}
	for _, tt := range tests {
		res, ok := f.repo.get(tt.url)
		if !ok {
			t.Errorf("resource %s not stored", tt.url)
			continue
		}
		if res.Type != tt.wantType || res.Category != tt.wantCat || res.Description != tt.wantDesc {
			t.Errorf("resource = %+v", res)
		}
		if res.ID == "" {
			t.Errorf("resource %s has no ID", tt.url)
		}
	}
	if _, ok := f.repo.get("https://example.com/untitled"); ok {
		t.Error("タイトルのない記事は取り込まない")
	}

	if f.metrics.inserted != 3 || f.metrics.updated != 0 {
		t.Errorf("inserted=%d updated=%d", f.metrics.inserted, f.metrics.updated)
	}
	if f.invalidator.calls.Load() != 1 {
		t.Errorf("invalidate calls = %d, want 1", f.invalidator.calls.Load())
	}
	if st := f.syncer.State(server.URL); st.ETag != `"v1"` || st.ConsecutiveErrors != 0 {
		t.Errorf("state = %+v", st)
	}
	if !bytes.Contains(f.logs.Bytes(), []byte(`"resources_inserted":3`)) {
		t.Errorf("expected structured completion log, got %s", f.logs.String())
	}
}

func TestSyncer_Sync_SecondRunUpdates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	f := newSyncerFixture()
	for i := 0; i < 2; i++ {
		if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
			t.Fatalf("Sync #%d returned error: %v", i+1, err)
		}
	}
	if f.metrics.inserted != 3 || f.metrics.updated != 3 {
		t.Errorf("inserted=%d updated=%d, want 3/3", f.metrics.inserted, f.metrics.updated)
	}
}

func TestSyncer_Sync_ConditionalGET(t *testing.T) {
	var gotETag, gotLastMod string
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
			fmt.Fprint(w, testRSS)
			return
		}
		gotETag = r.Header.Get("If-None-Match")
		gotLastMod = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	f := newSyncerFixture()
	_ = f.syncer.Sync(context.Background(), server.URL)
	if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	if gotETag != `"v1"` || gotLastMod != "Wed, 01 Jan 2025 00:00:00 GMT" {
		t.Errorf("If-None-Match=%q If-Modified-Since=%q", gotETag, gotLastMod)
	}
	if f.invalidator.calls.Load() != 1 {
		t.Errorf("304ではキャッシュを破棄しない (calls=%d)", f.invalidator.calls.Load())
	}
}

func TestSyncer_Sync_StatusHandling(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantStopped bool
		wantErrors  int
	}{
		{"404で停止", http.StatusNotFound, true, 0},
		{"403で停止", http.StatusForbidden, true, 0},
		{"429でバックオフ", http.StatusTooManyRequests, false, 1},
		{"500でバックオフ", http.StatusInternalServerError, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			f := newSyncerFixture()
			if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
				t.Fatalf("Sync returned error: %v", err)
			}

			st := f.syncer.State(server.URL)
			if st.Stopped != tt.wantStopped || st.ConsecutiveErrors != tt.wantErrors {
				t.Errorf("state = %+v", st)
			}
			if f.syncer.Due(server.URL) {
				t.Error("直後は取得対象外であるべき")
			}
			if len(f.metrics.fetches) != 1 || f.metrics.fetches[0] || f.metrics.statuses[0] != tt.status {
				t.Errorf("metrics fetches=%v statuses=%v", f.metrics.fetches, f.metrics.statuses)
			}
		})
	}
}

func TestSyncer_Sync_URLValidationStops(t *testing.T) {
	f := newSyncerFixture()
	f.guard.validateErr = errors.New("blocked address: 10.0.0.1")

	err := f.syncer.Sync(context.Background(), "http://10.0.0.1/feed.xml")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if st := f.syncer.State("http://10.0.0.1/feed.xml"); !st.Stopped {
		t.Errorf("state = %+v", st)
	}
}

func TestSyncer_Sync_ParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer server.Close()

	f := newSyncerFixture()
	if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
		t.Fatalf("パース失敗はエラーを返さない: %v", err)
	}
	st := f.syncer.State(server.URL)
	if st.ConsecutiveErrors != 1 || st.Stopped {
		t.Errorf("state = %+v", st)
	}
	if !f.syncer.Due(server.URL) {
		t.Error("パース失敗は次のサイクルで再取得する")
	}
}

func TestSyncer_Sync_UpsertFailureSkipsItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	f := newSyncerFixture()
	f.repo.upsertErr = errors.New("connection reset")
	if err := f.syncer.Sync(context.Background(), server.URL); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if f.invalidator.calls.Load() != 0 {
		t.Error("取り込み件数0ではキャッシュを破棄しない")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("短い説明", 10); got != "短い説明" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("あいうえおかきくけこ", 5); got != "あいうえお…" {
		t.Errorf("got %q", got)
	}
}
