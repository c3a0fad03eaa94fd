package loadgen

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvServer is a minimal stand-in for the service's HTTP surface.
type kvServer struct {
	mu   sync.Mutex
	rows map[string]string

	creates atomic.Int64
	reads   atomic.Int64
	deletes atomic.Int64
}

func newKVServer(t *testing.T) (*kvServer, *httptest.Server) {
	t.Helper()

	s := &kvServer{rows: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /create", func(w http.ResponseWriter, r *http.Request) {
		s.creates.Add(1)
		key, value := r.FormValue("key"), r.FormValue("value")
		if key == "" || value == "" {
			http.Error(w, "Missing key/value", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.rows[key] = value
		s.mu.Unlock()
		_, _ = w.Write([]byte("Inserted (" + key + ")\n"))
	})
	mux.HandleFunc("GET /read", func(w http.ResponseWriter, r *http.Request) {
		s.reads.Add(1)
		s.mu.Lock()
		value, ok := s.rows[r.FormValue("key")]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("[DB] " + value + "\n"))
	})
	mux.HandleFunc("DELETE /delete", func(w http.ResponseWriter, r *http.Request) {
		s.deletes.Add(1)
		s.mu.Lock()
		delete(s.rows, r.FormValue("key"))
		s.mu.Unlock()
		_, _ = w.Write([]byte("Deleted\n"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *kvServer) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func TestNewRunnerValidates(t *testing.T) {
	_, err := NewRunner(Config{BaseURL: "http://localhost:8080", Workload: "scan_all", Threads: 1}, nil)
	assert.Error(t, err)

	_, err = NewRunner(Config{BaseURL: "localhost", Workload: WorkloadGetAll, Threads: 1}, nil)
	assert.Error(t, err)

	_, err = NewRunner(Config{BaseURL: "http://localhost:8080", Workload: WorkloadGetAll, Threads: 0}, nil)
	assert.Error(t, err)

	r, err := NewRunner(Config{BaseURL: "http://localhost:8080/", Workload: "GET_MIX", Threads: 2}, nil)
	require.NoError(t, err)
	cfg := r.Config()
	assert.Equal(t, WorkloadGetMix, cfg.Workload)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Duration)
	assert.Equal(t, 10000, cfg.KeySpace)
	assert.Equal(t, 20, cfg.PopularSize)
}

func TestPrepopulatePopularKeys(t *testing.T) {
	kv, srv := newKVServer(t)

	r, err := NewRunner(Config{BaseURL: srv.URL, Workload: WorkloadGetPopular, Threads: 4, PopularSize: 5}, srv.Client())
	require.NoError(t, err)

	var last atomic.Int64
	require.NoError(t, r.Prepopulate(context.Background(), func(done, total int) {
		assert.Equal(t, 5, total)
		last.Store(int64(done))
	}))

	assert.Equal(t, 5, kv.len())
	assert.Equal(t, int64(5), last.Load())
	assert.Equal(t, uint64(0), r.Snapshot().Total, "seeding is not measured")
}

func TestPrepopulateSkippedForWriteWorkloads(t *testing.T) {
	kv, srv := newKVServer(t)

	r, err := NewRunner(Config{BaseURL: srv.URL, Workload: WorkloadPutAll, Threads: 1}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, r.Prepopulate(context.Background(), nil))

	r, err = NewRunner(Config{BaseURL: srv.URL, Workload: WorkloadGetAll, Threads: 1, SkipPrepopulate: true}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, r.Prepopulate(context.Background(), nil))

	assert.Equal(t, int64(0), kv.creates.Load())
}

func TestRunGetPopularAllSucceed(t *testing.T) {
	kv, srv := newKVServer(t)

	r, err := NewRunner(Config{
		BaseURL:     srv.URL,
		Workload:    WorkloadGetPopular,
		Threads:     3,
		PopularSize: 4,
		Duration:    150 * time.Millisecond,
	}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, r.Prepopulate(context.Background(), nil))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "get_popular", summary.Workload)
	assert.Equal(t, 3, summary.Threads)
	assert.Greater(t, summary.TotalRequests, uint64(0))
	assert.Equal(t, summary.TotalRequests, summary.Successful)
	assert.Greater(t, summary.Throughput, 0.0)
	assert.GreaterOrEqual(t, summary.DurationSeconds, 0.15)
	assert.Equal(t, int64(summary.TotalRequests), kv.reads.Load())
	assert.Contains(t, summary.Ops, "read")
	assert.NotContains(t, summary.Ops, "create")
}

func TestRunPutAllMixesCreatesAndDeletes(t *testing.T) {
	kv, srv := newKVServer(t)

	r, err := NewRunner(Config{
		BaseURL:  srv.URL,
		Workload: WorkloadPutAll,
		Threads:  2,
		KeySpace: 50,
		Duration: 200 * time.Millisecond,
	}, srv.Client())
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, kv.creates.Load(), int64(0))
	assert.Greater(t, kv.deletes.Load(), int64(0))
	assert.Equal(t, int64(0), kv.reads.Load())
	assert.Equal(t, uint64(kv.creates.Load()+kv.deletes.Load()), summary.TotalRequests)
}

func TestRunGetAllCountsMissesAsFailures(t *testing.T) {
	_, srv := newKVServer(t)

	r, err := NewRunner(Config{
		BaseURL:         srv.URL,
		Workload:        WorkloadGetAll,
		Threads:         1,
		KeySpace:        10,
		SkipPrepopulate: true,
		Duration:        50 * time.Millisecond,
	}, srv.Client())
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, summary.TotalRequests, uint64(0))
	assert.Equal(t, uint64(0), summary.Successful)
}

func TestRunHonorsRateLimit(t *testing.T) {
	_, srv := newKVServer(t)

	r, err := NewRunner(Config{
		BaseURL:     srv.URL,
		Workload:    WorkloadGetPopular,
		Threads:     4,
		PopularSize: 1,
		Rate:        20,
		Duration:    250 * time.Millisecond,
	}, srv.Client())
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	// Burst of 20 plus ~5 refilled tokens in 250ms.
	assert.LessOrEqual(t, summary.TotalRequests, uint64(30))
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	_, srv := newKVServer(t)

	r, err := NewRunner(Config{BaseURL: srv.URL, Workload: WorkloadGetMix, Threads: 2, Duration: time.Minute}, srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReportRoundTripAndSummaryText(t *testing.T) {
	summary := Summary{
		Workload:        "get_mix",
		Threads:         8,
		DurationSeconds: 30.01,
		TotalRequests:   1200,
		Successful:      1100,
		Throughput:      36.65,
		AvgLatencyMs:    2.5,
		Ops: map[string]OpSnapshot{
			"read":   {Total: 700, Successful: 650, AvgLatencyMs: 1.2},
			"create": {Total: 400, Successful: 400, AvgLatencyMs: 4.1},
		},
	}

	path := filepath.Join(t.TempDir(), "reports", "bench.toml")
	require.NoError(t, WriteReport(path, "http://localhost:8080", summary))

	loaded, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, summary, loaded)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, summary))
	out := buf.String()
	assert.Contains(t, out, "Workload: get_mix")
	assert.Contains(t, out, "Successful: 1100")
	assert.Contains(t, out, "Throughput: 36.65 req/s")
	assert.Less(t, strings.Index(out, "  create"), strings.Index(out, "  read "))
}
