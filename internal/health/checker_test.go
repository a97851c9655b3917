package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

// toggleServer answers 200 while healthy is set and 500 otherwise.
func toggleServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestProbe_success(t *testing.T) {
	var ok atomic.Bool
	ok.Store(true)
	srv := toggleServer(t, &ok)

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probe(context.Background(), srv.URL) {
		t.Error("expected probe to succeed")
	}
}

func TestProbe_fallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if !checker.probe(context.Background(), srv.URL) {
		t.Error("expected GET fallback to succeed")
	}
}

func TestProbe_failure(t *testing.T) {
	var ok atomic.Bool
	srv := toggleServer(t, &ok)

	checker := New(nil, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	if checker.probe(context.Background(), srv.URL) {
		t.Error("expected probe to fail")
	}
}

func TestStatus_unknownBeforeFirstProbe(t *testing.T) {
	checker := New(APITargets("http://127.0.0.1:1/api"), Config{}, zap.NewNop())
	if got := checker.Status().Status; got != StatusUnknown {
		t.Errorf("expected unknown, got %q", got)
	}
	if checker.Ready() {
		t.Error("expected not ready")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	var ok atomic.Bool
	srv := toggleServer(t, &ok)

	var (
		mu      sync.Mutex
		changes []string
		probes  int32
	)
	checker := New([]Target{{Name: "detections", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetChangeHook(func(ts TargetStatus) {
		mu.Lock()
		changes = append(changes, ts.Status)
		mu.Unlock()
	})
	checker.SetMetricsRecord(func(string, bool) { atomic.AddInt32(&probes, 1) })

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if got := checker.Status().Status; got == StatusDegraded {
		t.Fatalf("degraded before threshold")
	}

	checker.CheckAll(context.Background())
	snap := checker.Status()
	if snap.Status != StatusDegraded || snap.Targets[0].FailCount != 3 {
		t.Errorf("expected degraded with 3 failures, got %+v", snap)
	}

	// Further failures do not re-announce the transition.
	checker.CheckAll(context.Background())
	if len(changes) != 1 || changes[0] != StatusDegraded {
		t.Errorf("unexpected transitions: %v", changes)
	}
	if n := atomic.LoadInt32(&probes); n != 4 {
		t.Errorf("expected 4 metric records, got %d", n)
	}
}

func TestCheckAll_recoversOnSuccess(t *testing.T) {
	var ok atomic.Bool
	srv := toggleServer(t, &ok)

	var changes []string
	checker := New([]Target{{Name: "detections", URL: srv.URL}}, Config{
		ProbeTimeout:  5 * time.Second,
		FailThreshold: 3,
	}, zap.NewNop())
	checker.SetChangeHook(func(ts TargetStatus) { changes = append(changes, ts.Status) })

	for i := 0; i < 3; i++ {
		checker.CheckAll(context.Background())
	}
	ok.Store(true)
	checker.CheckAll(context.Background())

	snap := checker.Status()
	if snap.Status != StatusHealthy || snap.Targets[0].FailCount != 0 {
		t.Errorf("expected healthy after recovery, got %+v", snap)
	}
	if !checker.Ready() {
		t.Error("expected ready after recovery")
	}
	if len(changes) != 2 || changes[1] != StatusHealthy {
		t.Errorf("unexpected transitions: %v", changes)
	}
}

func TestCheckAll_firstSuccessAnnouncesHealthy(t *testing.T) {
	var ok atomic.Bool
	ok.Store(true)
	srv := toggleServer(t, &ok)

	var changes []string
	checker := New([]Target{{Name: "detections", URL: srv.URL}}, Config{ProbeTimeout: 5 * time.Second}, zap.NewNop())
	checker.SetChangeHook(func(ts TargetStatus) { changes = append(changes, ts.Status) })

	checker.CheckAll(context.Background())
	checker.CheckAll(context.Background())
	if len(changes) != 1 || changes[0] != StatusHealthy {
		t.Errorf("unexpected transitions: %v", changes)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	var ok atomic.Bool
	ok.Store(true)
	srv := toggleServer(t, &ok)

	checker := New([]Target{{Name: "detections", URL: srv.URL}}, Config{
		CheckInterval: time.Hour,
		ProbeTimeout:  5 * time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !checker.Ready() {
		select {
		case <-deadline:
			t.Fatal("first probe did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
