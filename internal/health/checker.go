// Package health probes the remote D.A.T.A. API and tracks whether it is
// answering. A target turns degraded after FailThreshold consecutive failed
// probes and healthy again on the next success.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status values.
const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Target is one URL to probe.
type Target struct {
	Name string
	URL  string
}

// TargetStatus is the last known state of one target.
type TargetStatus struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	FailCount   int       `json:"fail_count"`
	LastChecked time.Time `json:"last_checked,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Snapshot is the aggregate state returned by Status.
type Snapshot struct {
	Status  string         `json:"status"`
	Targets []TargetStatus `json:"targets"`
}

// ChangeFunc is called whenever a target's status changes, including the
// first probe that settles it.
type ChangeFunc func(target TargetStatus)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(target string, success bool)

// Checker runs periodic probes against a fixed set of targets.
type Checker struct {
	targets    []Target
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger

	mu     sync.Mutex
	status map[string]*TargetStatus

	onChange  ChangeFunc
	onMetrics MetricsRecordFunc
}

// New creates a Checker for targets.
func New(targets []Target, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	status := make(map[string]*TargetStatus, len(targets))
	for _, t := range targets {
		status[t.Name] = &TargetStatus{Name: t.Name, URL: t.URL, Status: StatusUnknown}
	}

	return &Checker{
		targets:    targets,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		logger:     logger,
		status:     status,
	}
}

// APITargets returns the probe targets for an API rooted at baseURL.
func APITargets(baseURL string) []Target {
	return []Target{{Name: "detections", URL: baseURL + "/detections/"}}
}

// SetChangeHook configures the transition callback.
func (h *Checker) SetChangeHook(fn ChangeFunc) {
	h.onChange = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start checks once immediately and then on every interval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.checkWithDeadline(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.checkWithDeadline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Checker) checkWithDeadline(ctx context.Context) {
	deadline := h.cfg.CheckInterval - time.Second
	if deadline <= 0 {
		deadline = h.cfg.CheckInterval
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	h.CheckAll(cctx)
}

// CheckAll probes every target with bounded concurrency.
func (h *Checker) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, t := range h.targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := h.probe(ctx, target.URL)
			if h.onMetrics != nil {
				h.onMetrics(target.Name, success)
			}
			h.record(target, success)
		}(t)
	}

	wg.Wait()
}

func (h *Checker) record(target Target, success bool) {
	now := time.Now().UTC()

	h.mu.Lock()
	st := h.status[target.Name]
	prev := st.Status
	st.LastChecked = now
	if success {
		st.FailCount = 0
		st.LastSuccess = now
		st.Status = StatusHealthy
	} else {
		st.FailCount++
		if st.FailCount >= h.cfg.FailThreshold {
			st.Status = StatusDegraded
		}
	}
	snapshot := *st
	h.mu.Unlock()

	if snapshot.Status == prev {
		return
	}
	switch {
	case snapshot.Status == StatusDegraded:
		h.logger.Warn("health: degraded",
			zap.String("target", target.Name),
			zap.String("url", target.URL),
			zap.Int("fail_count", snapshot.FailCount),
		)
	case prev == StatusDegraded:
		h.logger.Info("health: recovered", zap.String("target", target.Name))
	default:
		h.logger.Info("health: up", zap.String("target", target.Name))
	}
	if h.onChange != nil {
		h.onChange(snapshot)
	}
}

// Status returns a copy of the current state. The aggregate is degraded if
// any target is, unknown until every target has been probed once, and healthy
// otherwise.
func (h *Checker) Status() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{Status: StatusHealthy, Targets: make([]TargetStatus, 0, len(h.targets))}
	for _, t := range h.targets {
		st := *h.status[t.Name]
		snap.Targets = append(snap.Targets, st)
		switch {
		case st.Status == StatusDegraded:
			snap.Status = StatusDegraded
		case st.Status == StatusUnknown && snap.Status != StatusDegraded:
			snap.Status = StatusUnknown
		}
	}
	return snap
}

// Ready reports whether every target answered its last probe.
func (h *Checker) Ready() bool {
	return h.Status().Status == StatusHealthy
}

// probe attempts HEAD then GET, returning true on any 2xx response.
func (h *Checker) probe(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	// Some deployments reject HEAD on list routes.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
