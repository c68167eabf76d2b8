package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultGenerationFailureThreshold is the failure streak at which the
// generation check reports degraded.
const DefaultGenerationFailureThreshold = 3

// ErrSessionClosed is reported by SessionCheck once the session has ended.
var ErrSessionClosed = errors.New("session is closed")

// HealthCheck is one named readiness check. A failing Critical check makes
// the service unhealthy; any other failure only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// SessionInfo describes the served session in health responses.
type SessionInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Turns     int    `json:"turns"`
	Version   uint64 `json:"version"`
	Language  string `json:"language"`
	Staged    bool   `json:"attachment_staged"`
	Busy      bool   `json:"busy"`
	Closed    bool   `json:"closed"`
	Provider  string `json:"provider"`
	Retention string `json:"attachment_policy"`
}

// HealthChecker runs the registered checks and reports the session.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]*HealthCheck
	session func() SessionInfo
	started time.Time
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Session   *SessionInfo           `json:"session,omitempty"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus represents the status of a health check
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

var version = "dev"

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// NewHealthChecker creates a checker with no checks.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]*HealthCheck),
		started: time.Now(),
	}
}

// RegisterCheck adds or replaces a check by name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// SetSession sets the function that describes the served session.
func (hc *HealthChecker) SetSession(info func() SessionInfo) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.session = info
}

// Check runs every check concurrently and folds the results.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	sessionInfo := hc.session
	hc.mu.RUnlock()

	results := make([]CheckStatus, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}()
	}
	wg.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Uptime:    time.Since(hc.started).Round(time.Second).String(),
		Checks:    make(map[string]CheckStatus, len(checks)),
	}
	for i, check := range checks {
		resp.Checks[check.Name] = results[i]
		switch results[i].Status {
		case HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if resp.Status == HealthStatusHealthy {
				resp.Status = HealthStatusDegraded
			}
		}
	}
	if sessionInfo != nil {
		info := sessionInfo()
		resp.Session = &info
	}
	return resp
}

func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.CheckFunc(checkCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{Status: HealthStatusHealthy, Message: "OK", Duration: time.Since(start).String()}
	if err != nil {
		status.Status = HealthStatusDegraded
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		}
		status.Message = err.Error()
	}
	return status
}

// Handler serves the full health report. Only an unhealthy session
// answers 503.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// ReadyHandler answers 200 while the session accepts submissions. A
// degraded journal or provider does not take the session out of rotation.
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc.Check(r.Context()).Status == HealthStatusUnhealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// LivenessHandler answers 200 while the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// SessionCheck fails critically once closed reports true.
func SessionCheck(closed func() bool) *HealthCheck {
	return &HealthCheck{
		Name: "session",
		CheckFunc: func(context.Context) error {
			if closed() {
				return ErrSessionClosed
			}
			return nil
		},
		Timeout:  time.Second,
		Critical: true,
	}
}

// JournalCheck pings the session journal. A failing journal degrades the
// service; turns still commit in memory.
func JournalCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "journal",
		CheckFunc: ping,
		Timeout:   5 * time.Second,
	}
}

// GenerationCheck degrades once threshold generation calls in a row have
// failed. It reads the streak kept by RecordGeneration and never calls
// the provider itself.
func GenerationCheck(provider string, threshold int) *HealthCheck {
	if threshold <= 0 {
		threshold = DefaultGenerationFailureThreshold
	}
	return &HealthCheck{
		Name: "generation",
		CheckFunc: func(context.Context) error {
			if n := generationFailures.Load(); n >= int64(threshold) {
				return fmt.Errorf("%s: last %d calls failed", provider, n)
			}
			return nil
		},
		Timeout: time.Second,
	}
}
