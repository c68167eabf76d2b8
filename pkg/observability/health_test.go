package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGenerationStreak(t *testing.T) {
	t.Helper()
	generationFailures.Store(0)
	t.Cleanup(func() { generationFailures.Store(0) })
}

func TestHealthChecker_Healthy(t *testing.T) {
	resetGenerationStreak(t)
	hc := NewHealthChecker()
	hc.RegisterCheck(SessionCheck(func() bool { return false }))
	hc.RegisterCheck(GenerationCheck("mock", 0))
	hc.SetSession(func() SessionInfo { return SessionInfo{ID: "museum-visit", State: "idle", Turns: 2} })

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "OK", resp.Checks["session"].Message)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "museum-visit", resp.Session.ID)
	assert.Equal(t, 2, resp.Session.Turns)
}

func TestHealthChecker_ClosedSessionIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(SessionCheck(func() bool { return true }))

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Equal(t, ErrSessionClosed.Error(), resp.Checks["session"].Message)
}

func TestHealthChecker_JournalDownDegrades(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(SessionCheck(func() bool { return false }))
	hc.RegisterCheck(JournalCheck(func(context.Context) error {
		return errors.New("connection refused")
	}))

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Equal(t, HealthStatusDegraded, resp.Checks["journal"].Status)
	assert.Contains(t, resp.Checks["journal"].Message, "connection refused")
}

func TestGenerationCheck_FailureStreak(t *testing.T) {
	resetGenerationStreak(t)
	hc := NewHealthChecker()
	hc.RegisterCheck(GenerationCheck("gemini", 2))

	RecordGeneration("gemini", "server_error", time.Millisecond)
	RecordGeneration("gemini", GenerationCanceled, time.Millisecond)
	assert.Equal(t, HealthStatusHealthy, hc.Check(context.Background()).Status,
		"one failure and an abandoned call stay below the threshold")

	RecordGeneration("gemini", "timeout", time.Millisecond)
	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks["generation"].Message, "last 2 calls failed")

	RecordGeneration("gemini", GenerationOK, time.Millisecond)
	assert.Equal(t, HealthStatusHealthy, hc.Check(context.Background()).Status)
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name: "slow",
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Timeout: 10 * time.Millisecond,
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Checks["slow"].Status)
}

func TestHandler_Routes(t *testing.T) {
	InitMetrics()
	hc := NewHealthChecker()
	closed := false
	hc.RegisterCheck(SessionCheck(func() bool { return closed }))
	hc.RegisterCheck(JournalCheck(func(context.Context) error { return errors.New("down") }))
	h := Handler(hc)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}

	closed = true
	for _, path := range []string{"/health", "/health/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestRecordHelpers(t *testing.T) {
	resetGenerationStreak(t)
	InitMetrics()
	InitMetrics()

	assert.NotPanics(t, func() {
		RecordTurn("committed")
		TurnStarted()
		TurnFinished()
		RecordGeneration("mock", GenerationOK, 20*time.Millisecond)
		RecordTokens("mock", 10, 5)
		RecordCost("mock", "mock", 0.001)
		RecordAttachmentStaged("image/jpeg", 2048)
		RecordAttachmentRejected("oversize")
		RecordHTTPRequest("GET", "/api/v1/session", "200", time.Millisecond)
		CollectRuntime()
	})
}
