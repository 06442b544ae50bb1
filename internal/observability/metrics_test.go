package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ubind/internal/auth"
	"github.com/danmuck/ubind/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordRegistration("function")
	RecordDispatch("notify_change", "ok", 3*time.Millisecond)
	RecordCallbackFailure("timer", true)
	RecordNotifyDropped(2)
	RecordObjectDestroyed()
	RecordFrame("in", "TimerTick")
	RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond)
}

func TestAdminRouter(t *testing.T) {
	testlog.Start(t)
	RecordRegistration("variable")
	r := AdminRouter(zerolog.Nop(), func() map[string]any {
		return map[string]any{"objects": 2}
	}, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if body["status"] != "ok" || body["objects"] != float64(2) {
		t.Fatalf("healthz body=%v", body)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ubind_binding_registrations_total") {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}

func TestAdminRouterRequiresToken(t *testing.T) {
	testlog.Start(t)
	r := AdminRouter(zerolog.Nop(), nil, auth.StaticToken{Token: "s3cret"})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}
