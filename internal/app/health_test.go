package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docgate/api/internal/session"
)

// failingSessions is a session store whose backend is down.
type failingSessions struct {
	*session.MemoryStore
	pingErr error
}

func (f *failingSessions) Ping(context.Context) error {
	return f.pingErr
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/data/_health", nil), nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/data/_health", nil)
	req.Header.Set("X-Request-ID", "req-42")

	rr := env.do(t, req, nil)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id req-42, got %q", got)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/data/_ready", nil), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
}

func TestReadyEndpoint_SessionStoreDown(t *testing.T) {
	sessions := &failingSessions{MemoryStore: session.NewMemoryStore(), pingErr: errors.New("connection refused")}
	env := newTestEnvWithSessions(t, sessions)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/data/_ready", nil), nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	checks, _ := response["checks"].(map[string]any)
	storage, _ := checks["storage"].(map[string]any)
	if storage["status"] != "error" {
		t.Errorf("expected storage status=error, got %v", storage["status"])
	}
}

func TestOptionsRequest(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodOptions, "/data/x-Blog/Posts/", nil), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/nope", "/data/_nothing"} {
		rr := env.do(t, httptest.NewRequest(http.MethodGet, path, nil), nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}
