package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docgate/api/internal/config"
	"docgate/api/internal/query"
	"docgate/api/internal/rbac"
	"docgate/api/internal/session"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
	"docgate/api/internal/util"
)

const (
	devEmail    = "dev@example.com"
	devPassword = "dev-password"
)

type testEnv struct {
	svc    *Service
	server http.Handler
}

func testConfig() config.Config {
	return config.Config{
		CookieSecret: "test-secret",
		KeyTTL:       time.Hour,
		SessionTTL:   time.Hour,
		CORSOrigin:   "*",
		Superuser:    devEmail,
		MediaURL:     "/Media/",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSessions(t, session.NewMemoryStore())
}

func newTestEnvWithSessions(t *testing.T, sessions session.Store) *testEnv {
	t.Helper()
	docs := store.New(store.NewMemoryEngine())
	svc := NewService(testConfig(), docs, sessions, upload.NewMemoryBlobs())
	if err := svc.SeedDeveloper(context.Background(), devEmail, devPassword); err != nil {
		t.Fatalf("seed developer: %v", err)
	}
	return &testEnv{svc: svc, server: NewHTTPServer(svc, "*").Handler()}
}

// addUser creates a password login with a role from AccessUsers.
func (e *testEnv) addUser(t *testing.T, email, role string) {
	t.Helper()
	ctx := context.Background()
	if err := e.svc.SetPassword(ctx, email, "user-password"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if role == "" {
		return
	}
	doc := store.Document{store.IDField: util.NewID(""), "user": email, "role": role}
	if err := e.svc.docs.Insert(ctx, rbac.AdminDatabase, rbac.AccessUsers, doc); err != nil {
		t.Fatalf("insert access user: %v", err)
	}
}

func (e *testEnv) setPermission(t *testing.T, database, collection, role, mode string) {
	t.Helper()
	doc := store.Document{
		store.IDField: util.NewID(""),
		"database":    database,
		"collection":  collection,
		"role":        role,
		"permission":  mode,
	}
	if err := e.svc.docs.Insert(context.Background(), rbac.AdminDatabase, rbac.AccessModes, doc); err != nil {
		t.Fatalf("insert access mode: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user": email, "password": password})
	rr := e.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth/login", bytes.NewReader(body)), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", email, rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == UserCookie {
			return c
		}
	}
	t.Fatal("login did not set the user cookie")
	return nil
}

func (e *testEnv) authorize(t *testing.T, cookie *http.Cookie, database, collection, mode string) Grant {
	t.Helper()
	body, _ := json.Marshal(AuthorizeInput{Database: database, Collection: collection, Mode: mode})
	rr := e.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth", bytes.NewReader(body)), cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize: status %d body=%s", rr.Code, rr.Body.String())
	}
	var grant Grant
	if err := json.Unmarshal(rr.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	return grant
}

func (e *testEnv) request(t *testing.T, cookie *http.Cookie, key, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, body)
	if key != "" {
		req.Header.Set("Authorization", key)
	}
	return e.do(t, req, cookie)
}

func queryURL(t *testing.T, target string, q any, sort []query.SortField) string {
	t.Helper()
	params, err := query.Encode(q, sort)
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}
	return target + "?" + params.Values().Encode()
}

func decodeItems(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var items []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode items: %v body=%s", err, rr.Body.String())
	}
	return items
}

func decodeItem(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var item map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v body=%s", err, rr.Body.String())
	}
	return item
}
