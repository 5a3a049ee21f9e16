package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func TestLoginSetsCookieAndReportsRole(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString(`{"user":"  DEV@example.com ","password":"dev-password"}`)
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth/login", body), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["email"] != devEmail || payload["role"] != "developer" {
		t.Fatalf("unexpected payload %v", payload)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == UserCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected http-only user cookie, got %+v", cookie)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth/login",
		bytes.NewBufferString(`{"user":"dev@example.com","password":"wrong-password"}`)), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLoginRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth/login", bytes.NewBufferString(`{"user":`)), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/data/_auth/user", nil), nil)
	var anonymous map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &anonymous)
	if anonymous["email"] != nil || anonymous["role"] != "anonymous" {
		t.Fatalf("expected anonymous caller, got %v", anonymous)
	}

	env.addUser(t, "pat@example.com", "")
	cookie := env.login(t, "pat@example.com", "user-password")
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/data/_auth/user", nil), cookie)
	var identified map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &identified)
	if identified["email"] != "pat@example.com" || identified["role"] != "identified" {
		t.Fatalf("expected identified caller, got %v", identified)
	}
}

func TestLogoutRevokesCookie(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, devEmail, devPassword)

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth/logout", nil), cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/data/_auth/user", nil), cookie)
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["role"] != "anonymous" {
		t.Fatalf("revoked cookie must be anonymous, got %v", payload)
	}
}

func TestTamperedCookieIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, devEmail, devPassword)
	cookie.Value = strings.Replace(cookie.Value, ".", "x.", 1)

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/data/_auth/user", nil), cookie)
	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if payload["role"] != "anonymous" {
		t.Fatalf("tampered cookie must be anonymous, got %v", payload)
	}
}

func TestAuthorizeGrants(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "author@example.com", "author")
	env.setPermission(t, "Blog", "Posts", "author", "cru")
	env.setPermission(t, "Blog", "Posts", "anonymous", "R")

	dev := env.login(t, devEmail, devPassword)
	author := env.login(t, "author@example.com", "user-password")

	cases := []struct {
		name       string
		cookie     *http.Cookie
		collection string
		requested  string
		want       string
	}{
		{"developer gets request", dev, "Posts", "crudO", "Ocdru"},
		{"developer drops unknown letters", dev, "Posts", "rxyz", "r"},
		{"developer database level", dev, "*", "crud", "dr"},
		{"author limited by access mode", author, "Posts", "crud", "cru"},
		{"author without entry", author, "Drafts", "r", ""},
		{"anonymous restricted read", nil, "Posts", "rR", "R"},
		{"anonymous elsewhere", nil, "Drafts", "crud", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			grant := env.authorize(t, tc.cookie, "Blog", tc.collection, tc.requested)
			if grant.Mode != tc.want {
				t.Fatalf("expected mode %q, got %q", tc.want, grant.Mode)
			}
			if !strings.HasPrefix(grant.Key, tc.want+"-") {
				t.Fatalf("key %q must start with granted mode", grant.Key)
			}
		})
	}
}

func TestAuthorizeURLShape(t *testing.T) {
	env := newTestEnv(t)
	dev := env.login(t, devEmail, devPassword)

	collection := env.authorize(t, dev, "Blog", "Posts", "r")
	if !regexp.MustCompile(`^/data/[0-9a-f]{8}-Blog/Posts/$`).MatchString(collection.URL) {
		t.Fatalf("unexpected collection url %q", collection.URL)
	}
	database := env.authorize(t, dev, "Blog", "*", "r")
	if !regexp.MustCompile(`^/data/[0-9a-f]{8}-Blog/$`).MatchString(database.URL) {
		t.Fatalf("unexpected database url %q", database.URL)
	}
	again := env.authorize(t, dev, "Blog", "Posts", "r")
	if again.URL == collection.URL {
		t.Fatal("expected a fresh url prefix per grant")
	}
}

func TestAuthorizeAdminCollections(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "admin@example.com", "admin")
	env.addUser(t, "other-dev@example.com", "")
	dev := env.login(t, devEmail, devPassword)
	admin := env.login(t, "admin@example.com", "user-password")

	if got := env.authorize(t, admin, "Admin", "AccessUsers", "crud").Mode; got != "cdru" {
		t.Fatalf("admin on AccessUsers: got %q", got)
	}
	if got := env.authorize(t, admin, "Admin", "Developers", "crud").Mode; got != "" {
		t.Fatalf("admin on Developers: got %q", got)
	}
	if got := env.authorize(t, dev, "Admin", "Developers", "crud").Mode; got != "cdru" {
		t.Fatalf("superuser on Developers: got %q", got)
	}
	if got := env.authorize(t, dev, "admin", "Credentials", "r").Mode; got != "" {
		t.Fatalf("reserved admin database must grant nothing, got %q", got)
	}
}

func TestAuthorizeValidation(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/data/_auth", bytes.NewBufferString(`{"database":"Blog"}`)), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestSetPasswordPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "pat@example.com", "")
	env.addUser(t, "sam@example.com", "")
	pat := env.login(t, "pat@example.com", "user-password")
	dev := env.login(t, devEmail, devPassword)

	rr := env.request(t, pat, "", http.MethodPost, "/data/_auth/password", map[string]string{"user": "sam@example.com", "password": "hijacked-password"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 changing another user's password, got %d", rr.Code)
	}

	rr = env.request(t, pat, "", http.MethodPost, "/data/_auth/password", map[string]string{"password": "short"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for weak password, got %d", rr.Code)
	}

	rr = env.request(t, dev, "", http.MethodPost, "/data/_auth/password", map[string]string{"user": "sam@example.com", "password": "new-sam-password"})
	if rr.Code != http.StatusOK {
		t.Fatalf("developer should set passwords, got %d body=%s", rr.Code, rr.Body.String())
	}
	env.login(t, "sam@example.com", "new-sam-password")

	rr = env.request(t, nil, "", http.MethodPost, "/data/_auth/password", map[string]string{"password": "whatever-pass"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous caller, got %d", rr.Code)
	}
}
