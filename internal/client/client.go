// Package client talks to a docgate server. A Client holds the login cookie;
// a Session holds one access key and sends it with every request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// TimeoutRequest bounds each HTTP exchange of the default client.
const TimeoutRequest = 60 * time.Second

const (
	authPath     = "/data/_auth"
	loginPath    = "/data/_auth/login"
	logoutPath   = "/data/_auth/logout"
	userPath     = "/data/_auth/user"
	passwordPath = "/data/_auth/password"
	uploadPath   = "/data/_upload"
)

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A cookie jar is added when
// the client has none, since login state lives in a cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{base: base, http: &http.Client{Timeout: TimeoutRequest}}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		copied := *c.http
		copied.Jar = jar
		c.http = &copied
	}
	return c, nil
}

// User is the identity the server sees behind the login cookie.
type User struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Login signs in with a password. The cookie is kept for later requests,
// including those of sessions opened afterwards.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var user User
	err := c.postJSON(ctx, loginPath, map[string]string{"user": email, "password": password}, &user)
	return user, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, logoutPath, map[string]any{}, nil)
}

// SetPassword sets the login password of user, or of the logged-in user when
// user is empty. Setting another user's password needs the developer or
// admin role.
func (c *Client) SetPassword(ctx context.Context, user, password string) error {
	return c.postJSON(ctx, passwordPath, map[string]string{"user": user, "password": password}, nil)
}

// CurrentUser returns the logged-in user. Email is empty when anonymous.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(userPath), nil)
	if err != nil {
		return User{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, &RequestError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return User{}, &RequestError{Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	var body struct {
		Email *string `json:"email"`
		Role  string  `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	user := User{Role: body.Role}
	if body.Email != nil {
		user.Email = *body.Email
	}
	return user, nil
}

// Open asks the authorization endpoint for a key on (database, collection)
// and returns a session bound to it. The granted mode may be narrower than
// mode; use "*" as collection for database-level access.
func (c *Client) Open(ctx context.Context, database, collection, mode string) (*Session, error) {
	fail := func(status int, message string, err error) error {
		return &AuthError{Database: database, Collection: collection, Status: status, Message: message, Err: err}
	}

	payload, err := json.Marshal(map[string]string{"database": database, "collection": collection, "mode": mode})
	if err != nil {
		return nil, fail(0, "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(authPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fail(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, errorMessage(resp), nil)
	}

	var grant struct {
		URL string `json:"url"`
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fail(resp.StatusCode, "", fmt.Errorf("decode grant: %w", err))
	}
	if grant.URL == "" || grant.Key == "" {
		return nil, fail(resp.StatusCode, "grant without url or key", nil)
	}
	return newSession(c, database, collection, AccessToken{Key: grant.Key, TargetURL: c.resolve(grant.URL)})
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &RequestError{Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// resolve turns a server path, or an absolute URL, into an absolute URL.
func (c *Client) resolve(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return c.base.String() + ref
	}
	return c.base.ResolveReference(parsed).String()
}
