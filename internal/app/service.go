package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"docgate/api/internal/auth"
	"docgate/api/internal/authpw"
	"docgate/api/internal/config"
	"docgate/api/internal/rbac"
	"docgate/api/internal/schema"
	"docgate/api/internal/session"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
	"docgate/api/internal/util"
)

// UserCookie is the name of the signed login cookie.
const UserCookie = "user"

// Identity is the caller of one request. Email is empty for anonymous
// callers.
type Identity struct {
	Email string
	Role  rbac.Role
}

type LoginResult struct {
	Cookie    string
	ExpiresAt time.Time
	Identity  Identity
}

type Service struct {
	cfg       config.Config
	docs      *store.Store
	keys      *auth.KeySigner
	passwords *authpw.Service
	sessions  session.Store
	validator *schema.Validator
	uploads   *upload.Service
	now       func() time.Time
}

// NewService wires the document store, login sessions and media blobs.
func NewService(cfg config.Config, docs *store.Store, sessions session.Store, blobs upload.Blobs) *Service {
	svc := &Service{
		cfg:       cfg,
		docs:      docs,
		keys:      auth.NewKeySigner([]byte(cfg.CookieSecret), cfg.KeyTTL),
		passwords: authpw.NewService(docs),
		sessions:  sessions,
		uploads:   upload.NewService(blobs, docs, cfg.MediaURL),
		now:       time.Now,
	}
	svc.validator = schema.NewValidator(svc)
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.docs.Ping(ctx); err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// Login checks the password and opens a login session. The returned cookie
// value carries the session id signed with the cookie secret.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return LoginResult{}, err
	}

	expiresAt := s.now().Add(s.sessionTTL())
	sid := util.NewID("sid")
	if err := s.sessions.Save(ctx, sid, session.Data{Email: email, CreatedAt: s.now().UTC()}, expiresAt); err != nil {
		return LoginResult{}, err
	}
	cookie, err := auth.IssueToken([]byte(s.cfg.CookieSecret), auth.UserClaims{
		Email: email,
		SID:   sid,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return LoginResult{}, err
	}

	role, err := s.RoleOf(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Cookie: cookie, ExpiresAt: expiresAt, Identity: Identity{Email: email, Role: role}}, nil
}

// Logout revokes the session behind a cookie. Unknown cookies are ignored.
func (s *Service) Logout(ctx context.Context, cookie string) error {
	claims, err := auth.ParseToken([]byte(s.cfg.CookieSecret), cookie)
	if err != nil {
		return nil
	}
	return s.sessions.Revoke(ctx, claims.SID)
}

// CurrentUser returns the email behind a login cookie, or "" when the
// cookie is absent, invalid, expired or revoked.
func (s *Service) CurrentUser(ctx context.Context, cookie string) (string, error) {
	if cookie == "" {
		return "", nil
	}
	claims, err := auth.ParseToken([]byte(s.cfg.CookieSecret), cookie)
	if err != nil {
		return "", nil
	}
	data, err := s.sessions.Lookup(ctx, claims.SID)
	if errors.Is(err, session.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if data.Email != claims.Email {
		return "", nil
	}
	return claims.Email, nil
}

// Identify resolves the cookie of a request into an Identity.
func (s *Service) Identify(ctx context.Context, cookie string) (Identity, error) {
	email, err := s.CurrentUser(ctx, cookie)
	if err != nil {
		return Identity{}, err
	}
	role, err := s.RoleOf(ctx, email)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Email: email, Role: role}, nil
}

// SeedDeveloper makes sure a developer account with the given password
// exists. It is used at startup so a fresh server can be administered.
func (s *Service) SeedDeveloper(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.passwords.SetPassword(ctx, email, password); err != nil {
		return err
	}
	if _, err := s.findOne(ctx, rbac.AdminDatabase, rbac.Developers, "user", email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	doc := store.Document{
		store.IDField: util.NewID(""),
		"user":        email,
		"role":        string(rbac.RoleDeveloper),
	}
	if err := s.docs.Insert(ctx, rbac.AdminDatabase, rbac.Developers, doc); err != nil {
		return fmt.Errorf("seed developer: %w", err)
	}
	log.Printf("seeded developer account %s", email)
	return nil
}

// SetPassword creates or replaces the login password of email.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	err := s.passwords.SetPassword(ctx, email, password)
	if errors.Is(err, authpw.ErrWeakPassword) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return err
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return 30 * 24 * time.Hour
}
