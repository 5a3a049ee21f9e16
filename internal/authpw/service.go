// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docgate/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// Credentials live in the reserved "admin" database, which the grant rules
// never issue keys for.
const (
	CredentialsDatabase   = "admin"
	CredentialsCollection = "Credentials"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Service checks and stores bcrypt password hashes keyed by email.
type Service struct {
	docs *store.Store
	now  func() time.Time
}

func NewService(docs *store.Store) *Service {
	return &Service{docs: docs, now: time.Now}
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn returns the normalized email when the password matches.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (string, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return "", errors.New("email and password are required")
	}

	doc, err := s.docs.Get(ctx, CredentialsDatabase, CredentialsCollection, email)
	if errors.Is(err, store.ErrNotFound) {
		// keep timing close to the found path
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"), []byte(req.Password))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}

	hash, _ := doc["passwordHash"].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return email, nil
}

// SetPassword creates or replaces the credentials of email.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return errors.New("email is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	doc := store.Document{
		store.IDField:  email,
		"user":         email,
		"passwordHash": hash,
		"updatedAt":    s.now().UTC().Format(time.RFC3339),
	}
	err = s.docs.Replace(ctx, CredentialsDatabase, CredentialsCollection, email, doc)
	if errors.Is(err, store.ErrNotFound) {
		err = s.docs.Insert(ctx, CredentialsDatabase, CredentialsCollection, doc)
	}
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// RemovePassword deletes the credentials of email. Missing credentials are
// not an error.
func (s *Service) RemovePassword(ctx context.Context, email string) error {
	err := s.docs.Delete(ctx, CredentialsDatabase, CredentialsCollection, normalizeEmail(email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
