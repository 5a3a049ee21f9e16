package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingKey   = errors.New("missing authorization header")
	ErrMalformedKey = errors.New("bad authorization header")
	ErrBadSignature = errors.New("invalid signature")
	ErrExpiredKey   = errors.New("key expired")
)

// KeySigner issues and verifies access keys of the form
// "<mode>-<hex unix seconds>-<hex hmac>". The signature covers the database,
// collection and user the key was issued for, so a key only opens what it
// was requested for.
type KeySigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewKeySigner(secret []byte, ttl time.Duration) *KeySigner {
	return &KeySigner{secret: secret, ttl: ttl, now: time.Now}
}

func (s *KeySigner) Issue(database, collection, user string, mode Mode) string {
	modebits := string(NewMode(string(mode)))
	timebits := strconv.FormatInt(s.now().Unix(), 16)
	return modebits + "-" + timebits + "-" + s.sign(database, collection, user, modebits, timebits)
}

// Check validates key against the resource and user and returns the granted
// mode, restricted to letters this server understands.
func (s *KeySigner) Check(key, database, collection, user string) (Mode, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingKey
	}
	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return "", ErrMalformedKey
	}
	modebits, timebits, signature := parts[0], parts[1], parts[2]

	expected := s.sign(database, collection, user, modebits, timebits)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrBadSignature
	}
	issued, err := strconv.ParseInt(timebits, 16, 64)
	if err != nil {
		return "", ErrMalformedKey
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(issued, 0)) > s.ttl {
		return "", ErrExpiredKey
	}
	return Mode(modebits).Intersect(CollectionSet), nil
}

func (s *KeySigner) sign(parts ...string) string {
	sum := hmac.New(sha256.New, s.secret)
	for _, part := range parts {
		_, _ = sum.Write([]byte(part))
		_, _ = sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// GrantedMode returns the mode segment of a key without verifying it.
func GrantedMode(key string) string {
	mode, _, _ := strings.Cut(key, "-")
	return mode
}
