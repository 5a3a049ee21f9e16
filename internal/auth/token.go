package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserClaims is the payload of the signed "user" cookie.
type UserClaims struct {
	Email string `json:"email"`
	SID   string `json:"sid"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims UserClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := signToken(secret, payload)
	return payload + "." + signature, nil
}

func ParseToken(secret []byte, token string) (UserClaims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return UserClaims{}, ErrInvalidToken
	}

	expected := signToken(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return UserClaims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return UserClaims{}, ErrInvalidToken
	}

	var claims UserClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return UserClaims{}, ErrInvalidToken
	}
	if claims.Email == "" || claims.SID == "" || claims.Exp == 0 {
		return UserClaims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return UserClaims{}, ErrExpiredToken
	}
	return claims, nil
}

func signToken(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
