package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrNotFound matches a CountError for a query with no match.
	ErrNotFound = errors.New("no record matched")
	// ErrAmbiguous matches a CountError for a query with several matches.
	ErrAmbiguous = errors.New("more than one record matched")
)

// AuthError is returned when the authorization endpoint rejects a request or
// cannot be reached. Status is zero for transport failures.
type AuthError struct {
	Database   string
	Collection string
	Status     int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	target := e.Database + "/" + e.Collection
	if e.Err != nil {
		return fmt.Sprintf("authorize %s: %v", target, e.Err)
	}
	return fmt.Sprintf("authorize %s: status %d: %s", target, e.Status, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CountError reports how many records a single-record query matched.
type CountError struct {
	Count int
}

func (e *CountError) Error() string {
	if e.Count == 0 {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s (%d)", ErrAmbiguous, e.Count)
}

func (e *CountError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Count == 0
	case ErrAmbiguous:
		return e.Count > 1
	}
	return false
}

// PersistError is a failed create, update or delete. Changes after the failed
// one stay pending.
type PersistError struct {
	Op      string
	ID      string
	Status  int
	Message string
	Err     error
}

func (e *PersistError) Error() string {
	subject := e.Op
	if e.ID != "" {
		subject += " " + e.ID
	}
	if e.Err != nil {
		return fmt.Sprintf("persist %s: %v", subject, e.Err)
	}
	return fmt.Sprintf("persist %s: status %d: %s", subject, e.Status, e.Message)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RequestError is a failed read or upload.
type RequestError struct {
	Method  string
	URL     string
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// errorMessage reads the {code, error} body the server sends with failures.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if len(raw) > 0 {
		return string(raw)
	}
	return http.StatusText(resp.StatusCode)
}
