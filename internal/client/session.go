package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"docgate/api/internal/query"
)

// AccessToken is the key issued by the authorization endpoint together with
// the resource URL it is valid for.
type AccessToken struct {
	Key       string
	TargetURL string
}

// Mode returns the granted capability letters, the first segment of the key.
func (t AccessToken) Mode() string {
	mode, _, _ := strings.Cut(t.Key, "-")
	return mode
}

// keyTransport sets the access key on every request passing through it.
type keyTransport struct {
	key  string
	next http.RoundTripper
}

func (t *keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", t.key)
	return t.next.RoundTrip(req)
}

// Session is an open access key on one database and collection. Its token
// never changes; open a new session to get another key. Pending changes are
// guarded by a mutex, so a session may be shared between goroutines.
type Session struct {
	client     *Client
	http       *http.Client
	token      AccessToken
	database   string
	collection string

	mu      sync.Mutex
	created []Item
	changed []Item
	deleted []string
}

func newSession(c *Client, database, collection string, token AccessToken) (*Session, error) {
	if _, err := url.Parse(token.TargetURL); err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	next := c.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = &keyTransport{key: token.Key, next: next}
	return &Session{
		client:     c,
		http:       &hc,
		token:      token,
		database:   database,
		collection: collection,
	}, nil
}

// GrantedMode returns the letters the server actually granted. It is
// advisory; the server checks the key on every request.
func (s *Session) GrantedMode() string {
	return s.token.Mode()
}

func (s *Session) Token() AccessToken {
	return s.token
}

func (s *Session) Database() string {
	return s.database
}

func (s *Session) Collection() string {
	return s.collection
}

// Range selects result rows by position; Stop is inclusive.
type Range struct {
	Start int
	Stop  int
}

type FetchOptions struct {
	Sort  []query.SortField
	Range *Range
}

// Result is one page of a fetch. Total counts every match, not only the
// returned rows.
type Result struct {
	Items []Item
	Start int
	Stop  int
	Total int
}

var contentRange = regexp.MustCompile(`items (\d+)-(\d+)/(\d+)`)

// Fetch reads records. A string query is a record id and fetches that record
// alone; an empty id is an error. Anything else must be an object filter.
func (s *Session) Fetch(ctx context.Context, q any, opts FetchOptions) (Result, error) {
	params, err := query.Encode(q, opts.Sort)
	if err != nil {
		return Result{}, err
	}
	if _, ok := q.(string); ok {
		return s.fetchByID(ctx, params.ID)
	}

	target := s.token.TargetURL + "?" + params.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, err
	}
	if opts.Range != nil {
		req.Header.Set("Range", fmt.Sprintf("items=%d-%d", opts.Range.Start, opts.Range.Stop))
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, &RequestError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, &RequestError{Method: req.Method, URL: target, Status: resp.StatusCode, Message: errorMessage(resp)}
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return Result{}, &RequestError{Method: req.Method, URL: target, Status: resp.StatusCode, Err: fmt.Errorf("decode items: %w", err)}
	}
	result := Result{Items: items, Stop: len(items) - 1, Total: len(items)}
	if m := contentRange.FindStringSubmatch(resp.Header.Get("Content-Range")); m != nil {
		result.Start, _ = strconv.Atoi(m[1])
		result.Stop, _ = strconv.Atoi(m[2])
		result.Total, _ = strconv.Atoi(m[3])
	}
	return result, nil
}

func (s *Session) fetchByID(ctx context.Context, id string) (Result, error) {
	target := s.itemURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, &RequestError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Result{Items: []Item{}, Stop: -1}, nil
	default:
		return Result{}, &RequestError{Method: req.Method, URL: target, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	var item Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return Result{}, &RequestError{Method: req.Method, URL: target, Status: resp.StatusCode, Err: fmt.Errorf("decode item: %w", err)}
	}
	return Result{Items: []Item{item}, Total: 1}, nil
}

// FetchMany returns every record matching q.
func (s *Session) FetchMany(ctx context.Context, q any) ([]Item, error) {
	result, err := s.Fetch(ctx, q, FetchOptions{})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Create queues a new record. The server assigns its id when it is
// persisted; the returned item is updated in place at that point.
func (s *Session) Create(fields map[string]any) Item {
	item := Item{}
	item.Set(fields)
	delete(item, IDField)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, item)
	return item
}

// BeginChange marks a fetched record dirty. Mutations of the item up to the
// next Persist are written back.
func (s *Session) BeginChange(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID() == "" || s.pendingIndex(s.changed, item) >= 0 || s.pendingIndex(s.created, item) >= 0 {
		return
	}
	s.changed = append(s.changed, item)
}

// MarkDeleted queues a record for deletion. Pending changes to it are
// dropped; a record that was never persisted is simply forgotten.
func (s *Session) MarkDeleted(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.pendingIndex(s.created, item); i >= 0 {
		s.created = append(s.created[:i], s.created[i+1:]...)
		return
	}
	if i := s.pendingIndex(s.changed, item); i >= 0 {
		s.changed = append(s.changed[:i], s.changed[i+1:]...)
	}
	if id := item.ID(); id != "" {
		s.deleted = append(s.deleted, id)
	}
}

// Pending reports whether changes are waiting for Persist.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)+len(s.changed)+len(s.deleted) > 0
}

// Persist sends every queued create, then every update, then every delete,
// each group in the order it was queued. It stops at the first failure and
// returns a *PersistError; everything not yet sent stays queued.
func (s *Session) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.created) > 0 {
		item := s.created[0]
		if err := s.send(ctx, "create", http.MethodPost, s.token.TargetURL, "", item); err != nil {
			return err
		}
		s.created = s.created[1:]
	}
	for len(s.changed) > 0 {
		item := s.changed[0]
		if err := s.send(ctx, "update", http.MethodPut, s.itemURL(item.ID()), item.ID(), item); err != nil {
			return err
		}
		s.changed = s.changed[1:]
	}
	for len(s.deleted) > 0 {
		id := s.deleted[0]
		if err := s.send(ctx, "delete", http.MethodDelete, s.itemURL(id), id, nil); err != nil {
			return err
		}
		s.deleted = s.deleted[1:]
	}
	return nil
}

// send performs one write. The server's copy of a written record is merged
// back into item.
func (s *Session) send(ctx context.Context, op, method, target, id string, item Item) error {
	var body io.Reader
	if item != nil {
		raw, err := json.Marshal(item)
		if err != nil {
			return &PersistError{Op: op, ID: id, Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &PersistError{Op: op, ID: id, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return &PersistError{Op: op, ID: id, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PersistError{Op: op, ID: id, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	if item == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var stored Item
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return &PersistError{Op: op, ID: id, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	item.Set(stored)
	return nil
}

// Collections lists the collections of a database. The session must be
// opened on collection "*".
func (s *Session) Collections(ctx context.Context) ([]string, error) {
	items, err := s.FetchMany(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.ID())
	}
	return names, nil
}

// DropCollection deletes a whole collection. The session must be opened on
// collection "*" with mode d.
func (s *Session) DropCollection(ctx context.Context, collection string) error {
	target := strings.TrimSuffix(s.token.TargetURL, "/") + "/" + url.PathEscape(collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return &PersistError{Op: "drop", ID: collection, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &PersistError{Op: "drop", ID: collection, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	return nil
}

// Upload is a media file with its descriptive fields.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
	Tags        []string
	Title       string
	Description string
	CreditURL   string
}

// Upload posts a media file. The session must be opened on Media/Image or
// Media/Audio with mode c. The key travels as a form field as well as in
// the header.
func (s *Session) Upload(ctx context.Context, upload Upload) (Item, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"Authorization", s.token.Key},
		{"tags", strings.Join(upload.Tags, " ")},
		{"title", upload.Title},
		{"description", upload.Description},
		{"creditURL", upload.CreditURL},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", field[0], err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.FileName))
	header.Set("Content-Type", upload.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	target := s.client.resolve(uploadPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, &RequestError{Method: req.Method, URL: target, Status: resp.StatusCode, Message: errorMessage(resp)}
	}
	var item Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	return item, nil
}

func (s *Session) itemURL(id string) string {
	return s.token.TargetURL + url.PathEscape(id)
}

// pendingIndex finds item in list by identity of the map itself, falling
// back to the record id.
func (s *Session) pendingIndex(list []Item, item Item) int {
	for i, candidate := range list {
		if sameItem(candidate, item) {
			return i
		}
	}
	return -1
}

func sameItem(a, b Item) bool {
	if id := a.ID(); id != "" && id == b.ID() {
		return true
	}
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}
