package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"docgate/api/internal/auth"
	"docgate/api/internal/query"
	"docgate/api/internal/rbac"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
	"docgate/api/internal/util"
)

// OwnerField records the email of the user that created a document.
const OwnerField = "_owner"

// QueryInput carries the raw query parameters of a collection read.
type QueryInput struct {
	MQ    string
	MS    string
	Range string
}

// Page is one slice of a result set. Stop is inclusive.
type Page struct {
	Items []store.Document
	Start int
	Stop  int
	Total int
}

func (p Page) ContentRange() string {
	if len(p.Items) == 0 {
		return fmt.Sprintf("items 0-0/%d", p.Total)
	}
	return fmt.Sprintf("items %d-%d/%d", p.Start, p.Stop, p.Total)
}

func newPage(items []store.Document, start, total int) Page {
	if items == nil {
		items = []store.Document{}
	}
	return Page{Items: items, Start: start, Stop: start + len(items) - 1, Total: total}
}

// ListCollections answers a database-level read with one entry per
// collection.
func (s *Service) ListCollections(ctx context.Context, access Access, database string, input QueryInput) (Page, error) {
	q, err := query.DecodeFilter(input.MQ)
	if err != nil {
		return Page{}, err
	}
	filter, err := query.Translate(q)
	if err != nil {
		return Page{}, err
	}

	names, err := s.docs.ListCollections(ctx, database)
	if err != nil {
		return Page{}, err
	}
	var matches []store.Document
	for _, name := range names {
		entry := store.Document{
			store.IDField: name,
			"url":         dataURL(database, name),
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return Page{}, err
		}
		if query.Match(raw, filter) {
			matches = append(matches, entry)
		}
	}

	total := len(matches)
	start, stop := 0, total-1
	if a, b, ok := query.ParseRange(input.Range); ok {
		start, stop = a, min(b, total-1)
	}
	if start > stop || start >= total {
		return newPage(nil, start, total), nil
	}
	return newPage(matches[start:stop+1], start, total), nil
}

func (s *Service) DropCollection(ctx context.Context, access Access, database, collection string) error {
	if err := s.docs.DropCollection(ctx, database, collection); err != nil {
		return err
	}
	s.afterWrite(database, collection)
	return nil
}

// Query runs a collection read. Restricted readers get an exact-match filter
// on scalar fields only, no sorting or paging, and nothing at all when more
// than one document matches.
func (s *Service) Query(ctx context.Context, access Access, database, collection string, input QueryInput) (Page, error) {
	q, err := query.DecodeFilter(input.MQ)
	if err != nil {
		return Page{}, err
	}

	if access.Mode.Restricted() {
		docs, total, err := s.docs.Find(ctx, database, collection, store.FindOptions{
			Filter: exactFilter(query.Restrict(q)),
			Limit:  -1,
		})
		if err != nil {
			return Page{}, err
		}
		if total > 1 {
			return newPage(nil, 0, 0), nil
		}
		return newPage(docs, 0, total), nil
	}

	filter, err := query.Translate(q)
	if err != nil {
		return Page{}, err
	}
	sortSpec, err := query.DecodeSort(input.MS)
	if err != nil {
		return Page{}, err
	}
	opts := store.FindOptions{Filter: filter, Sort: sortSpec, Limit: -1}
	if start, stop, ok := query.ParseRange(input.Range); ok {
		opts.Skip = start
		opts.Limit = stop - start + 1
	}
	docs, total, err := s.docs.Find(ctx, database, collection, opts)
	if err != nil {
		return Page{}, err
	}
	return newPage(docs, opts.Skip, total), nil
}

// CreateItem stores a new document under a server-assigned id.
func (s *Service) CreateItem(ctx context.Context, access Access, database, collection string, item store.Document) (store.Document, error) {
	if item == nil {
		item = store.Document{}
	}
	item[store.IDField] = util.NewID("")
	delete(item, OwnerField)
	if access.Identity.Email != "" {
		item[OwnerField] = access.Identity.Email
	}
	if err := s.validator.Validate(ctx, database, collection, item); err != nil {
		return nil, err
	}
	if err := s.docs.Insert(ctx, database, collection, item); err != nil {
		return nil, err
	}
	s.afterWrite(database, collection)
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, access Access, database, collection, id string) (store.Document, error) {
	return s.docs.Get(ctx, database, collection, id)
}

// ReplaceItem overwrites a document. The stored owner is kept whatever the
// new body says.
func (s *Service) ReplaceItem(ctx context.Context, access Access, database, collection, id string, item store.Document) (store.Document, error) {
	old, err := s.docs.Get(ctx, database, collection, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(access, old, "update"); err != nil {
		return nil, err
	}

	if item == nil {
		item = store.Document{}
	}
	item[store.IDField] = id
	delete(item, OwnerField)
	if owner, ok := old[OwnerField]; ok {
		item[OwnerField] = owner
	}
	if err := s.validator.Validate(ctx, database, collection, item); err != nil {
		return nil, err
	}
	if err := s.docs.Replace(ctx, database, collection, id, item); err != nil {
		return nil, err
	}
	s.afterWrite(database, collection)
	return item, nil
}

func (s *Service) DeleteItem(ctx context.Context, access Access, database, collection, id string) error {
	old, err := s.docs.Get(ctx, database, collection, id)
	if err != nil {
		return err
	}
	if err := checkOwner(access, old, "delete"); err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, database, collection, id); err != nil {
		return err
	}
	s.afterWrite(database, collection)
	return nil
}

// UploadInput is a parsed multipart upload.
type UploadInput struct {
	Key         string
	FileName    string
	ContentType string
	Body        io.Reader
	Tags        string
	Title       string
	Description string
	CreditURL   string
}

// Upload stores a media file. The key must grant create on the Media
// collection picked by the content type.
func (s *Service) Upload(ctx context.Context, caller Identity, input UploadInput) (store.Document, error) {
	medium, err := upload.Medium(input.ContentType)
	if err != nil {
		return nil, err
	}
	if _, err := s.CheckKey(caller, input.Key, upload.MediaDatabase, medium, auth.Create, "upload"); err != nil {
		return nil, err
	}
	return s.uploads.Save(ctx, upload.Request{
		FileName:    input.FileName,
		ContentType: input.ContentType,
		Body:        input.Body,
		Tags:        input.Tags,
		Title:       input.Title,
		Description: input.Description,
		CreditURL:   input.CreditURL,
		UploadedBy:  caller.Email,
	})
}

// OpenMedia returns a stored media blob by its path below the media URL.
func (s *Service) OpenMedia(ctx context.Context, mediaPath string) (io.ReadCloser, string, error) {
	return s.uploads.Open(ctx, mediaPath)
}

func (s *Service) MediaURL() string {
	return s.uploads.MediaURL()
}

func checkOwner(access Access, old store.Document, action string) error {
	if access.Mode.Has(auth.Override) || access.Identity.Role == rbac.RoleDeveloper {
		return nil
	}
	owner, _ := old[OwnerField].(string)
	if owner == "" || owner != access.Identity.Email {
		return forbidden(action, errors.New("not owner"))
	}
	return nil
}

// afterWrite drops cached schemas when the schema collection changes.
func (s *Service) afterWrite(database, collection string) {
	if database == rbac.AdminDatabase && collection == rbac.Schemas {
		s.validator.Forget()
	}
}
