package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"docgate/api/internal/auth"
	"docgate/api/internal/query"
	"docgate/api/internal/rbac"
	"docgate/api/internal/store"
	"docgate/api/internal/util"
)

// AuthorizeInput is the body of POST /data/_auth.
type AuthorizeInput struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
	Mode       string `json:"mode"`
}

// Grant is the answer to an authorization request.
type Grant struct {
	URL  string `json:"url"`
	Key  string `json:"key"`
	Mode string `json:"mode"`
}

// Access is a verified access key for one request.
type Access struct {
	Identity Identity
	Mode     auth.Mode
}

// Authorize issues a key for (database, collection) with the requested mode
// reduced to what the caller's role is permitted.
func (s *Service) Authorize(ctx context.Context, caller Identity, input AuthorizeInput) (Grant, error) {
	database := strings.TrimSpace(input.Database)
	collection := strings.TrimSpace(input.Collection)
	if database == "" || collection == "" {
		return Grant{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "database and collection are required", nil)
	}
	if strings.ContainsAny(database, "/") || strings.ContainsAny(collection, "/") {
		return Grant{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "names must not contain '/'", nil)
	}

	req := rbac.GrantRequest{
		Database:   database,
		Collection: collection,
		User:       caller.Email,
		Role:       caller.Role,
		Requested:  auth.Mode(input.Mode),
		Superuser:  s.cfg.Superuser,
	}
	permission, ok, err := s.permission(ctx, database, collection, caller.Role)
	if err != nil {
		return Grant{}, err
	}
	req.Permission, req.HasPermission = permission, ok
	mode := rbac.Grant(req)

	target := dataURL(database)
	if collection != rbac.AllCollections {
		target = dataURL(database, collection)
	}
	return Grant{
		URL:  target,
		Key:  s.keys.Issue(database, collection, caller.Email, mode),
		Mode: string(mode),
	}, nil
}

// CheckKey verifies key for the resource and caller and returns the access
// it grants. want names the letters the operation needs; action is used in
// the error message.
func (s *Service) CheckKey(caller Identity, key, database, collection string, want auth.Mode, action string) (Access, error) {
	mode, err := s.keys.Check(key, database, collection, caller.Email)
	if err != nil {
		return Access{}, forbidden(action, err)
	}
	if !mode.Allows(want) {
		return Access{}, forbidden(action, fmt.Errorf("mode %q lacks %q", mode, want))
	}
	return Access{Identity: caller, Mode: mode}, nil
}

// RoleOf resolves the role of a user from the Developers and AccessUsers
// collections.
func (s *Service) RoleOf(ctx context.Context, email string) (rbac.Role, error) {
	if email == "" {
		return rbac.RoleAnonymous, nil
	}
	developerRole, err := s.roleIn(ctx, rbac.Developers, email)
	if err != nil {
		return "", err
	}
	memberRole, err := s.roleIn(ctx, rbac.AccessUsers, email)
	if err != nil {
		return "", err
	}
	return rbac.ResolveRole(email, developerRole, memberRole), nil
}

func (s *Service) roleIn(ctx context.Context, collection, email string) (string, error) {
	doc, err := s.findOne(ctx, rbac.AdminDatabase, collection, "user", email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	role, _ := doc["role"].(string)
	return role, nil
}

// permission returns the AccessModes entry for a role on a collection.
func (s *Service) permission(ctx context.Context, database, collection string, role rbac.Role) (string, bool, error) {
	filter := exactFilter(map[string]any{
		"database":   database,
		"collection": collection,
		"role":       string(role),
	})
	docs, _, err := s.docs.Find(ctx, rbac.AdminDatabase, rbac.AccessModes, store.FindOptions{Filter: filter, Limit: 1})
	if err != nil {
		return "", false, fmt.Errorf("lookup access mode: %w", err)
	}
	if len(docs) == 0 {
		return "", false, nil
	}
	permission, _ := docs[0]["permission"].(string)
	return permission, true, nil
}

// Schema implements schema.Source over Admin/Schemas.
func (s *Service) Schema(ctx context.Context, database, collection string) (any, bool, error) {
	filter := exactFilter(map[string]any{"database": database, "collection": collection})
	docs, _, err := s.docs.Find(ctx, rbac.AdminDatabase, rbac.Schemas, store.FindOptions{Filter: filter, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	raw, ok := docs[0]["schema"]
	return raw, ok, nil
}

// findOne returns the first document whose field equals value exactly.
func (s *Service) findOne(ctx context.Context, database, collection, field, value string) (store.Document, error) {
	docs, _, err := s.docs.Find(ctx, database, collection, store.FindOptions{
		Filter: exactFilter(map[string]any{field: value}),
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

// exactFilter builds equality conditions without regex or glob translation.
func exactFilter(fields map[string]any) query.Filter {
	filter := make(query.Filter, 0, len(fields))
	for path, value := range fields {
		filter = append(filter, query.Condition{Path: path, Op: query.OpEq, Value: value})
	}
	return filter
}

// dataURL builds a /data/ path with a fresh cache-busting prefix on the
// database segment, so handleData never mistakes part of a hyphenated
// database name for the prefix. The path ends in a slash.
func dataURL(database string, segments ...string) string {
	target := "/data/" + util.Nonce() + "-" + url.PathEscape(database) + "/"
	for _, segment := range segments {
		target += url.PathEscape(segment) + "/"
	}
	return target
}
