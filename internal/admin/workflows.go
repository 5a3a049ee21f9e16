// Package admin edits the permission, role and schema tables in the Admin
// database. Every setter upserts the entry keyed by its identifying fields,
// or deletes it when given Clear.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"sort"
	"strings"

	"docgate/api/internal/client"
	"docgate/api/internal/query"
	"docgate/api/internal/rbac"
)

// Clear removes an entry instead of setting it.
const Clear = ""

// Opener opens access-scoped sessions. *client.Client implements it.
type Opener interface {
	Open(ctx context.Context, database, collection, mode string) (*client.Session, error)
}

type Workflows struct {
	opener Opener
}

func New(opener Opener) *Workflows {
	return &Workflows{opener: opener}
}

// SetPermission sets the mode a role gets on a collection. Collection "*"
// sets database-level access.
func (w *Workflows) SetPermission(ctx context.Context, database, collection string, role rbac.Role, mode string) error {
	key := query.Query{"database": database, "collection": collection, "role": string(role)}
	return w.apply(ctx, rbac.AccessModes, key, "permission", mode, mode == Clear)
}

// SetRole assigns a role to a user through AccessUsers.
func (w *Workflows) SetRole(ctx context.Context, user string, role rbac.Role) error {
	return w.apply(ctx, rbac.AccessUsers, query.Query{"user": user}, "role", string(role), role == Clear)
}

// SetDeveloper assigns a role through Developers. Only the configured
// superuser is granted access to that collection.
func (w *Workflows) SetDeveloper(ctx context.Context, user string, role rbac.Role) error {
	return w.apply(ctx, rbac.Developers, query.Query{"user": user}, "role", string(role), role == Clear)
}

// SetSchema stores the JSON Schema documents of a collection must satisfy.
// A nil schema removes it.
func (w *Workflows) SetSchema(ctx context.Context, database, collection string, schema json.RawMessage) error {
	key := query.Query{"database": database, "collection": collection}
	if schema == nil {
		return w.apply(ctx, rbac.Schemas, key, "schema", nil, true)
	}
	if !json.Valid(schema) {
		return fmt.Errorf("schema for %s/%s is not valid JSON", database, collection)
	}
	return w.apply(ctx, rbac.Schemas, key, "schema", string(schema), false)
}

func (w *Workflows) apply(ctx context.Context, collection string, key query.Query, field string, value any, clear bool) error {
	session, err := w.opener.Open(ctx, rbac.AdminDatabase, collection, "crud")
	if err != nil {
		return err
	}
	if clear {
		_, err := client.DeleteOne(ctx, session, literal(key), true)
		if errors.Is(err, client.ErrNotFound) {
			log.Printf("admin: nothing to clear in %s for %v", collection, map[string]any(key))
			return nil
		}
		return err
	}
	fields := maps.Clone(map[string]any(key))
	fields[field] = value
	_, err = client.UpsertOne(ctx, session, literal(key), fields, true)
	return err
}

// literal wraps key values that the server would read as a glob or regular
// expression, such as collection "*", in an $eq operator.
func literal(key query.Query) query.Query {
	out := make(query.Query, len(key))
	for name, value := range key {
		if text, ok := value.(string); ok && strings.ContainsAny(text, "*?/") {
			out[name] = map[string]any{"$eq": text}
			continue
		}
		out[name] = value
	}
	return out
}

// Permissions returns the AccessModes of a database as collection -> role
// -> mode.
func (w *Workflows) Permissions(ctx context.Context, database string) (map[string]map[rbac.Role]string, error) {
	session, err := w.opener.Open(ctx, rbac.AdminDatabase, rbac.AccessModes, "r")
	if err != nil {
		return nil, err
	}
	items, err := session.FetchMany(ctx, literal(query.Query{"database": database}))
	if err != nil {
		return nil, err
	}
	table := map[string]map[rbac.Role]string{}
	for _, item := range items {
		collection, _ := item["collection"].(string)
		role, _ := item["role"].(string)
		mode, _ := item["permission"].(string)
		if table[collection] == nil {
			table[collection] = map[rbac.Role]string{}
		}
		table[collection][rbac.Role(role)] = mode
	}
	return table, nil
}

// Collections lists the collections of a database.
func (w *Workflows) Collections(ctx context.Context, database string) ([]string, error) {
	session, err := w.opener.Open(ctx, database, rbac.AllCollections, "r")
	if err != nil {
		return nil, err
	}
	names, err := session.Collections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
