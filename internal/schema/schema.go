// Package schema validates documents against JSON Schemas stored in the
// Admin/Schemas collection.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidDocument wraps every validation failure.
var ErrInvalidDocument = errors.New("document does not match schema")

// Source returns the raw schema for a collection. ok is false when the
// collection has no schema.
type Source interface {
	Schema(ctx context.Context, database, collection string) (raw any, ok bool, err error)
}

// Validator compiles schemas on first use and caches them by their text.
type Validator struct {
	source Source

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func NewValidator(source Source) *Validator {
	return &Validator{source: source, cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks doc against the schema of database/collection, if any.
func (v *Validator) Validate(ctx context.Context, database, collection string, doc map[string]any) error {
	raw, ok, err := v.source.Schema(ctx, database, collection)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if !ok {
		return nil
	}
	text, err := schemaText(raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	compiled, err := v.compile(database, collection, text)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(encoded)))
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// Forget drops every cached schema, used after Admin/Schemas changes.
func (v *Validator) Forget() {
	v.mu.Lock()
	v.cache = make(map[string]*jsonschema.Schema)
	v.mu.Unlock()
}

func (v *Validator) compile(database, collection, text string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.cache[text]; ok {
		return compiled, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse schema for %s/%s: %w", database, collection, err)
	}
	location := "https://docgate.local/schemas/" + url.PathEscape(database) + "/" + url.PathEscape(collection) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s/%s: %w", database, collection, err)
	}
	compiled, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s/%s: %w", database, collection, err)
	}
	v.cache[text] = compiled
	return compiled, nil
}

// schemaText accepts a schema stored either as a JSON string or as an
// object.
func schemaText(raw any) (string, error) {
	switch value := raw.(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encode schema: %w", err)
		}
		return string(encoded), nil
	}
}
