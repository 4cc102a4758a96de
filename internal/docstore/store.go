// Package docstore is the document store gateway: a collection/id keyed
// document database with memory, MongoDB, Firestore and PostgreSQL backends.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned by Create when the document already exists.
	ErrExists = errors.New("docstore: document already exists")
)

// Doc is a schemaless document. Values are strings, bools, numbers,
// time.Time, []any and map[string]any after backend normalization.
type Doc map[string]any

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter { return Filter{Field: field, Value: value} }

// WriteKind selects the operation of a Write.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteUpdate
	WriteDelete
	WriteCreate
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	case WriteCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Write is one operation of an atomic batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Doc        Doc
}

// Set replaces (or creates) a document.
func Set(collection, id string, doc Doc) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Doc: doc}
}

// Create writes a document that must not exist yet; the batch fails with
// ErrExists otherwise.
func Create(collection, id string, doc Doc) Write {
	return Write{Kind: WriteCreate, Collection: collection, ID: id, Doc: doc}
}

// Update merges top-level fields into an existing document.
func Update(collection, id string, fields Doc) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Doc: fields}
}

// Delete removes a document. Deleting a missing document is not an error.
func Delete(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

// Store is implemented by every backend. All methods fail with a wrapped
// I/O error on network or permission problems.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	Set(ctx context.Context, collection, id string, doc Doc) error
	Update(ctx context.Context, collection, id string, fields Doc) error
	Delete(ctx context.Context, collection, id string) error
	// Apply performs all writes or none of them.
	Apply(ctx context.Context, writes ...Write) error
	Close(ctx context.Context) error
}

// String returns the string value at key, or "".
func (d Doc) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the bool value at key, or false.
func (d Doc) Bool(key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

// Int returns the numeric value at key as an int. JSON backends decode
// numbers as float64 and Mongo as int32/int64, so all of them are accepted.
func (d Doc) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Time returns the time value at key. RFC 3339 strings (JSON backends) are parsed.
func (d Doc) Time(key string) time.Time {
	t, _ := asTime(d[key])
	return t
}

// TimePtr is Time for optional fields; nil when the field is absent or null.
func (d Doc) TimePtr(key string) *time.Time {
	t, ok := asTime(d[key])
	if !ok {
		return nil
	}
	return &t
}

// List returns the nested documents stored at key.
func (d Doc) List(key string) []Doc {
	raw, ok := d[key].([]any)
	if !ok {
		if docs, ok := d[key].([]Doc); ok {
			return docs
		}
		return nil
	}
	out := make([]Doc, 0, len(raw))
	for _, item := range raw {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Doc(m))
		case Doc:
			out = append(out, m)
		}
	}
	return out
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

// Clone deep-copies d so callers never share nested maps or slices with a backend.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Doc(t).Clone())
	case Doc:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []Doc:
		out := make([]any, len(t))
		for i := range t {
			out[i] = map[string]any(t[i].Clone())
		}
		return out
	default:
		return v
	}
}

func wrap(op, collection, id string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
		return err
	}
	return fmt.Errorf("docstore %s %s/%s: %w", op, collection, id, err)
}
