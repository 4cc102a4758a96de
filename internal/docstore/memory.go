package docstore

import (
	"context"
	"reflect"
	"sync"
)

type memCollection struct {
	docs  map[string]Doc
	order []string
}

// MemoryStore keeps documents in process. Query returns documents in insertion order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]Doc)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []Doc{}, nil
	}
	out := make([]Doc, 0, len(c.order))
	for _, id := range c.order {
		doc := c.docs[id]
		if matches(doc, filters) {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func matches(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		if !reflect.DeepEqual(doc[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc Doc) error {
	return s.Apply(ctx, Set(collection, id, doc))
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Doc) error {
	return s.Apply(ctx, Update(collection, id, fields))
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.Apply(ctx, Delete(collection, id))
}

// Apply validates every write before touching state, so a missing document
// in an update leaves the store unchanged.
func (s *MemoryStore) Apply(ctx context.Context, writes ...Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Existence as seen by each write, including earlier writes of the batch.
	exists := make(map[string]bool)
	for _, w := range writes {
		key := w.Collection + "/" + w.ID
		switch w.Kind {
		case WriteSet:
			exists[key] = true
		case WriteCreate:
			present, seen := exists[key]
			if !seen {
				if c, ok := s.collections[w.Collection]; ok {
					_, present = c.docs[w.ID]
				}
			}
			if present {
				return ErrExists
			}
			exists[key] = true
		case WriteDelete:
			exists[key] = false
		case WriteUpdate:
			present, seen := exists[key]
			if !seen {
				if c, ok := s.collections[w.Collection]; ok {
					_, present = c.docs[w.ID]
				}
			}
			if !present {
				return ErrNotFound
			}
		}
	}

	for _, w := range writes {
		c := s.collection(w.Collection)
		switch w.Kind {
		case WriteSet, WriteCreate:
			if _, exists := c.docs[w.ID]; !exists {
				c.order = append(c.order, w.ID)
			}
			c.docs[w.ID] = w.Doc.Clone()
		case WriteUpdate:
			doc := c.docs[w.ID]
			for k, v := range w.Doc {
				doc[k] = cloneValue(v)
			}
		case WriteDelete:
			if _, exists := c.docs[w.ID]; !exists {
				continue
			}
			delete(c.docs, w.ID)
			for i, id := range c.order {
				if id == w.ID {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Len returns the number of documents in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[collection]; ok {
		return len(c.docs)
	}
	return 0
}
