package docstore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore maps collections and ids directly onto Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps a client created from the Firebase app.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", collection, id, err)
	}
	return Doc(snap.Data()), nil
}

func (s *FirestoreStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []Doc{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrap("query", collection, "*", err)
		}
		out = append(out, Doc(snap.Data()))
	}
	return out, nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, doc Doc) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, map[string]interface{}(doc))
	return wrap("set", collection, id, err)
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, fields Doc) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, toUpdates(fields))
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return wrap("update", collection, id, err)
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx)
	return wrap("delete", collection, id, err)
}

func (s *FirestoreStore) Apply(ctx context.Context, writes ...Write) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range writes {
			ref := s.client.Collection(w.Collection).Doc(w.ID)
			var err error
			switch w.Kind {
			case WriteSet:
				err = tx.Set(ref, map[string]interface{}(w.Doc))
			case WriteUpdate:
				err = tx.Update(ref, toUpdates(w.Doc))
			case WriteDelete:
				err = tx.Delete(ref)
			case WriteCreate:
				err = tx.Create(ref, map[string]interface{}(w.Doc))
			default:
				err = errors.New("docstore: unknown write kind")
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrExists
	}
	return wrap("apply", "transaction", "", err)
}

func (s *FirestoreStore) Close(ctx context.Context) error {
	return s.client.Close()
}

func toUpdates(fields Doc) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return updates
}
