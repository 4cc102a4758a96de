package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore maps collections to MongoDB collections and ids to _id.
// Apply needs a replica set (transactions).
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore wraps an already connected database.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{client: client, db: db}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", collection, id, err)
	}
	return fromBSON(raw), nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	filter := bson.M{}
	for _, f := range filters {
		filter[f.Field] = f.Value
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap("query", collection, "*", err)
	}
	defer cur.Close(ctx)

	out := []Doc{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			continue
		}
		out = append(out, fromBSON(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, wrap("query", collection, "*", err)
	}
	return out, nil
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, doc Doc) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, toBSON(id, doc), options.Replace().SetUpsert(true))
	return wrap("set", collection, id, err)
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields Doc) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return wrap("update", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return wrap("delete", collection, id, err)
}

func (s *MongoStore) Apply(ctx context.Context, writes ...Write) error {
	if len(writes) == 1 {
		return s.applyOne(ctx, writes[0])
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return wrap("apply", "session", "", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, w := range writes {
			if err := s.applyOne(sc, w); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if errors.Is(err, ErrExists) {
		return ErrExists
	}
	return err
}

func (s *MongoStore) applyOne(ctx context.Context, w Write) error {
	switch w.Kind {
	case WriteSet:
		return s.Set(ctx, w.Collection, w.ID, w.Doc)
	case WriteUpdate:
		return s.Update(ctx, w.Collection, w.ID, w.Doc)
	case WriteDelete:
		return s.Delete(ctx, w.Collection, w.ID)
	case WriteCreate:
		_, err := s.db.Collection(w.Collection).InsertOne(ctx, toBSON(w.ID, w.Doc))
		if mongo.IsDuplicateKeyError(err) {
			return ErrExists
		}
		return wrap("create", w.Collection, w.ID, err)
	default:
		return errors.New("docstore: unknown write kind")
	}
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toBSON(id string, doc Doc) bson.M {
	out := bson.M{"_id": id}
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func fromBSON(raw bson.M) Doc {
	out := make(Doc, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		out[k] = normalizeBSON(v)
	}
	return out
}

// normalizeBSON converts driver-specific types to the plain values Doc promises.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeBSON(t[i])
		}
		return out
	case bson.M:
		return map[string]any(fromBSONNested(t))
	case primitive.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return map[string]any(fromBSONNested(m))
	case int32:
		return int64(t)
	default:
		return v
	}
}

func fromBSONNested(raw bson.M) Doc {
	out := make(Doc, len(raw))
	for k, v := range raw {
		out[k] = normalizeBSON(v)
	}
	return out
}
