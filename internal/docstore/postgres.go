package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(64) NOT NULL,
	id VARCHAR(255) NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps every collection in one jsonb table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the documents table if needed.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	for _, q := range []string{postgresSchema, postgresIndex} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return nil, wrap("init", "documents", "", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", collection, id, err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, wrap("get", collection, id, err)
	}
	return doc, nil
}

// Query uses jsonb containment, so filters are matched with their JSON types.
func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	contains, err := json.Marshal(match)
	if err != nil {
		return nil, wrap("query", collection, "*", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY created_at, id`,
		collection, string(contains),
	)
	if err != nil {
		return nil, wrap("query", collection, "*", err)
	}
	defer rows.Close()

	out := []Doc{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, wrap("query", collection, "*", err)
		}
		var doc Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", collection, "*", err)
	}
	return out, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Doc) error {
	return setRow(ctx, s.db, collection, id, doc)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Doc) error {
	return updateRow(ctx, s.db, collection, id, fields)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return deleteRow(ctx, s.db, collection, id)
}

func (s *PostgresStore) Apply(ctx context.Context, writes ...Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("apply", "documents", "", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		switch w.Kind {
		case WriteSet:
			err = setRow(ctx, tx, w.Collection, w.ID, w.Doc)
		case WriteUpdate:
			err = updateRow(ctx, tx, w.Collection, w.ID, w.Doc)
		case WriteDelete:
			err = deleteRow(ctx, tx, w.Collection, w.ID)
		case WriteCreate:
			err = insertRow(ctx, tx, w.Collection, w.ID, w.Doc)
		default:
			err = errors.New("docstore: unknown write kind")
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return wrap("apply", "documents", "", err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func setRow(ctx context.Context, db execer, collection, id string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return wrap("set", collection, id, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, collection, id, string(raw))
	return wrap("set", collection, id, err)
}

func insertRow(ctx context.Context, db execer, collection, id string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return wrap("create", collection, id, err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, string(raw))
	if err != nil {
		return wrap("create", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("create", collection, id, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func updateRow(ctx context.Context, db execer, collection, id string, fields Doc) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return wrap("update", collection, id, err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(raw))
	if err != nil {
		return wrap("update", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func deleteRow(ctx context.Context, db execer, collection, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return wrap("delete", collection, id, err)
}
