// Package docstore is the persisted-document boundary used for roster
// snapshots and the enrichment queue record. It mirrors the
// document-database shape the rest of the system was written against:
// schemaless JSON documents grouped into named collections.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"dzr-backend/lib/timezone"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Document values follow encoding/json conventions: numbers decode to
// float64, nested objects to map[string]any.
type Document = map[string]any

type Store interface {
	// Get returns (nil, nil) when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Query matches a top-level field of the document body against a
	// value using one of ==, !=, >, >=, <, <=.
	Query(ctx context.Context, collection, field, op string, value any) ([]Document, error)
	// Set writes a document wholesale, or shallow-merges into the
	// existing body when merge is true.
	Set(ctx context.Context, collection, id string, doc Document, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	// Latest returns up to n documents ordered by most recent write.
	Latest(ctx context.Context, collection string, n int) ([]Document, error)
}

// Open opens a local sqlite file, or a remote libsql database when
// given a libsql:// url.
func Open(path string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(path, "libsql://") {
		driver = "libsql"
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// see https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		db.SetMaxOpenConns(1)
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			return nil, err
		}
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(db *sql.DB) SqliteStore {
	return SqliteStore{db: db}
}

func (s SqliteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var body string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

var queryOps = map[string]string{
	"==": "=",
	"!=": "!=",
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
}

func (s SqliteStore) Query(ctx context.Context, collection, field, op string, value any) ([]Document, error) {
	sqlOp, ok := queryOps[op]
	if !ok {
		return nil, fmt.Errorf("docstore: unsupported query operator %q", op)
	}

	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf(
			`SELECT body FROM documents
			 WHERE collection = ? AND json_extract(body, '$.' || ?) %s ?`,
			sqlOp,
		),
		collection, field, value,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s SqliteStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if existing != nil {
			for k, v := range doc {
				existing[k] = v
			}
			doc = existing
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO documents (collection, id, body, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, string(body), timezone.Now().UnixNano(),
	)
	return err
}

func (s SqliteStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	return err
}

func (s SqliteStore) Latest(ctx context.Context, collection string, n int) ([]Document, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT body FROM documents
		 WHERE collection = ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		collection, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var body string
		err := rows.Scan(&body)
		if err != nil {
			return nil, err
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func decodeBody(body string) (Document, error) {
	var doc Document
	err := json.Unmarshal([]byte(body), &doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode round-trips a document into a typed struct, since documents
// come back as generic maps.
func Decode[T any](doc Document) (T, error) {
	var out T
	body, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(body, &out)
	return out, err
}

// Encode turns a typed value into a generic document for storage.
func Encode(v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	err = json.Unmarshal(body, &doc)
	return doc, err
}
