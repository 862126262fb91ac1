// Package postgres implements store.DocStore on a single JSONB table.
// Each document row is (collection, doc_id, doc); term and text
// queries use the ->> operator over the JSONB body.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rbaliyan/mailsync/store"
)

const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

const schema = `
CREATE TABLE IF NOT EXISTS mailsync_documents (
	collection TEXT  NOT NULL,
	doc_id     TEXT  NOT NULL,
	doc        JSONB NOT NULL,
	PRIMARY KEY (collection, doc_id)
)`

// Field names are used to build ORDER BY and ->> expressions, so they
// must stay plain identifiers.
var fieldPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store is a PostgreSQL-backed store.DocStore.
type Store struct {
	dsn   string
	db    *sqlx.DB
	state atomic.Int32
}

// New returns a store for the given PostgreSQL DSN.
func New(opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{dsn: o.dsn}
}

// Connect opens the pool and ensures the document table exists.
func (s *Store) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateDisconnected, stateConnecting) {
		return store.ErrAlreadyConnected
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", s.dsn)
	if err != nil {
		s.state.Store(stateDisconnected)
		return fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		s.state.Store(stateDisconnected)
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}

	s.db = db
	s.state.Store(stateConnected)
	return nil
}

// Close closes the pool.
func (s *Store) Close(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateConnected, stateDisconnected) {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.state.Load() != stateConnected {
		return store.ErrNotConnected
	}
	return s.db.PingContext(ctx)
}

func (s *Store) ready() error {
	if s.state.Load() != stateConnected {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) Put(ctx context.Context, collection, id string, doc []byte) error {
	if id == "" {
		return store.ErrInvalidID
	}
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailsync_documents (collection, doc_id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, doc_id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, doc)
	if err != nil {
		return fmt.Errorf("postgres: put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `
		SELECT doc FROM mailsync_documents
		WHERE collection = $1 AND doc_id = $2`,
		collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM mailsync_documents
		WHERE collection = $1 AND doc_id = $2`,
		collection, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, q store.Query) ([][]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT doc FROM mailsync_documents WHERE collection = $1`)
	args := []any{collection}

	for field, val := range q.Terms {
		if !fieldPattern.MatchString(field) {
			return nil, fmt.Errorf("%w: field %q", store.ErrQueryInvalid, field)
		}
		args = append(args, val)
		fmt.Fprintf(&sb, ` AND doc->>'%s' = $%d`, field, len(args))
	}

	if q.Text != "" {
		clauses := make([]string, 0, len(q.TextFields))
		args = append(args, "%"+q.Text+"%")
		n := len(args)
		for _, field := range q.TextFields {
			if !fieldPattern.MatchString(field) {
				return nil, fmt.Errorf("%w: field %q", store.ErrQueryInvalid, field)
			}
			clauses = append(clauses, fmt.Sprintf(`doc->>'%s' ILIKE $%d`, field, n))
		}
		fmt.Fprintf(&sb, ` AND (%s)`, strings.Join(clauses, " OR "))
	}

	if q.SortBy != "" {
		if !fieldPattern.MatchString(q.SortBy) {
			return nil, fmt.Errorf("%w: sort field %q", store.ErrQueryInvalid, q.SortBy)
		}
		dir := "ASC"
		if q.Descending() {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY doc->>'%s' %s`, q.SortBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, ` OFFSET %d`, q.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search %s: %w", collection, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan %s result: %w", collection, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search %s: %w", collection, err)
	}
	return out, nil
}
