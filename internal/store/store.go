package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrEmptyKey = errors.New("empty snapshot key")

// Store keeps named JSON snapshots in Postgres.
type Store struct {
	db DB
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Entry is one key/payload pair for SaveAll.
type Entry struct {
	Key     string
	Payload []byte
}

func New(db DB) *Store {
	return &Store{db: db}
}

const schema = `
create table if not exists snapshots (
  key text primary key,
  payload jsonb not null,
  updated_at timestamptz not null default now()
)`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure snapshots schema: %w", err)
	}
	return nil
}

// Load returns the payload stored under key. ok is false when no row exists.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	var payload []byte
	if err := s.db.QueryRow(ctx, `select payload from snapshots where key = $1`, key).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

const upsert = `
insert into snapshots (key, payload, updated_at)
values ($1, $2, now())
on conflict (key)
do update set
  payload = excluded.payload,
  updated_at = now()`

func (s *Store) Save(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.Exec(ctx, upsert, key, payload)
	return err
}

// SaveAll writes every entry in one transaction.
func (s *Store) SaveAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		if _, err := tx.Exec(ctx, upsert, e.Key, e.Payload); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Keys lists stored snapshot keys in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select key from snapshots order by key asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
