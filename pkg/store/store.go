// Package store persists the catalog in PostgreSQL and serves the paged read
// side.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrInvalidPage is returned by ListShows for a negative limit or offset.
	ErrInvalidPage = errors.New("invalid page")

	// StoreErrors tracks failed store operations.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvmaze_store_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"operation"}, // "upsert_show", "upsert_cast_member", "link", "list"
	)
)

const schema = `
CREATE TABLE IF NOT EXISTS shows (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cast_members (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	birthday TEXT
);

CREATE TABLE IF NOT EXISTS shows_cast_members (
	show_id        INTEGER NOT NULL REFERENCES shows (id),
	cast_member_id INTEGER NOT NULL REFERENCES cast_members (id),
	PRIMARY KEY (show_id, cast_member_id)
);
`

// Store is a PostgreSQL-backed catalog store.
type Store struct {
	db *pgxpool.Pool
}

// Open connects to PostgreSQL.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool.
func NewStore(db *pgxpool.Pool) *Store {
	if db == nil {
		panic("database pool cannot be nil")
	}
	return &Store{db: db}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertShow inserts a show or refreshes its name.
func (s *Store) UpsertShow(ctx context.Context, id int, name string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO shows (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		id, name)
	if err != nil {
		StoreErrors.WithLabelValues("upsert_show").Inc()
		return fmt.Errorf("upsert show: %w", err)
	}
	return nil
}

// UpsertCastMember inserts a cast member or refreshes its fields.
func (s *Store) UpsertCastMember(ctx context.Context, id int, name string, birthday *string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO cast_members (id, name, birthday) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, birthday = EXCLUDED.birthday`,
		id, name, birthday)
	if err != nil {
		StoreErrors.WithLabelValues("upsert_cast_member").Inc()
		return fmt.Errorf("upsert cast member: %w", err)
	}
	return nil
}

// LinkShowToCast records that a cast member appears in a show.
func (s *Store) LinkShowToCast(ctx context.Context, showID, castMemberID int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO shows_cast_members (show_id, cast_member_id) VALUES ($1, $2)
		 ON CONFLICT (show_id, cast_member_id) DO NOTHING`,
		showID, castMemberID)
	if err != nil {
		StoreErrors.WithLabelValues("link").Inc()
		return fmt.Errorf("link show to cast member: %w", err)
	}
	return nil
}

// ListShows returns up to limit shows ordered by id, skipping offset rows.
// Each cast is ordered by birthday descending, unknown birthdays last.
func (s *Store) ListShows(ctx context.Context, limit, offset int) ([]model.Show, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit=%d offset=%d", ErrInvalidPage, limit, offset)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, name FROM shows ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("query shows: %w", err)
	}
	defer rows.Close()

	var shows []model.Show
	var ids []int32
	index := make(map[int]int)
	for rows.Next() {
		var show model.Show
		if err := rows.Scan(&show.ID, &show.Name); err != nil {
			StoreErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("scan show: %w", err)
		}
		show.Cast = []model.CastMember{}
		index[show.ID] = len(shows)
		ids = append(ids, int32(show.ID))
		shows = append(shows, show)
	}
	if err := rows.Err(); err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("iterate shows: %w", err)
	}

	if len(ids) == 0 {
		return []model.Show{}, nil
	}

	castRows, err := s.db.Query(ctx,
		`SELECT sc.show_id, c.id, c.name, c.birthday
		 FROM shows_cast_members sc
		 JOIN cast_members c ON c.id = sc.cast_member_id
		 WHERE sc.show_id = ANY($1::integer[])
		 ORDER BY sc.show_id, c.birthday DESC NULLS LAST, c.id`,
		ids)
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("query cast: %w", err)
	}
	defer castRows.Close()

	for castRows.Next() {
		var showID int
		var member model.CastMember
		if err := castRows.Scan(&showID, &member.ID, &member.Name, &member.Birthday); err != nil {
			StoreErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("scan cast member: %w", err)
		}
		i := index[showID]
		shows[i].Cast = append(shows[i].Cast, member)
	}
	if err := castRows.Err(); err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("iterate cast: %w", err)
	}

	return shows, nil
}
