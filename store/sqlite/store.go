package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/high-moctane/feedsearch"
)

// DriverName is the database/sql driver the store is tested with
// (modernc.org/sqlite).
const DriverName = "sqlite"

var (
	_ feedsearch.PostStore   = (*Store)(nil)
	_ feedsearch.FollowStore = (*Store)(nil)
)

var sqlite3 = goqu.Dialect("sqlite3")

type StoreOption struct {
	// TextIndex creates the FTS5 text index on open.
	TextIndex bool
	// OnIndexChanged is called after Store.EnsureTextIndex or
	// Store.DropTextIndex succeeds.
	OnIndexChanged func()

	Logger *slog.Logger
}

// Store is a feedsearch.PostStore on SQLite.  Its text index is an FTS5
// table that can be created and dropped at runtime; the search core finds
// it through Indexes.
type Store struct {
	db  *sql.DB
	opt StoreOption
}

func NewStore(ctx context.Context, db *sql.DB, opt *StoreOption) (*Store, error) {
	if err := SetPragmas(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	var option StoreOption
	if opt != nil {
		option = *opt
	}

	if option.TextIndex {
		if err := EnsureTextIndex(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to create text index: %w", err)
		}
	}

	return &Store{db: db, opt: option}, nil
}

// EnsureTextIndex creates or refills the FTS5 text index.
func (s *Store) EnsureTextIndex(ctx context.Context) error {
	if err := EnsureTextIndex(ctx, s.db); err != nil {
		return err
	}
	s.indexChanged()
	return nil
}

// DropTextIndex removes the FTS5 text index.  Posts stay searchable by
// substring match.
func (s *Store) DropTextIndex(ctx context.Context) error {
	if err := DropTextIndex(ctx, s.db); err != nil {
		return err
	}
	s.indexChanged()
	return nil
}

func (s *Store) indexChanged() {
	if s.opt.OnIndexChanged != nil {
		s.opt.OnIndexChanged()
	}
}

// IncrementViews implements feedsearch.ContentStore.IncrementViews.
func (s *Store) IncrementViews(ctx context.Context, postID string, kind feedsearch.ViewKind, at time.Time) error {
	col := "guest_views"
	if kind == feedsearch.ViewUser {
		col = "user_views"
	}

	q, args, err := sqlite3.
		Update(tPosts).
		Set(goqu.Record{
			col:          goqu.L("? + 1", goqu.C(col)),
			"updated_at": toNanos(at),
		}).
		Where(cPostID.Eq(postID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	return nil
}

func toNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}

func fold(s string) string {
	return strings.ToLower(s)
}
