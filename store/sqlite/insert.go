package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/high-moctane/feedsearch"
)

// PutPost inserts or replaces a post with its media.
func (s *Store) PutPost(ctx context.Context, post *feedsearch.Post) error {
	if post == nil {
		return nil
	}

	postQuery, postArgs, err := buildUpsertPost(post)
	if err != nil {
		return fmt.Errorf("failed to build post query: %w", err)
	}

	deleteMediaQuery, deleteMediaArgs, err := sqlite3.
		Delete(tMedia).
		Where(cMediaPostID.Eq(post.ID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build media query: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, postQuery, postArgs...); err != nil {
			return fmt.Errorf("failed to upsert post: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteMediaQuery, deleteMediaArgs...); err != nil {
			return fmt.Errorf("failed to delete media: %w", err)
		}
		if len(post.Medias) == 0 {
			return nil
		}

		rows := make([]any, len(post.Medias))
		for i, m := range post.Medias {
			rows[i] = goqu.Record{"post_id": post.ID, "seq": i, "type": int(m.Type), "url": m.URL}
		}
		q, args, err := sqlite3.Insert(tMedia).Rows(rows...).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build media query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to insert media: %w", err)
		}
		return nil
	})
}

// buildUpsertPost updates in place on conflict so the row keeps its rowid
// and the text index triggers see an update.
func buildUpsertPost(post *feedsearch.Post) (string, []any, error) {
	hashtags, err := json.Marshal(post.Hashtags)
	if err != nil {
		return "", nil, err
	}
	mentions, err := json.Marshal(post.Mentions)
	if err != nil {
		return "", nil, err
	}

	record := goqu.Record{
		"id":             post.ID,
		"author_id":      post.AuthorID,
		"type":           int(post.Type),
		"audience":       int(post.Audience),
		"content":        post.Content,
		"content_folded": fold(post.Content),
		"parent_id":      post.ParentID,
		"hashtags":       string(hashtags),
		"mentions":       string(mentions),
		"guest_views":    post.GuestViews,
		"user_views":     post.UserViews,
		"created_at":     toNanos(post.CreatedAt),
		"updated_at":     toNanos(post.UpdatedAt),
	}

	update := goqu.Record{}
	for k := range record {
		if k != "id" {
			update[k] = goqu.I("excluded." + k)
		}
	}

	return sqlite3.
		Insert(tPosts).
		Rows(record).
		OnConflict(goqu.DoUpdate("id", update)).
		Prepared(true).
		ToSQL()
}

// DeletePost removes a post with its media, likes and bookmarks.  Child
// posts are kept.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	var stmts []struct {
		q    string
		args []any
	}
	for _, t := range []struct {
		table  string
		column string
	}{
		{"posts", "id"},
		{"post_media", "post_id"},
		{"likes", "post_id"},
		{"bookmarks", "post_id"},
	} {
		q, args, err := sqlite3.
			Delete(t.table).
			Where(goqu.C(t.column).Eq(id)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build delete query: %w", err)
		}
		stmts = append(stmts, struct {
			q    string
			args []any
		}{q, args})
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
				return fmt.Errorf("failed to delete post: %w", err)
			}
		}
		return nil
	})
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(ctx context.Context, user *feedsearch.User) error {
	circle, err := json.Marshal(user.Circle)
	if err != nil {
		return fmt.Errorf("failed to marshal circle: %w", err)
	}

	q, args, err := sqlite3.
		Insert(tUsers).
		Rows(goqu.Record{
			"id":              user.ID,
			"name":            user.Name,
			"username":        user.Username,
			"name_folded":     fold(user.Name),
			"username_folded": fold(user.Username),
			"avatar":          user.Avatar,
			"circle":          string(circle),
			"created_at":      toNanos(user.CreatedAt),
		}).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"name":            goqu.I("excluded.name"),
			"username":        goqu.I("excluded.username"),
			"name_folded":     goqu.I("excluded.name_folded"),
			"username_folded": goqu.I("excluded.username_folded"),
			"avatar":          goqu.I("excluded.avatar"),
			"circle":          goqu.I("excluded.circle"),
			"created_at":      goqu.I("excluded.created_at"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *Store) Follow(ctx context.Context, follower, followed string) error {
	return s.insertEdge(ctx, "follows", goqu.Record{"follower_id": follower, "followed_id": followed})
}

func (s *Store) Unfollow(ctx context.Context, follower, followed string) error {
	q, args, err := sqlite3.
		Delete(tFollows).
		Where(cFollowsFollower.Eq(follower), cFollowsFollowed.Eq(followed)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to unfollow: %w", err)
	}
	return nil
}

func (s *Store) Like(ctx context.Context, userID, postID string) error {
	return s.insertEdge(ctx, "likes", goqu.Record{"post_id": postID, "user_id": userID})
}

func (s *Store) Bookmark(ctx context.Context, userID, postID string) error {
	return s.insertEdge(ctx, "bookmarks", goqu.Record{"post_id": postID, "user_id": userID})
}

func (s *Store) insertEdge(ctx context.Context, table string, record goqu.Record) error {
	q, args, err := sqlite3.
		Insert(table).
		Rows(record).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}
