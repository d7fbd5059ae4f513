package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TextIndexTable is the FTS5 table holding post content.
const TextIndexTable = "posts_fts"

func Migrate(ctx context.Context, db *sql.DB) error {
	ddls := []string{
		`create table if not exists posts (
			id             text    not null primary key,
			author_id      text    not null,
			type           integer not null,
			audience       integer not null,
			content        text    not null,
			content_folded text    not null,
			parent_id      text    not null default '',
			hashtags       text    not null,
			mentions       text    not null,
			guest_views    integer not null default 0,
			user_views     integer not null default 0,
			created_at     integer,
			updated_at     integer
		) strict;`,
		`create index if not exists idx_posts_created_at
			on posts (created_at desc);`,
		`create index if not exists idx_posts_author_id
			on posts (author_id, created_at desc);`,
		`create index if not exists idx_posts_parent_id
			on posts (parent_id, type);`,

		`create table if not exists post_media (
			post_id text    not null,
			seq     integer not null,
			type    integer not null,
			url     text    not null,
			constraint pk_post_media
				primary key (post_id, seq)
		) without rowid, strict;`,
		`create index if not exists idx_post_media_type
			on post_media (type, post_id);`,

		`create table if not exists users (
			id              text not null primary key,
			name            text not null,
			username        text not null,
			name_folded     text not null,
			username_folded text not null,
			avatar          text not null,
			circle          text not null,
			created_at      integer
		) strict;`,
		`create index if not exists idx_users_username
			on users (username, id);`,

		`create table if not exists follows (
			follower_id text not null,
			followed_id text not null,
			constraint pk_follows
				primary key (follower_id, followed_id)
		) without rowid, strict;`,

		`create table if not exists likes (
			post_id text not null,
			user_id text not null,
			constraint pk_likes
				primary key (post_id, user_id)
		) without rowid, strict;`,

		`create table if not exists bookmarks (
			post_id text not null,
			user_id text not null,
			constraint pk_bookmarks
				primary key (post_id, user_id)
		) without rowid, strict;`,
	}

	for _, ddl := range ddls {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to execute ddl: %w", err)
		}
	}

	return nil
}

func SetPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		`pragma journal_mode = wal;`,
		`pragma busy_timeout = 5000;`,
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	return nil
}

// EnsureTextIndex creates the FTS5 table over posts.content with its sync
// triggers and fills it from the existing posts.
func EnsureTextIndex(ctx context.Context, db *sql.DB) error {
	ddls := []string{
		`create virtual table if not exists posts_fts using fts5 (
			content,
			content = 'posts',
			content_rowid = 'rowid'
		);`,
		`create trigger if not exists posts_fts_insert after insert on posts begin
			insert into posts_fts (rowid, content) values (new.rowid, new.content);
		end;`,
		`create trigger if not exists posts_fts_delete after delete on posts begin
			insert into posts_fts (posts_fts, rowid, content) values ('delete', old.rowid, old.content);
		end;`,
		`create trigger if not exists posts_fts_update after update of content on posts begin
			insert into posts_fts (posts_fts, rowid, content) values ('delete', old.rowid, old.content);
			insert into posts_fts (rowid, content) values (new.rowid, new.content);
		end;`,
		`insert into posts_fts (posts_fts) values ('rebuild');`,
	}

	return execInTx(ctx, db, ddls)
}

// DropTextIndex removes the FTS5 table and its triggers.
func DropTextIndex(ctx context.Context, db *sql.DB) error {
	ddls := []string{
		`drop trigger if exists posts_fts_insert;`,
		`drop trigger if exists posts_fts_delete;`,
		`drop trigger if exists posts_fts_update;`,
		`drop table if exists posts_fts;`,
	}

	return execInTx(ctx, db, ddls)
}

func execInTx(ctx context.Context, db *sql.DB, stmts []string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
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

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	return nil
}
