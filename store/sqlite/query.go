package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/high-moctane/feedsearch"
	"github.com/samber/lo"
)

// mediaChunkSize bounds the number of bound parameters per IN list.
const mediaChunkSize = 500

var (
	tPosts          = goqu.T("posts")
	cPostID         = tPosts.Col("id")
	cPostAuthorID   = tPosts.Col("author_id")
	cPostType       = tPosts.Col("type")
	cPostAudience   = tPosts.Col("audience")
	cPostContent    = tPosts.Col("content")
	cPostFolded     = tPosts.Col("content_folded")
	cPostParentID   = tPosts.Col("parent_id")
	cPostHashtags   = tPosts.Col("hashtags")
	cPostMentions   = tPosts.Col("mentions")
	cPostGuestViews = tPosts.Col("guest_views")
	cPostUserViews  = tPosts.Col("user_views")
	cPostCreatedAt  = tPosts.Col("created_at")
	cPostUpdatedAt  = tPosts.Col("updated_at")

	tMedia       = goqu.T("post_media")
	cMediaPostID = tMedia.Col("post_id")
	cMediaSeq    = tMedia.Col("seq")
	cMediaType   = tMedia.Col("type")
	cMediaURL    = tMedia.Col("url")

	tUsers          = goqu.T("users")
	cUserID         = tUsers.Col("id")
	cUserName       = tUsers.Col("name")
	cUserUsername   = tUsers.Col("username")
	cUserNameFolded = tUsers.Col("name_folded")
	cUserUserFolded = tUsers.Col("username_folded")
	cUserAvatar     = tUsers.Col("avatar")
	cUserCircle     = tUsers.Col("circle")
	cUserCreatedAt  = tUsers.Col("created_at")

	tFollows         = goqu.T("follows")
	cFollowsFollower = tFollows.Col("follower_id")
	cFollowsFollowed = tFollows.Col("followed_id")

	tLikes     = goqu.T("likes")
	tBookmarks = goqu.T("bookmarks")
	tFTS       = goqu.T(TextIndexTable)

	postColumns = []any{
		cPostID, cPostAuthorID, cPostType, cPostAudience, cPostContent, cPostParentID,
		cPostHashtags, cPostMentions, cPostGuestViews, cPostUserViews, cPostCreatedAt, cPostUpdatedAt,
	}
	userColumns = []any{cUserID, cUserName, cUserUsername, cUserAvatar, cUserCircle, cUserCreatedAt}
)

// MatchPosts implements feedsearch.ContentStore.MatchPosts.
func (s *Store) MatchPosts(ctx context.Context, plan *feedsearch.Plan) ([]*feedsearch.Match, error) {
	if plan.Strategy == feedsearch.StrategyTextIndexed {
		ok, err := s.hasTextIndex(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			warnLog(ctx, s.opt.Logger, "text search without a text index", "table", TextIndexTable)
			return nil, feedsearch.ErrTextIndexUnavailable
		}
	}

	q, args, empty, err := buildMatchQuery(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	if empty {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts with (%s, %v): %w", q, args, err)
	}
	defer rows.Close()

	var matches []*feedsearch.Match
	for rows.Next() {
		var m feedsearch.Match
		m.Post, err = scanPost(rows, &m.Score)
		if err != nil {
			return nil, err
		}
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	rows.Close()

	posts := lo.Map(matches, func(m *feedsearch.Match, _ int) *feedsearch.Post { return m.Post })
	if err := s.loadMedia(ctx, posts); err != nil {
		return nil, err
	}

	return matches, nil
}

// buildMatchQuery returns empty when the plan can match nothing.
func buildMatchQuery(plan *feedsearch.Plan) (query string, args []any, empty bool, err error) {
	score := goqu.L("0.0")
	if plan.Strategy == feedsearch.StrategyTextIndexed {
		score = goqu.L("-bm25(" + TextIndexTable + ")")
	}

	b := sqlite3.
		From(tPosts).
		Select(append(postColumns, score.As("score"))...)

	switch plan.Strategy {
	case feedsearch.StrategyTextIndexed:
		b = b.
			Join(tFTS, goqu.On(goqu.L(TextIndexTable+".rowid = posts.rowid"))).
			Where(goqu.L(TextIndexTable+" match ?", ftsMatchExpr(plan.Text)))

	case feedsearch.StrategyRegexFallback:
		for _, term := range plan.Terms {
			b = b.Where(goqu.L("instr(?, ?) > 0", cPostFolded, fold(term)))
		}
	}

	if plan.MediaTypes != nil {
		if len(plan.MediaTypes) == 0 {
			return "", nil, true, nil
		}
		b = b.Where(goqu.L("exists ?",
			sqlite3.
				Select(goqu.L("1")).
				From(tMedia).
				Where(cMediaPostID.Eq(cPostID)).
				Where(cMediaType.In(lo.Map(plan.MediaTypes, func(t feedsearch.MediaType, _ int) int { return int(t) }))),
		))
	}

	if plan.Authors != nil {
		if len(plan.Authors) == 0 {
			return "", nil, true, nil
		}
		b = b.Where(cPostAuthorID.In(plan.Authors))
	}

	query, args, err = b.Prepared(true).ToSQL()
	return query, args, false, err
}

// ftsMatchExpr quotes every whitespace separated term so FTS5 syntax in
// user input is taken literally.  Any term may match.
func ftsMatchExpr(text string) string {
	terms := strings.Fields(text)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " OR ")
}

func (s *Store) hasTextIndex(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"select name from sqlite_master where type = 'table' and name = ?", TextIndexTable,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up text index: %w", err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanPost scans postColumns followed by any extra destinations.
func scanPost(row scanner, extra ...any) (*feedsearch.Post, error) {
	var (
		p                  feedsearch.Post
		hashtags, mentions string
		createdAt          sql.NullInt64
		updatedAt          sql.NullInt64
	)

	dest := append([]any{
		&p.ID, &p.AuthorID, &p.Type, &p.Audience, &p.Content, &p.ParentID,
		&hashtags, &mentions, &p.GuestViews, &p.UserViews, &createdAt, &updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}

	if err := json.Unmarshal([]byte(hashtags), &p.Hashtags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hashtags: %w", err)
	}
	if err := json.Unmarshal([]byte(mentions), &p.Mentions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mentions: %w", err)
	}
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)

	return &p, nil
}

// loadMedia fills Medias of every post.
func (s *Store) loadMedia(ctx context.Context, posts []*feedsearch.Post) error {
	byID := lo.KeyBy(posts, func(p *feedsearch.Post) string { return p.ID })

	for _, chunk := range lo.Chunk(lo.Keys(byID), mediaChunkSize) {
		q, args, err := sqlite3.
			From(tMedia).
			Select(cMediaPostID, cMediaType, cMediaURL).
			Where(cMediaPostID.In(chunk)).
			Order(cMediaPostID.Asc(), cMediaSeq.Asc()).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}

		if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
			var (
				postID string
				m      feedsearch.Media
			)
			if err := rows.Scan(&postID, &m.Type, &m.URL); err != nil {
				return fmt.Errorf("failed to scan media: %w", err)
			}
			p := byID[postID]
			p.Medias = append(p.Medias, m)
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) eachRow(ctx context.Context, q string, args []any, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to query with (%s, %v): %w", q, args, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Posts implements feedsearch.PostStore.Posts.
func (s *Store) Posts(ctx context.Context, ids []string) (map[string]*feedsearch.Post, error) {
	res := make(map[string]*feedsearch.Post, len(ids))

	for _, chunk := range lo.Chunk(lo.Uniq(ids), mediaChunkSize) {
		q, args, err := sqlite3.
			From(tPosts).
			Select(postColumns...).
			Where(cPostID.In(chunk)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}

		if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
			p, err := scanPost(rows)
			if err != nil {
				return err
			}
			res[p.ID] = p
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := s.loadMedia(ctx, lo.Values(res)); err != nil {
		return nil, err
	}
	return res, nil
}

// ScanPosts implements feedsearch.PostStore.ScanPosts.  Posts are read in
// id order, one chunk at a time.
func (s *Store) ScanPosts(ctx context.Context, fn func(*feedsearch.Post) error) error {
	after := ""
	for {
		q, args, err := sqlite3.
			From(tPosts).
			Select(postColumns...).
			Where(cPostID.Gt(after)).
			Order(cPostID.Asc()).
			Limit(mediaChunkSize).
			Prepared(true).
			ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}

		var posts []*feedsearch.Post
		if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
			p, err := scanPost(rows)
			if err != nil {
				return err
			}
			posts = append(posts, p)
			return nil
		}); err != nil {
			return err
		}
		if len(posts) == 0 {
			return nil
		}

		if err := s.loadMedia(ctx, posts); err != nil {
			return err
		}
		for _, p := range posts {
			if err := fn(p); err != nil {
				return err
			}
		}
		after = posts[len(posts)-1].ID
	}
}

// Users implements feedsearch.ContentStore.Users.
func (s *Store) Users(ctx context.Context, ids []string) (map[string]*feedsearch.User, error) {
	res := make(map[string]*feedsearch.User, len(ids))

	for _, chunk := range lo.Chunk(lo.Uniq(ids), mediaChunkSize) {
		q, args, err := sqlite3.
			From(tUsers).
			Select(userColumns...).
			Where(cUserID.In(chunk)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}

		if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			res[u.ID] = u
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// MatchUsers implements feedsearch.ContentStore.MatchUsers.
func (s *Store) MatchUsers(ctx context.Context, terms []string) ([]*feedsearch.User, error) {
	b := sqlite3.
		From(tUsers).
		Select(userColumns...).
		Order(cUserUsername.Asc(), cUserID.Asc())

	for _, term := range terms {
		t := fold(term)
		b = b.Where(goqu.Or(
			goqu.L("instr(?, ?) > 0", cUserNameFolded, t),
			goqu.L("instr(?, ?) > 0", cUserUserFolded, t),
		))
	}

	q, args, err := b.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var res []*feedsearch.User
	if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
		u, err := scanUser(rows)
		if err != nil {
			return err
		}
		res = append(res, u)
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func scanUser(row scanner) (*feedsearch.User, error) {
	var (
		u         feedsearch.User
		circle    string
		createdAt sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Avatar, &circle, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(circle), &u.Circle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal circle: %w", err)
	}
	u.CreatedAt = fromNanos(createdAt)
	return &u, nil
}

// Engagement implements feedsearch.ContentStore.Engagement.
func (s *Store) Engagement(ctx context.Context, postIDs []string) (map[string]feedsearch.Engagement, error) {
	res := make(map[string]feedsearch.Engagement, len(postIDs))
	for _, id := range postIDs {
		res[id] = feedsearch.Engagement{}
	}

	for _, chunk := range lo.Chunk(lo.Uniq(postIDs), mediaChunkSize) {
		for _, t := range []struct {
			table exp.IdentifierExpression
			add   func(e *feedsearch.Engagement, n int64)
		}{
			{tLikes, func(e *feedsearch.Engagement, n int64) { e.Likes = n }},
			{tBookmarks, func(e *feedsearch.Engagement, n int64) { e.Bookmarks = n }},
		} {
			postID := t.table.Col("post_id")
			q, args, err := sqlite3.
				From(t.table).
				Select(postID, goqu.COUNT(goqu.Star())).
				Where(postID.In(chunk)).
				GroupBy(postID).
				Prepared(true).
				ToSQL()
			if err != nil {
				return nil, fmt.Errorf("failed to build query: %w", err)
			}

			if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
				var (
					id string
					n  int64
				)
				if err := rows.Scan(&id, &n); err != nil {
					return fmt.Errorf("failed to scan count: %w", err)
				}
				e := res[id]
				t.add(&e, n)
				res[id] = e
				return nil
			}); err != nil {
				return nil, err
			}
		}

		q, args, err := sqlite3.
			From(tPosts).
			Select(cPostParentID, cPostType, goqu.COUNT(goqu.Star())).
			Where(cPostParentID.In(chunk)).
			GroupBy(cPostParentID, cPostType).
			Prepared(true).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}

		if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
			var (
				parentID string
				typ      feedsearch.PostType
				n        int64
			)
			if err := rows.Scan(&parentID, &typ, &n); err != nil {
				return fmt.Errorf("failed to scan count: %w", err)
			}
			e := res[parentID]
			switch typ {
			case feedsearch.PostTypeComment:
				e.Replies = n
			case feedsearch.PostTypeRetweet:
				e.Retweets = n
			case feedsearch.PostTypeQuote:
				e.Quotes = n
			}
			res[parentID] = e
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// Following implements feedsearch.FollowStore.Following.
func (s *Store) Following(ctx context.Context, followerID string) ([]string, error) {
	q, args, err := sqlite3.
		From(tFollows).
		Select(cFollowsFollowed).
		Where(cFollowsFollower.Eq(followerID)).
		Order(cFollowsFollowed.Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	res := []string{}
	if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan follow: %w", err)
		}
		res = append(res, id)
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Indexes implements feedsearch.ContentStore.Indexes by reading
// sqlite_master.  An FTS5 table over posts is reported as a text index.
func (s *Store) Indexes(ctx context.Context) ([]feedsearch.IndexInfo, error) {
	q, args, err := sqlite3.
		From("sqlite_master").
		Select("name", "type", goqu.L("coalesce(sql, '')")).
		Where(goqu.Or(
			goqu.And(goqu.C("type").Eq("index"), goqu.C("tbl_name").Eq("posts")),
			goqu.And(goqu.C("type").Eq("table"), goqu.C("name").Eq(TextIndexTable)),
		)).
		Order(goqu.C("name").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	type entry struct{ name, typ, sql string }
	var entries []entry
	if err := s.eachRow(ctx, q, args, func(rows *sql.Rows) error {
		var e entry
		if err := rows.Scan(&e.name, &e.typ, &e.sql); err != nil {
			return fmt.Errorf("failed to scan sqlite_master: %w", err)
		}
		entries = append(entries, e)
		return nil
	}); err != nil {
		return nil, err
	}

	infos := make([]feedsearch.IndexInfo, 0, len(entries))
	for _, e := range entries {
		info := feedsearch.IndexInfo{Name: e.name, Kind: feedsearch.IndexKindRegular}
		pragma := "select name from pragma_index_info(?)"
		if e.typ == "table" {
			if !strings.Contains(strings.ToLower(e.sql), "using fts5") {
				continue
			}
			info.Kind = feedsearch.IndexKindText
			pragma = "select name from pragma_table_info(?)"
		}

		if err := s.eachRow(ctx, pragma, []any{e.name}, func(rows *sql.Rows) error {
			var field sql.NullString
			if err := rows.Scan(&field); err != nil {
				return fmt.Errorf("failed to scan index field: %w", err)
			}
			if field.Valid {
				info.Fields = append(info.Fields, field.String)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}
