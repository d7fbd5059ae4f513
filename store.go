package feedsearch

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// ContentStore is the document store the search core reads from.
type ContentStore interface {
	// MatchPosts returns every post satisfying the plan's predicate, in no
	// particular order.  Visibility is not applied here.  For text-indexed
	// plans each match carries the store's relevance score.
	MatchPosts(ctx context.Context, plan *Plan) ([]*Match, error)

	// Users returns the users with the given ids.  Unknown ids are absent
	// from the map.
	Users(ctx context.Context, ids []string) (map[string]*User, error)

	// MatchUsers returns users whose name or username contains every term,
	// case-insensitively.
	MatchUsers(ctx context.Context, terms []string) ([]*User, error)

	// Engagement counts likes, bookmarks and child posts for each id.
	Engagement(ctx context.Context, postIDs []string) (map[string]Engagement, error)

	// IncrementViews adds one to a view counter and stamps UpdatedAt.
	IncrementViews(ctx context.Context, postID string, kind ViewKind, at time.Time) error

	// Indexes describes the indexes the store currently has.
	Indexes(ctx context.Context) ([]IndexInfo, error)
}

// PostStore is a ContentStore that owns its posts and can be used as the
// primary store of a CompositeStore.
type PostStore interface {
	ContentStore

	PutPost(ctx context.Context, post *Post) error
	DeletePost(ctx context.Context, id string) error

	// Posts returns the posts with the given ids.  Unknown ids are absent
	// from the map.
	Posts(ctx context.Context, ids []string) (map[string]*Post, error)

	// ScanPosts calls fn for every stored post, stopping at the first error.
	ScanPosts(ctx context.Context, fn func(*Post) error) error
}

// FollowStore answers follow-graph lookups.
type FollowStore interface {
	// Following returns the ids followerID follows.
	Following(ctx context.Context, followerID string) ([]string, error)
}

// Match is a post returned by ContentStore.MatchPosts.
type Match struct {
	Post  *Post
	Score float64
}

type IndexKind int

const (
	IndexKindRegular IndexKind = iota
	IndexKindText
)

// IndexInfo is one entry of a store's index introspection.
type IndexInfo struct {
	Name   string
	Kind   IndexKind
	Fields []string
}

var (
	_ PostStore   = (*InMemoryStore)(nil)
	_ FollowStore = (*InMemoryStore)(nil)
)

// InMemoryStore is a brute-force ContentStore and FollowStore.
// Every query is O(n).  Suitable for testing and small datasets.
// It has no text index, so plans against it always use the regex fallback.
type InMemoryStore struct {
	mu sync.RWMutex

	posts     map[string]*Post
	users     map[string]*User
	follows   map[string]map[string]bool
	likes     map[string]map[string]bool
	bookmarks map[string]map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		posts:     make(map[string]*Post),
		users:     make(map[string]*User),
		follows:   make(map[string]map[string]bool),
		likes:     make(map[string]map[string]bool),
		bookmarks: make(map[string]map[string]bool),
	}
}

func (s *InMemoryStore) PutPost(_ context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *post
	s.posts[post.ID] = &p
	return nil
}

func (s *InMemoryStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, id)
	delete(s.likes, id)
	delete(s.bookmarks, id)
	return nil
}

func (s *InMemoryStore) PutUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *InMemoryStore) Follow(_ context.Context, follower, followed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addEdge(s.follows, follower, followed)
	return nil
}

func (s *InMemoryStore) Unfollow(_ context.Context, follower, followed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows[follower], followed)
	return nil
}

func (s *InMemoryStore) Like(_ context.Context, userID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addEdge(s.likes, postID, userID)
	return nil
}

func (s *InMemoryStore) Bookmark(_ context.Context, userID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addEdge(s.bookmarks, postID, userID)
	return nil
}

func addEdge(m map[string]map[string]bool, from, to string) {
	if m[from] == nil {
		m[from] = make(map[string]bool)
	}
	m[from][to] = true
}

// Post returns a copy of the stored post, or nil.
func (s *InMemoryStore) Post(_ context.Context, id string) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// MatchPosts implements ContentStore.MatchPosts.
func (s *InMemoryStore) MatchPosts(_ context.Context, plan *Plan) ([]*Match, error) {
	if plan.Strategy == StrategyTextIndexed {
		return nil, ErrTextIndexUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*Match
	for _, p := range s.posts {
		if plan.Match(p) {
			cp := *p
			res = append(res, &Match{Post: &cp})
		}
	}
	return res, nil
}

// Users implements ContentStore.Users.
func (s *InMemoryStore) Users(_ context.Context, ids []string) (map[string]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			res[id] = &cp
		}
	}
	return res, nil
}

// MatchUsers implements ContentStore.MatchUsers.
func (s *InMemoryStore) MatchUsers(_ context.Context, terms []string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []*User
	for _, u := range s.users {
		if userMatchesTerms(u, terms) {
			cp := *u
			res = append(res, &cp)
		}
	}
	slices.SortFunc(res, compareUsers)
	return res, nil
}

// userMatchesTerms reports whether every term is a case-insensitive
// substring of the user's name or username.
func userMatchesTerms(u *User, terms []string) bool {
	name := strings.ToLower(u.Name)
	username := strings.ToLower(u.Username)
	for _, t := range terms {
		t = strings.ToLower(t)
		if !strings.Contains(name, t) && !strings.Contains(username, t) {
			return false
		}
	}
	return true
}

// compareUsers orders users by username, then id.
func compareUsers(a, b *User) int {
	if c := cmp.Compare(a.Username, b.Username); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Engagement implements ContentStore.Engagement.
func (s *InMemoryStore) Engagement(_ context.Context, postIDs []string) (map[string]Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]Engagement, len(postIDs))
	for _, id := range postIDs {
		res[id] = Engagement{
			Likes:     int64(len(s.likes[id])),
			Bookmarks: int64(len(s.bookmarks[id])),
		}
	}
	for _, p := range s.posts {
		e, ok := res[p.ParentID]
		if p.ParentID == "" || !ok {
			continue
		}
		e.addChild(p.Type)
		res[p.ParentID] = e
	}
	return res, nil
}

func (e *Engagement) addChild(t PostType) {
	switch t {
	case PostTypeComment:
		e.Replies++
	case PostTypeRetweet:
		e.Retweets++
	case PostTypeQuote:
		e.Quotes++
	}
}

// IncrementViews implements ContentStore.IncrementViews.
func (s *InMemoryStore) IncrementViews(_ context.Context, postID string, kind ViewKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil
	}
	switch kind {
	case ViewGuest:
		p.GuestViews++
	case ViewUser:
		p.UserViews++
	}
	p.UpdatedAt = at
	return nil
}

// Indexes implements ContentStore.Indexes.
func (s *InMemoryStore) Indexes(_ context.Context) ([]IndexInfo, error) {
	return nil, nil
}

// Following implements FollowStore.Following.
func (s *InMemoryStore) Following(_ context.Context, followerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]string, 0, len(s.follows[followerID]))
	for id := range s.follows[followerID] {
		res = append(res, id)
	}
	slices.Sort(res)
	return res, nil
}

// Len returns the number of stored posts.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Posts returns copies of the posts with the given ids.  Unknown ids are
// absent from the map.
func (s *InMemoryStore) Posts(_ context.Context, ids []string) (map[string]*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]*Post, len(ids))
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			cp := *p
			res[id] = &cp
		}
	}
	return res, nil
}

// ScanPosts calls fn for a copy of every stored post, stopping at the first
// error.
func (s *InMemoryStore) ScanPosts(ctx context.Context, fn func(*Post) error) error {
	s.mu.RLock()
	posts := make([]*Post, 0, len(s.posts))
	for _, p := range s.posts {
		cp := *p
		posts = append(posts, &cp)
	}
	s.mu.RUnlock()

	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}
