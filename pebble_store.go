package feedsearch

import (
	"bytes"
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes for Pebble storage.  Every id is stored as its sha256 hash
// so keys have fixed widths.
const (
	// Main data: [0x01][post:32] -> post_json
	prefixPost byte = 0x01

	// Post indexes (value is empty):
	// [0x02][inverted_ts:8][post:32]
	prefixCreatedAt byte = 0x02
	// [0x03][author:32][inverted_ts:8][post:32]
	prefixAuthor byte = 0x03
	// [0x04][media_type:1][inverted_ts:8][post:32]
	prefixMedia byte = 0x04
	// [0x05][parent:32][post_type:1][post:32]
	prefixChild byte = 0x05

	// [0x06][user:32] -> user_json
	prefixUser byte = 0x06
	// [0x07][follower:32][followed:32] -> followed_id
	prefixFollow byte = 0x07
	// [0x08][post:32][user:32]
	prefixLike byte = 0x08
	// [0x09][post:32][user:32]
	prefixBookmark byte = 0x09
)

const hashLen = sha256.Size

var (
	_ PostStore   = (*PebbleStore)(nil)
	_ FollowStore = (*PebbleStore)(nil)
)

// PebbleStore implements PostStore and FollowStore using Pebble
// (LSM-tree based KV store).  It has no text index; pair it with a
// BleveIndex through CompositeStore for text search.
type PebbleStore struct {
	db *pebble.DB
	mu sync.RWMutex // For read-modify-write operations spanning multiple keys
}

// NewPebbleStore opens a Pebble-backed store.
// path is the directory where Pebble will store its data.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// NewPebbleStoreWithFS opens a store on the given filesystem.
// Tests use vfs.NewMem().
func NewPebbleStoreWithFS(path string, fs vfs.FS) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{FS: fs})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the Pebble database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// PutPost inserts or replaces a post and its indexes.
func (s *PebbleStore) PutPost(ctx context.Context, post *Post) error {
	if post == nil {
		return nil
	}

	postJSON, err := json.Marshal(post)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	postHash := hashID(post.ID)

	// Replacing: drop the old indexes, they may differ.
	old, err := s.getPostByHash(postHash)
	if err != nil {
		return err
	}
	if old != nil {
		if err := deletePostIndexes(batch, old); err != nil {
			return err
		}
	}

	if err := batch.Set(makePostKey(postHash), postJSON, pebble.Sync); err != nil {
		return err
	}
	for _, key := range postIndexKeys(post) {
		if err := batch.Set(key, nil, pebble.Sync); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

// DeletePost removes a post, its indexes, likes and bookmarks.  Child
// posts are kept.
func (s *PebbleStore) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	postHash := hashID(id)
	post, err := s.getPostByHash(postHash)
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(makePostKey(postHash), pebble.Sync); err != nil {
		return err
	}
	if err := deletePostIndexes(batch, post); err != nil {
		return err
	}
	for _, prefix := range []byte{prefixLike, prefixBookmark} {
		lower := makeEdgePrefix(prefix, postHash)
		if err := batch.DeleteRange(lower, incrementBytes(lower), pebble.Sync); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) PutUser(ctx context.Context, user *User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.db.Set(makeUserKey(hashID(user.ID)), userJSON, pebble.Sync)
}

func (s *PebbleStore) Follow(ctx context.Context, follower, followed string) error {
	key := makeEdgeKey(prefixFollow, hashID(follower), hashID(followed))
	return s.db.Set(key, []byte(followed), pebble.Sync)
}

func (s *PebbleStore) Unfollow(ctx context.Context, follower, followed string) error {
	key := makeEdgeKey(prefixFollow, hashID(follower), hashID(followed))
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleStore) Like(ctx context.Context, userID, postID string) error {
	return s.db.Set(makeEdgeKey(prefixLike, hashID(postID), hashID(userID)), nil, pebble.Sync)
}

func (s *PebbleStore) Bookmark(ctx context.Context, userID, postID string) error {
	return s.db.Set(makeEdgeKey(prefixBookmark, hashID(postID), hashID(userID)), nil, pebble.Sync)
}

// MatchPosts implements ContentStore.MatchPosts.
func (s *PebbleStore) MatchPosts(ctx context.Context, plan *Plan) ([]*Match, error) {
	if plan.Strategy == StrategyTextIndexed {
		return nil, ErrTextIndexUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	selections := selectIndexes(plan)

	h := &cursorHeap{}
	heap.Init(h)

	var iterators []*pebble.Iterator
	defer func() {
		for _, it := range iterators {
			it.Close()
		}
	}()

	for _, sel := range selections {
		iter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: sel.lowerBound,
			UpperBound: sel.upperBound,
		})
		if err != nil {
			return nil, err
		}
		iterators = append(iterators, iter)

		if iter.First() {
			heap.Push(h, makeCursorEntry(iter, sel))
		}
	}

	seen := make(map[string]bool)
	var result []*Match

	// Merge cursors newest first.
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := heap.Pop(h).(*cursorEntry)

		key := string(entry.postHash)
		if !seen[key] {
			seen[key] = true

			post, err := s.getPostByHash(entry.postHash)
			if err != nil {
				return nil, err
			}
			if post != nil && plan.Match(post) {
				result = append(result, &Match{Post: post})
			}
		}

		if entry.iter.Next() {
			heap.Push(h, makeCursorEntry(entry.iter, entry.selection))
		}
	}

	return result, nil
}

// Users implements ContentStore.Users.
func (s *PebbleStore) Users(ctx context.Context, ids []string) (map[string]*User, error) {
	res := make(map[string]*User, len(ids))
	for _, id := range ids {
		u, err := s.getUser(hashID(id))
		if err != nil {
			return nil, err
		}
		if u != nil {
			res[id] = u
		}
	}
	return res, nil
}

// MatchUsers implements ContentStore.MatchUsers by scanning every user.
func (s *PebbleStore) MatchUsers(ctx context.Context, terms []string) ([]*User, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixUser},
		UpperBound: []byte{prefixUser + 1},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var res []*User
	for iter.First(); iter.Valid(); iter.Next() {
		var u User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, err
		}
		if userMatchesTerms(&u, terms) {
			res = append(res, &u)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	slices.SortFunc(res, compareUsers)
	return res, nil
}

// Engagement implements ContentStore.Engagement.
func (s *PebbleStore) Engagement(ctx context.Context, postIDs []string) (map[string]Engagement, error) {
	res := make(map[string]Engagement, len(postIDs))
	for _, id := range postIDs {
		postHash := hashID(id)

		var e Engagement
		var err error
		if e.Likes, err = s.countPrefix(makeEdgePrefix(prefixLike, postHash)); err != nil {
			return nil, err
		}
		if e.Bookmarks, err = s.countPrefix(makeEdgePrefix(prefixBookmark, postHash)); err != nil {
			return nil, err
		}
		if err := s.countChildren(postHash, &e); err != nil {
			return nil, err
		}
		res[id] = e
	}
	return res, nil
}

func (s *PebbleStore) countPrefix(lower []byte) (int64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: incrementBytes(lower),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *PebbleStore) countChildren(parentHash []byte, e *Engagement) error {
	lower := makeEdgePrefix(prefixChild, parentHash)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: incrementBytes(lower),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		e.addChild(PostType(iter.Key()[1+hashLen]))
	}
	return iter.Error()
}

// IncrementViews implements ContentStore.IncrementViews.  Unknown posts
// are ignored.
func (s *PebbleStore) IncrementViews(ctx context.Context, postID string, kind ViewKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	postHash := hashID(postID)
	post, err := s.getPostByHash(postHash)
	if err != nil || post == nil {
		return err
	}

	switch kind {
	case ViewGuest:
		post.GuestViews++
	case ViewUser:
		post.UserViews++
	}
	post.UpdatedAt = at

	postJSON, err := json.Marshal(post)
	if err != nil {
		return err
	}
	return s.db.Set(makePostKey(postHash), postJSON, pebble.Sync)
}

// Indexes implements ContentStore.Indexes.  Pebble keeps only regular
// indexes.
func (s *PebbleStore) Indexes(ctx context.Context) ([]IndexInfo, error) {
	return []IndexInfo{
		{Name: "posts_created_at", Kind: IndexKindRegular, Fields: []string{"created_at"}},
		{Name: "posts_author", Kind: IndexKindRegular, Fields: []string{"author_id", "created_at"}},
		{Name: "posts_media", Kind: IndexKindRegular, Fields: []string{"medias.type", "created_at"}},
		{Name: "posts_parent", Kind: IndexKindRegular, Fields: []string{"parent_id", "type"}},
	}, nil
}

// Following implements FollowStore.Following.
func (s *PebbleStore) Following(ctx context.Context, followerID string) ([]string, error) {
	lower := makeEdgePrefix(prefixFollow, hashID(followerID))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: incrementBytes(lower),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	res := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		res = append(res, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	slices.Sort(res)
	return res, nil
}

// Posts implements PostStore.Posts.
func (s *PebbleStore) Posts(ctx context.Context, ids []string) (map[string]*Post, error) {
	res := make(map[string]*Post, len(ids))
	for _, id := range ids {
		p, err := s.getPostByHash(hashID(id))
		if err != nil {
			return nil, err
		}
		if p != nil {
			res[id] = p
		}
	}
	return res, nil
}

// ScanPosts implements PostStore.ScanPosts.
func (s *PebbleStore) ScanPosts(ctx context.Context, fn func(*Post) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixPost},
		UpperBound: []byte{prefixPost + 1},
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var p Post
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Len returns the number of stored posts.
func (s *PebbleStore) Len() int {
	n, err := s.countPrefix([]byte{prefixPost})
	if err != nil {
		return 0
	}
	return int(n)
}

// indexSelection holds one index range to scan.
type indexSelection struct {
	lowerBound      []byte
	upperBound      []byte
	postOffset      int // position of the post hash in the key
	timestampOffset int // position of inverted_ts in the key
}

// selectIndexes chooses the index ranges to scan for plan.
// Returns multiple indexSelections for multi-cursor merge.
// The plan hint decides first; without one the priority is
// authors > media types > created_at (fallback).
func selectIndexes(plan *Plan) []*indexSelection {
	useAuthors := plan.Authors != nil
	useMedia := plan.MediaTypes != nil
	switch plan.Hint {
	case HintAuthorSet:
		useMedia = useMedia && !useAuthors
	case HintMediaType:
		useAuthors = useAuthors && !useMedia
	}

	if useAuthors {
		selections := make([]*indexSelection, 0, len(plan.Authors))
		for _, author := range plan.Authors {
			// Key format: [0x03][author:32][inverted_ts:8][post:32]
			lower := make([]byte, 1+hashLen)
			lower[0] = prefixAuthor
			copy(lower[1:], hashID(author))

			selections = append(selections, &indexSelection{
				lowerBound:      lower,
				upperBound:      incrementBytes(lower),
				postOffset:      1 + hashLen + 8,
				timestampOffset: 1 + hashLen,
			})
		}
		return selections
	}

	if useMedia {
		selections := make([]*indexSelection, 0, len(plan.MediaTypes))
		for _, mt := range plan.MediaTypes {
			// Key format: [0x04][media_type:1][inverted_ts:8][post:32]
			lower := []byte{prefixMedia, byte(mt)}

			selections = append(selections, &indexSelection{
				lowerBound:      lower,
				upperBound:      incrementBytes(lower),
				postOffset:      2 + 8,
				timestampOffset: 2,
			})
		}
		return selections
	}

	// Fallback: created_at index (full scan)
	return []*indexSelection{{
		lowerBound:      []byte{prefixCreatedAt},
		upperBound:      []byte{prefixCreatedAt + 1},
		postOffset:      1 + 8,
		timestampOffset: 1,
	}}
}

// makeCursorEntry creates a cursorEntry from the current iterator position.
func makeCursorEntry(iter *pebble.Iterator, sel *indexSelection) *cursorEntry {
	key := iter.Key()
	postHash := make([]byte, hashLen)
	copy(postHash, key[sel.postOffset:sel.postOffset+hashLen])
	invertedTS := binary.BigEndian.Uint64(key[sel.timestampOffset : sel.timestampOffset+8])

	return &cursorEntry{
		iter:       iter,
		postHash:   postHash,
		invertedTS: invertedTS,
		selection:  sel,
	}
}

// cursorEntry represents a single cursor in the multi-cursor merge.
type cursorEntry struct {
	iter       *pebble.Iterator
	postHash   []byte
	invertedTS uint64 // lower = newer
	selection  *indexSelection
}

// cursorHeap implements heap.Interface for merging multiple cursors.
// Sorted by (invertedTS ASC, postHash ASC) which gives created_at DESC.
type cursorHeap []*cursorEntry

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].invertedTS != h[j].invertedTS {
		return h[i].invertedTS < h[j].invertedTS
	}
	return bytes.Compare(h[i].postHash, h[j].postHash) < 0
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) {
	*h = append(*h, x.(*cursorEntry))
}

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return x
}

func (s *PebbleStore) getPostByHash(postHash []byte) (*Post, error) {
	value, closer, err := s.db.Get(makePostKey(postHash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var post Post
	if err := json.Unmarshal(value, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *PebbleStore) getUser(userHash []byte) (*User, error) {
	value, closer, err := s.db.Get(makeUserKey(userHash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var user User
	if err := json.Unmarshal(value, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// postIndexKeys returns every index key of post.
func postIndexKeys(post *Post) [][]byte {
	postHash := hashID(post.ID)
	invertedTS := invertTimestamp(post.CreatedAt.Unix())

	keys := [][]byte{
		makeCreatedAtKey(invertedTS, postHash),
		makeAuthorKey(hashID(post.AuthorID), invertedTS, postHash),
	}
	for _, m := range post.Medias {
		key := makeMediaKey(m.Type, invertedTS, postHash)
		if !slices.ContainsFunc(keys, func(k []byte) bool { return bytes.Equal(k, key) }) {
			keys = append(keys, key)
		}
	}
	if post.ParentID != "" {
		keys = append(keys, makeChildKey(hashID(post.ParentID), post.Type, postHash))
	}
	return keys
}

func deletePostIndexes(batch *pebble.Batch, post *Post) error {
	for _, key := range postIndexKeys(post) {
		if err := batch.Delete(key, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions for key construction

func makePostKey(postHash []byte) []byte {
	key := make([]byte, 1+hashLen)
	key[0] = prefixPost
	copy(key[1:], postHash)
	return key
}

func makeUserKey(userHash []byte) []byte {
	key := make([]byte, 1+hashLen)
	key[0] = prefixUser
	copy(key[1:], userHash)
	return key
}

func makeCreatedAtKey(invertedTS uint64, postHash []byte) []byte {
	key := make([]byte, 1+8+hashLen)
	key[0] = prefixCreatedAt
	binary.BigEndian.PutUint64(key[1:9], invertedTS)
	copy(key[9:], postHash)
	return key
}

func makeAuthorKey(authorHash []byte, invertedTS uint64, postHash []byte) []byte {
	key := make([]byte, 1+hashLen+8+hashLen)
	key[0] = prefixAuthor
	copy(key[1:1+hashLen], authorHash)
	binary.BigEndian.PutUint64(key[1+hashLen:1+hashLen+8], invertedTS)
	copy(key[1+hashLen+8:], postHash)
	return key
}

func makeMediaKey(mt MediaType, invertedTS uint64, postHash []byte) []byte {
	key := make([]byte, 2+8+hashLen)
	key[0] = prefixMedia
	key[1] = byte(mt)
	binary.BigEndian.PutUint64(key[2:10], invertedTS)
	copy(key[10:], postHash)
	return key
}

func makeChildKey(parentHash []byte, t PostType, postHash []byte) []byte {
	key := make([]byte, 1+hashLen+1+hashLen)
	key[0] = prefixChild
	copy(key[1:1+hashLen], parentHash)
	key[1+hashLen] = byte(t)
	copy(key[2+hashLen:], postHash)
	return key
}

// makeEdgeKey builds [prefix][from:32][to:32].
func makeEdgeKey(prefix byte, from, to []byte) []byte {
	key := make([]byte, 1+2*hashLen)
	key[0] = prefix
	copy(key[1:1+hashLen], from)
	copy(key[1+hashLen:], to)
	return key
}

func makeEdgePrefix(prefix byte, from []byte) []byte {
	key := make([]byte, 1+hashLen)
	key[0] = prefix
	copy(key[1:], from)
	return key
}

func invertTimestamp(ts int64) uint64 {
	return uint64(math.MaxInt64 - ts)
}

func hashID(id string) []byte {
	h := sha256.Sum256([]byte(id))
	return h[:]
}

// incrementBytes returns a byte slice that is lexicographically
// the next value after b. Used for creating exclusive upper bounds.
func incrementBytes(b []byte) []byte {
	result := make([]byte, len(b))
	copy(result, b)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xFF {
			result[i]++
			return result
		}
		result[i] = 0
	}
	// All bytes were 0xFF, append 0x00 (overflow case)
	return append(result, 0)
}
