package feedsearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TextIndexName is the name CompositeStore reports for its text index.
const TextIndexName = "posts_content_text"

var _ PostStore = (*CompositeStore)(nil)

// CompositeStore combines a primary PostStore with a TextIndex.
// The primary store is the source of truth.  The text index only answers
// text predicates; every other predicate is evaluated on the primary.
//
// Query behavior:
//   - Text-indexed plans: ids and scores come from the index, posts from the primary
//   - Otherwise: delegate to the primary
//
// Write behavior:
//   - Write the primary first
//   - If successful, update the index (best effort)
type CompositeStore struct {
	primary PostStore
	search  TextIndex
	logger  *slog.Logger

	onIndexChanged func()
}

type CompositeStoreOptions struct {
	Logger *slog.Logger
	// OnIndexChanged is called after the text index has been rebuilt.
	OnIndexChanged func()
}

// NewCompositeStore creates a CompositeStore.  search may be nil, in which
// case the store reports no text index.
func NewCompositeStore(primary PostStore, search TextIndex, opt *CompositeStoreOptions) *CompositeStore {
	if opt == nil {
		opt = &CompositeStoreOptions{}
	}
	return &CompositeStore{
		primary: primary,
		search:  search,
		logger:  opt.Logger,

		onIndexChanged: opt.OnIndexChanged,
	}
}

func (s *CompositeStore) PutPost(ctx context.Context, post *Post) error {
	if err := s.primary.PutPost(ctx, post); err != nil {
		return err
	}
	if s.search != nil {
		if err := s.search.Index(ctx, post); err != nil {
			warnLog(ctx, s.logger, "failed to index post", "id", post.ID, "err", err)
		}
	}
	return nil
}

func (s *CompositeStore) DeletePost(ctx context.Context, id string) error {
	if err := s.primary.DeletePost(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		if err := s.search.Delete(ctx, id); err != nil {
			warnLog(ctx, s.logger, "failed to unindex post", "id", id, "err", err)
		}
	}
	return nil
}

// MatchPosts implements ContentStore.MatchPosts.
//
// If the text index fails, the text predicate is evaluated as a
// substring match on the primary instead.
func (s *CompositeStore) MatchPosts(ctx context.Context, plan *Plan) ([]*Match, error) {
	if plan.Strategy != StrategyTextIndexed {
		return s.primary.MatchPosts(ctx, plan)
	}
	if s.search == nil {
		return nil, ErrTextIndexUnavailable
	}

	hits, err := s.search.Search(ctx, plan.Text)
	if err != nil {
		warnLog(ctx, s.logger, "text index search failed, falling back to substring match", "err", err)
		return s.primary.MatchPosts(ctx, plan.WithoutTextIndex())
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	posts, err := s.primary.Posts(ctx, ids)
	if err != nil {
		return nil, err
	}

	res := make([]*Match, 0, len(hits))
	for _, h := range hits {
		// The index may lag behind deletes on the primary.
		p, ok := posts[h.ID]
		if !ok || !plan.MatchFilters(p) {
			continue
		}
		res = append(res, &Match{Post: p, Score: h.Score})
	}
	return res, nil
}

func (s *CompositeStore) Users(ctx context.Context, ids []string) (map[string]*User, error) {
	return s.primary.Users(ctx, ids)
}

func (s *CompositeStore) MatchUsers(ctx context.Context, terms []string) ([]*User, error) {
	return s.primary.MatchUsers(ctx, terms)
}

func (s *CompositeStore) Engagement(ctx context.Context, postIDs []string) (map[string]Engagement, error) {
	return s.primary.Engagement(ctx, postIDs)
}

// IncrementViews implements ContentStore.IncrementViews.  Content is not
// touched, so the index is not updated.
func (s *CompositeStore) IncrementViews(ctx context.Context, postID string, kind ViewKind, at time.Time) error {
	return s.primary.IncrementViews(ctx, postID, kind, at)
}

// Indexes implements ContentStore.Indexes.  The text index is listed when
// one is attached.
func (s *CompositeStore) Indexes(ctx context.Context) ([]IndexInfo, error) {
	infos, err := s.primary.Indexes(ctx)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		infos = append(infos, IndexInfo{
			Name:   TextIndexName,
			Kind:   IndexKindText,
			Fields: []string{"content"},
		})
	}
	return infos, nil
}

func (s *CompositeStore) Posts(ctx context.Context, ids []string) (map[string]*Post, error) {
	return s.primary.Posts(ctx, ids)
}

func (s *CompositeStore) ScanPosts(ctx context.Context, fn func(*Post) error) error {
	return s.primary.ScanPosts(ctx, fn)
}

// RebuildTextIndex indexes every post of the primary store and returns
// the number of posts visited.
func (s *CompositeStore) RebuildTextIndex(ctx context.Context) (int, error) {
	if s.search == nil {
		return 0, ErrTextIndexUnavailable
	}

	var n int
	err := s.primary.ScanPosts(ctx, func(p *Post) error {
		if err := s.search.Index(ctx, p); err != nil {
			return fmt.Errorf("failed to index post %s: %w", p.ID, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}

	if s.onIndexChanged != nil {
		s.onIndexChanged()
	}
	return n, nil
}
