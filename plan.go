package feedsearch

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// QueryStrategy is how the text part of a query is evaluated.
type QueryStrategy int

const (
	// StrategyNone means the query has no text predicate.
	StrategyNone QueryStrategy = iota
	// StrategyTextIndexed delegates the text predicate to the store's text index.
	StrategyTextIndexed
	// StrategyRegexFallback matches every term as a case-insensitive substring.
	StrategyRegexFallback
)

func (s QueryStrategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyTextIndexed:
		return "text"
	case StrategyRegexFallback:
		return "regex"
	default:
		return "unknown"
	}
}

type Ordering int

const (
	// OrderRecency sorts newest first.
	OrderRecency Ordering = iota
	// OrderRelevance sorts by text score, then newest first.
	OrderRelevance
)

// PlanHint advises the store which predicate to drive the scan with.
type PlanHint int

const (
	HintNone PlanHint = iota
	HintTextIndex
	HintMediaType
	HintAuthorSet
)

func (h PlanHint) String() string {
	switch h {
	case HintNone:
		return "none"
	case HintTextIndex:
		return "text_index"
	case HintMediaType:
		return "media_type"
	case HintAuthorSet:
		return "author_set"
	default:
		return "unknown"
	}
}

// MediaFilter is the caller-facing media restriction.
type MediaFilter int

const (
	MediaFilterNone MediaFilter = iota
	MediaFilterImage
	MediaFilterVideo
)

// ParseMediaFilter parses "", "image" or "video".
func ParseMediaFilter(s string) (MediaFilter, error) {
	switch strings.ToLower(s) {
	case "":
		return MediaFilterNone, nil
	case "image":
		return MediaFilterImage, nil
	case "video":
		return MediaFilterVideo, nil
	default:
		return MediaFilterNone, fmt.Errorf("%w: unknown media type %q", ErrInvalidQuery, s)
	}
}

func (f MediaFilter) String() string {
	switch f {
	case MediaFilterImage:
		return "image"
	case MediaFilterVideo:
		return "video"
	default:
		return "all"
	}
}

// Types returns the stored media representations the filter accepts.
// Video accepts both raw and adaptive-streaming video.
func (f MediaFilter) Types() []MediaType {
	switch f {
	case MediaFilterImage:
		return []MediaType{MediaImage}
	case MediaFilterVideo:
		return []MediaType{MediaVideo, MediaHLS}
	default:
		return nil
	}
}

// Plan is an executable post predicate plus ordering and hint.
type Plan struct {
	Strategy QueryStrategy

	// Text is the trimmed query for StrategyTextIndexed.
	Text string
	// Terms are the lowercased terms for StrategyRegexFallback.  All must match.
	Terms []string

	// MediaTypes restricts to posts carrying any of these. Nil means any.
	MediaTypes []MediaType
	// Authors restricts authorship. Nil means any author.
	Authors []string

	Order Ordering
	Hint  PlanHint

	authorSet map[string]struct{}
}

// Match reports whether post satisfies every predicate of the plan that
// can be evaluated without a text index.  For StrategyTextIndexed the text
// predicate is the store's responsibility and is not checked here.
func (p *Plan) Match(post *Post) bool {
	if post == nil {
		return false
	}
	if p.Strategy == StrategyRegexFallback && !p.matchTerms(post.Content) {
		return false
	}
	return p.MatchFilters(post)
}

// MatchFilters checks the media and author predicates only.
func (p *Plan) MatchFilters(post *Post) bool {
	if p.MediaTypes != nil && !post.HasMedia(p.MediaTypes...) {
		return false
	}
	if p.Authors != nil && !p.allowsAuthor(post.AuthorID) {
		return false
	}
	return true
}

func (p *Plan) matchTerms(content string) bool {
	content = strings.ToLower(content)
	for _, t := range p.Terms {
		if !strings.Contains(content, t) {
			return false
		}
	}
	return true
}

func (p *Plan) allowsAuthor(id string) bool {
	if p.authorSet != nil {
		_, ok := p.authorSet[id]
		return ok
	}
	return slices.Contains(p.Authors, id)
}

// QueryPlanner turns a search query into a Plan.
type QueryPlanner struct {
	probe   *IndexCapabilityProbe
	follows *FollowSetResolver
}

// NewQueryPlanner creates a planner.  A nil probe means no text index is
// ever used.  A nil follows resolver disables follow scoping.
func NewQueryPlanner(probe *IndexCapabilityProbe, follows *FollowSetResolver) *QueryPlanner {
	return &QueryPlanner{probe: probe, follows: follows}
}

// Plan builds the plan for q.  q.Content must already be trimmed.
func (qp *QueryPlanner) Plan(ctx context.Context, q *SearchQuery) (*Plan, error) {
	plan := &Plan{Order: OrderRecency}

	if q.Content != "" {
		if qp.probe != nil && qp.probe.HasTextIndex(ctx) {
			plan.Strategy = StrategyTextIndexed
			plan.Text = q.Content
			plan.Order = OrderRelevance
		} else {
			plan.Strategy = StrategyRegexFallback
			plan.Terms = splitTerms(q.Content)
		}
	}

	plan.MediaTypes = q.Media.Types()

	if q.FollowScope && q.Requester != "" && qp.follows != nil {
		authors, err := qp.follows.Resolve(ctx, q.Requester)
		if err != nil {
			return nil, err
		}
		plan.Authors = authors
		plan.authorSet = make(map[string]struct{}, len(authors))
		for _, a := range authors {
			plan.authorSet[a] = struct{}{}
		}
	}

	plan.Hint = plan.chooseHint()

	return plan, nil
}

func (p *Plan) chooseHint() PlanHint {
	switch {
	case p.Strategy == StrategyTextIndexed:
		return HintTextIndex
	case p.MediaTypes != nil:
		return HintMediaType
	case p.Authors != nil:
		return HintAuthorSet
	default:
		return HintNone
	}
}

// WithoutTextIndex returns a copy of p whose text predicate is evaluated
// as a substring match.  Plans without a text index are returned as is.
func (p *Plan) WithoutTextIndex() *Plan {
	if p.Strategy != StrategyTextIndexed {
		return p
	}
	fallback := *p
	fallback.Strategy = StrategyRegexFallback
	fallback.Terms = splitTerms(p.Text)
	fallback.Text = ""
	fallback.Order = OrderRecency
	fallback.Hint = fallback.chooseHint()
	return &fallback
}

// splitTerms lowercases and splits s on whitespace.
func splitTerms(s string) []string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}
