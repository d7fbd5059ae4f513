package feedsearch

import (
	"slices"
	"time"
)

// Audience is the visibility scope of a post.
type Audience int

const (
	AudiencePublic Audience = iota
	AudienceCircle
)

func (a Audience) String() string {
	switch a {
	case AudiencePublic:
		return "public"
	case AudienceCircle:
		return "circle"
	default:
		return "unknown"
	}
}

// PostType tells how a post relates to its parent.
type PostType int

const (
	PostTypeTweet PostType = iota
	PostTypeRetweet
	PostTypeComment
	PostTypeQuote
)

// MediaType is the stored representation of an attached media.
type MediaType int

const (
	MediaImage MediaType = iota
	MediaVideo
	// MediaHLS is an adaptive-streaming video.
	MediaHLS
)

func (t MediaType) String() string {
	switch t {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaHLS:
		return "hls"
	default:
		return "unknown"
	}
}

type Media struct {
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

// Post is a content item.
type Post struct {
	ID       string   `json:"id"`
	AuthorID string   `json:"author_id"`
	Type     PostType `json:"type"`
	Audience Audience `json:"audience"`
	Content  string   `json:"content"`

	// ParentID is empty unless the post is a retweet, comment or quote.
	ParentID string `json:"parent_id,omitempty"`

	Hashtags []string `json:"hashtags,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	Medias   []Media  `json:"medias,omitempty"`

	GuestViews int64 `json:"guest_views"`
	UserViews  int64 `json:"user_views"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMedia reports whether any attached media is one of types.
func (p *Post) HasMedia(types ...MediaType) bool {
	for _, m := range p.Medias {
		if slices.Contains(types, m.Type) {
			return true
		}
	}
	return false
}

// User is an account as the search core sees it.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`

	// Circle holds the ids allowed to see the user's circle-only posts.
	Circle []string `json:"circle,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Summary projects u into the public author shape.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		Avatar:   u.Avatar,
	}
}

type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Engagement holds the derived per-post counters.
type Engagement struct {
	Likes     int64 `json:"likes"`
	Bookmarks int64 `json:"bookmarks"`
	Replies   int64 `json:"comment_count"`
	Retweets  int64 `json:"retweet_count"`
	Quotes    int64 `json:"quote_count"`
}

// ViewKind selects which view counter an increment goes to.
type ViewKind int

const (
	ViewGuest ViewKind = iota
	ViewUser
)

// SearchItem is a post enriched for a search response.
type SearchItem struct {
	Post

	Author   UserSummary   `json:"user"`
	Mentions []UserSummary `json:"mentions,omitempty"`

	Engagement

	// Score is the text relevance; zero for recency-ordered results.
	Score float64 `json:"-"`
}

// visibleTo reports whether a post written by author may be shown to
// requester.  An empty requester is a guest.
func visibleTo(post *Post, author *User, requester string) bool {
	if post.Audience != AudienceCircle {
		return true
	}
	if requester == "" || author == nil {
		return false
	}
	if post.AuthorID == requester {
		return true
	}
	return slices.Contains(author.Circle, requester)
}
