package feedsearch

import (
	"context"
	"errors"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
)

// TextIndex is a full-text index over post content.
type TextIndex interface {
	// Index adds or updates a post.
	Index(ctx context.Context, post *Post) error

	// Search returns every post matching text, most relevant first.
	Search(ctx context.Context, text string) ([]TextHit, error)

	// Delete removes a post.
	Delete(ctx context.Context, postID string) error

	// Close releases resources.
	Close() error
}

// TextHit is one result of a text search.
type TextHit struct {
	ID    string
	Score float64
}

// BleveIndex implements TextIndex using Bleve with the CJK analyzer, so
// Japanese, Chinese and Korean posts are searchable alongside Latin text.
type BleveIndex struct {
	index bleve.Index
}

type BleveIndexOptions struct {
	// Path to store the index. If empty, uses in-memory index.
	Path string
}

func NewBleveIndex(opts *BleveIndexOptions) (*BleveIndex, error) {
	if opts == nil {
		opts = &BleveIndexOptions{}
	}

	indexMapping := buildPostMapping()

	var index bleve.Index
	var err error

	if opts.Path == "" {
		index, err = bleve.NewMemOnly(indexMapping)
	} else {
		index, err = bleve.Open(opts.Path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			index, err = bleve.New(opts.Path, indexMapping)
		}
	}
	if err != nil {
		return nil, err
	}

	return &BleveIndex{index: index}, nil
}

func buildPostMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	postMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = cjk.AnalyzerName
	postMapping.AddFieldMappingsAt("content", contentField)

	// Filters run against the primary store, so these are stored only.
	authorField := bleve.NewKeywordFieldMapping()
	authorField.Index = false
	postMapping.AddFieldMappingsAt("author_id", authorField)

	createdAtField := bleve.NewNumericFieldMapping()
	createdAtField.Index = false
	postMapping.AddFieldMappingsAt("created_at", createdAtField)

	indexMapping.AddDocumentMapping("post", postMapping)
	indexMapping.DefaultMapping = postMapping

	return indexMapping
}

type blevePost struct {
	AuthorID  string `json:"author_id"`
	CreatedAt int64  `json:"created_at"`
	Content   string `json:"content"`
}

// Index implements TextIndex.Index.  Posts without content are removed
// from the index instead.
func (b *BleveIndex) Index(ctx context.Context, post *Post) error {
	if post == nil {
		return nil
	}
	if post.Content == "" {
		return b.index.Delete(post.ID)
	}

	return b.index.Index(post.ID, blevePost{
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt.Unix(),
		Content:   post.Content,
	})
}

// Search implements TextIndex.Search.  A post matches when any analyzed
// term of text occurs in its content.
func (b *BleveIndex) Search(ctx context.Context, text string) ([]TextHit, error) {
	if text == "" {
		return nil, nil
	}

	total, err := b.index.DocCount()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequestOptions(matchQuery, int(total), 0, false)

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]TextHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, TextHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete implements TextIndex.Delete.
func (b *BleveIndex) Delete(ctx context.Context, postID string) error {
	return b.index.Delete(postID)
}

// Close implements TextIndex.Close.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the number of indexed posts.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
