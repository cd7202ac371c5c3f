// Package retrieval answers retrieval capabilities: it picks a dataset for a
// query, keeps one in-memory vector index per dataset, and returns the
// nearest passages as plain text.
//
// Retrieval never fails a turn. Index, embedding and search problems come
// back as short in-band notices that the composer passes to the model like
// any other context.
package retrieval

import (
	"errors"
	"fmt"
	"sort"

	"github.com/normanking/netbot/internal/data"
)

// ErrDimensionMismatch is returned when a query vector's length differs from
// the index dimension.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DimensionError reports the two sides of a dimension mismatch.
type DimensionError struct {
	Index int
	Query int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: index %d, query %d", ErrDimensionMismatch, e.Index, e.Query)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Passage is the text and metadata of one indexed chunk.
type Passage struct {
	ChunkID int    `json:"chunk_id"`
	Source  string `json:"source"`
	Text    string `json:"text"`
}

// Hit is a search result. Position is the passage's row in the index.
type Hit struct {
	Passage
	Position int     `json:"position"`
	Distance float32 `json:"distance"`
}

// Index is an exact L2 nearest-neighbor index over one dataset. It is
// immutable once built and safe for concurrent searches.
type Index struct {
	dataset  string
	dim      int
	vectors  [][]float32
	passages []Passage
}

// NewIndex builds an index from stored chunks; rows keep the chunk order.
func NewIndex(dataset string, chunks []data.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("dataset %s has no chunks", dataset)
	}

	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("dataset %s: empty embedding", dataset)
	}

	ix := &Index{
		dataset:  dataset,
		dim:      dim,
		vectors:  make([][]float32, len(chunks)),
		passages: make([]Passage, len(chunks)),
	}
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("dataset %s chunk %d: %w", dataset, c.ChunkID,
				&DimensionError{Index: dim, Query: len(c.Embedding)})
		}
		ix.vectors[i] = c.Embedding
		ix.passages[i] = Passage{ChunkID: c.ChunkID, Source: c.Source, Text: c.Text}
	}
	return ix, nil
}

// Dataset returns the dataset id.
func (ix *Index) Dataset() string { return ix.dataset }

// Dimension returns the vector length.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of passages.
func (ix *Index) Len() int { return len(ix.passages) }

// Search returns up to k passages ordered by squared L2 distance to query.
// Equal distances keep index order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, &DimensionError{Index: ix.dim, Query: len(query)}
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Passage: ix.passages[i], Position: i, Distance: l2(query, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func l2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
