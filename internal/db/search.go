package db

import "github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/search/filter"

// DefaultVectorField is the hash field holding the embedding.
const DefaultVectorField = "vector"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	VectorField  string // defaults to DefaultVectorField
	K            int
	ReturnFields []string
}

// Field returns the vector field name, falling back to the default.
func (q *KNNQuery) Field() string {
	if q.VectorField == "" {
		return DefaultVectorField
	}
	return q.VectorField
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Score is cosine similarity clamped to [0,1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
