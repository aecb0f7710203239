package types

// SimilarityBand categorizes how close a similar-code result is to the probe
type SimilarityBand string

const (
	BandExact         SimilarityBand = "exact"          // >= 0.99
	BandNearDuplicate SimilarityBand = "near_duplicate" // >= 0.95
	BandVerySimilar   SimilarityBand = "very_similar"   // >= 0.85
	BandSimilar       SimilarityBand = "similar"        // >= 0.70
	BandRelated       SimilarityBand = "related"        // everything else
)

// Band thresholds
const (
	ExactThreshold         = 0.99
	NearDuplicateThreshold = 0.95
	VerySimilarThreshold   = 0.85
	SimilarThreshold       = 0.70
)

// BandFor maps a similarity score to its band
func BandFor(similarity float64) SimilarityBand {
	switch {
	case similarity >= ExactThreshold:
		return BandExact
	case similarity >= NearDuplicateThreshold:
		return BandNearDuplicate
	case similarity >= VerySimilarThreshold:
		return BandVerySimilar
	case similarity >= SimilarThreshold:
		return BandSimilar
	default:
		return BandRelated
	}
}

// CodeSearchResult is a single ranked hit from semantic search
type CodeSearchResult struct {
	// Identification
	ID   int64
	Rank int // Position in result set (1-based)

	// Scoring; similarity is in [0,1]
	Similarity float64

	// Origin
	Metadata CodeMetadata

	// Code is the snippet text if the code store has it cached
	Code string
}

// SimilarCodeResult is a CodeSearchResult tagged with a similarity band
type SimilarCodeResult struct {
	CodeSearchResult
	Band SimilarityBand
}

// SearchFilters narrows search results after the index lookup
type SearchFilters struct {
	Languages   []Language
	SymbolTypes []SymbolType
	FilePattern string // Glob pattern matched against metadata file paths
	Repository  string
	MinScore    float64
}

// Validate checks if the search result is well formed
func (r *CodeSearchResult) Validate() error {
	if r.ID == 0 {
		return ErrInvalidResultID
	}

	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.Similarity < 0 || r.Similarity > 1 {
		return ErrInvalidSimilarity
	}

	return nil
}
