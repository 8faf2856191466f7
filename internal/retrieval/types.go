package retrieval

// #region config
// Config holds limits for the in-memory lexical retriever.
type Config struct {
	MaxContentLen int     // max chars per document; longer documents fail consistency
	MatchScore    float64 // score for a whole-query substring match
	KeywordWeight float64 // per shared keyword contribution to the lexical score
}

// DefaultConfig returns sensible defaults for lexical matching.
func DefaultConfig() Config {
	return Config{
		MaxContentLen: 2000,
		MatchScore:    0.9,
		KeywordWeight: 0.1,
	}
}

// #endregion config
