package models

// Result is one search hit. Score is a rank-derived relevance in (0, 1].
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}
