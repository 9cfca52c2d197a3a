package search

// EntryRecord is the data indexed for one completed session.
type EntryRecord struct {
	ID         string `json:"id"`
	AccountID  string `json:"accountId"`
	Kind       string `json:"kind"`
	Feeling    string `json:"feeling"`
	Note       string `json:"note"`
	StartedAt  int64  `json:"startedAt"`
	EndedAt    int64  `json:"endedAt"`
	DurationMs int64  `json:"durationMs"`
}

// Query describes a search request. AccountID is mandatory: results never
// cross accounts.
type Query struct {
	AccountID string
	Text      string
	Limit     int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Feeling string `json:"feeling"`
	Note    string `json:"note"`
	EndTime int64  `json:"endTime"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over history entries.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
