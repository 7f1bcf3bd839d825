// internal/model/models.go
package model

import "time"

// Repository is the canonical, source-independent representation of a GitHub
// repository. Instances are built per run from search results and consumed by
// reconciliation and persistence; the durable copy lives in the database,
// keyed by GitHubURL.
type Repository struct {
	Name         string
	Owner        string
	Description  *string
	Language     *string
	Stars        int
	Contributors *int
	GitHubURL    string
	LastUpdated  time.Time
}

// SearchStrategy parameterizes one search query. The GitHub search API caps
// any single query's result window near 1,000 matches, so several star ranges
// and sort orders are combined to surface a broader set than one query could.
type SearchStrategy struct {
	MinStars int
	MaxStars int
	Sort     string
	Pages    int
}

// Summary is the result of one ingestion run.
type Summary struct {
	TotalFetched int `json:"total_fetched"`
	NewCount     int `json:"new_repositories"`
	UpdatedCount int `json:"updated_repositories"`
}
