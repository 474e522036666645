// Package search provides the web search collaborator used by the tool
// dispatcher. Result records are opaque to the loop; they are stored and
// forwarded as-is.
package search

import "context"

// Result is a single item returned by a Provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider executes a query and returns results.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}
