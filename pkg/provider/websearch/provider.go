// Package websearch defines the Provider interface for web search backends.
//
// Web search is the assistant's last retrieval source: it runs when neither the
// knowledge base nor the calendar can answer. Only result bodies (snippets)
// are fed to the language model.
package websearch

import "context"

// Result is a single organic search result.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Body  string `json:"body"`
}

// Provider runs text searches. Implementations must be safe for concurrent use.
type Provider interface {
	// Search returns at most maxResults results for query, best first. A
	// query with no results yields an empty slice and a nil error.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Bodies returns the first n non-empty bodies, in result order. Results
// without a body are skipped and do not count towards n.
func Bodies(results []Result, n int) []string {
	out := make([]string, 0, min(n, len(results)))
	for _, r := range results {
		if len(out) == n {
			break
		}
		if r.Body != "" {
			out = append(out, r.Body)
		}
	}
	return out
}
