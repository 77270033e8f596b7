// Package mock provides a test double for websearch.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
)

var _ websearch.Provider = (*Provider)(nil)

// SearchCall records one Search invocation.
type SearchCall struct {
	Query      string
	MaxResults int
}

// Provider is a mock implementation of websearch.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is returned by Search, truncated to maxResults.
	Results []websearch.Result

	// Err, if non-nil, is returned by Search.
	Err error

	// Calls records every Search invocation in order.
	Calls []SearchCall
}

// Search records the call and returns Results, Err.
func (p *Provider) Search(_ context.Context, query string, maxResults int) ([]websearch.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SearchCall{Query: query, MaxResults: maxResults})
	if p.Err != nil {
		return nil, p.Err
	}
	res := append([]websearch.Result(nil), p.Results...)
	if maxResults > 0 && len(res) > maxResults {
		res = res[:maxResults]
	}
	return res, nil
}

// CallCount returns the number of Search calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
