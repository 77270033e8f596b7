// Package duckduckgo provides a web search provider that scrapes the
// DuckDuckGo HTML endpoint. It needs no API key.
//
// Requests can be routed through a SOCKS5 proxy, which helps when the
// endpoint rate-limits the host's address.
package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/proxy"

	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
)

const (
	// DefaultEndpoint is the JavaScript-free results page.
	DefaultEndpoint = "https://html.duckduckgo.com/html/"

	defaultRegion    = "wt-wt"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultTimeout   = 10 * time.Second
)

var _ websearch.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides DefaultEndpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithRegion sets the kl region parameter (e.g. "us-en", "de-de").
func WithRegion(region string) Option {
	return func(p *Provider) { p.region = region }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithSOCKS5 routes requests through the SOCKS5 proxy at addr.
func WithSOCKS5(addr string) Option {
	return func(p *Provider) { p.socksAddr = addr }
}

// Provider implements websearch.Provider for DuckDuckGo.
type Provider struct {
	endpoint  string
	region    string
	socksAddr string
	client    *http.Client
}

// New creates a Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		endpoint: DefaultEndpoint,
		region:   defaultRegion,
	}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: defaultTimeout}
		if p.socksAddr != "" {
			c, err := newSocksClient(p.socksAddr)
			if err != nil {
				return nil, err
			}
			p.client = c
		}
	}
	return p, nil
}

func newSocksClient(addr string) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: socks5 %s: %w", addr, err)
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		},
	}
	return &http.Client{Transport: transport, Timeout: defaultTimeout}, nil
}

// Search posts query to the HTML endpoint and parses the organic results.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("duckduckgo: empty query")
	}

	form := url.Values{}
	form.Set("q", query)
	form.Set("kl", p.region)
	form.Set("b", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://html.duckduckgo.com/")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("duckduckgo: search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	results, err := parseResults(resp.Body, maxResults)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse: %w", err)
	}
	return results, nil
}

// ── HTML parsing ─────────────────────────────────────────────────────────────

// parseResults walks the results page and extracts each non-ad "result"
// block's title link and snippet.
func parseResults(r io.Reader, maxResults int) ([]websearch.Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	results := []websearch.Result{}
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if res, ok := parseResult(n); ok {
				results = append(results, res)
				if maxResults > 0 && len(results) >= maxResults {
					return false
				}
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results, nil
}

func parseResult(block *html.Node) (websearch.Result, bool) {
	var res websearch.Result
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			switch {
			case hasClass(n, "result__a"):
				res.Title = textContent(n)
				res.URL = resolveHref(attr(n, "href"))
			case hasClass(n, "result__snippet"):
				res.Body = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(block)
	return res, res.Title != "" && res.URL != ""
}

// resolveHref unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func resolveHref(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
