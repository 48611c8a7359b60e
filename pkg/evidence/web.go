package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// WebSource searches the open web through one of the configured providers.
type WebSource struct {
	provider   webProvider
	maxResults int
}

type webProvider interface {
	id() string
	search(ctx context.Context, query string, count int) ([]Item, error)
}

type WebSourceOptions struct {
	BraveEnabled         bool
	BraveAPIKey          string
	BraveMaxResults      int
	DuckDuckGoEnabled    bool
	DuckDuckGoMaxResults int
}

// NewWebSource picks Brave when configured, DuckDuckGo otherwise. Returns
// nil when neither is enabled.
func NewWebSource(opts WebSourceOptions) *WebSource {
	maxResults := 5
	var provider webProvider

	if opts.BraveEnabled && opts.BraveAPIKey != "" {
		provider = &braveProvider{apiKey: opts.BraveAPIKey}
		if opts.BraveMaxResults > 0 {
			maxResults = opts.BraveMaxResults
		}
	} else if opts.DuckDuckGoEnabled {
		provider = &duckDuckGoProvider{}
		if opts.DuckDuckGoMaxResults > 0 {
			maxResults = opts.DuckDuckGoMaxResults
		}
	} else {
		return nil
	}

	return &WebSource{provider: provider, maxResults: maxResults}
}

func (s *WebSource) Kind() SourceKind { return KindWeb }

func (s *WebSource) ID() string { return "web:" + s.provider.id() }

func (s *WebSource) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}
	items, err := s.provider.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	for i := range items {
		items[i].ID = "evd-" + uuid.NewString()
		items[i].Kind = KindWeb
		items[i].SourceID = s.ID()
		items[i].Reliability = reliabilityFor(KindWeb, items[i].URL)
		items[i].RetrievedAtMS = now
	}
	return items, nil
}

type braveProvider struct {
	apiKey string
}

func (p *braveProvider) id() string { return "brave" }

func (p *braveProvider) search(ctx context.Context, query string, count int) ([]Item, error) {
	searchURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read brave response: %w", err)
	}

	var searchResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}

	out := make([]Item, 0, count)
	for i, r := range searchResp.Web.Results {
		if i >= count {
			break
		}
		out = append(out, Item{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Excerpt: strings.TrimSpace(r.Description),
		})
	}
	return out, nil
}

type duckDuckGoProvider struct{}

func (p *duckDuckGoProvider) id() string { return "duckduckgo" }

var (
	ddgLinkRegex    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	tagRegex        = regexp.MustCompile(`<[^>]+>`)
)

func (p *duckDuckGoProvider) search(ctx context.Context, query string, count int) ([]Item, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read duckduckgo response: %w", err)
	}

	return extractDDGResults(string(body), count), nil
}

func extractDDGResults(html string, count int) []Item {
	matches := ddgLinkRegex.FindAllStringSubmatch(html, count+5)
	snippets := ddgSnippetRegex.FindAllStringSubmatch(html, count+5)

	out := []Item{}
	for i, m := range matches {
		if len(out) >= count {
			break
		}
		urlStr := m[1]
		// DDG wraps targets in a redirect with the real URL in uddg=.
		if strings.Contains(urlStr, "uddg=") {
			if u, err := url.QueryUnescape(urlStr); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					urlStr = u[idx+5:]
					if amp := strings.Index(urlStr, "&"); amp != -1 {
						urlStr = urlStr[:amp]
					}
				}
			}
		}

		item := Item{
			Title: strings.TrimSpace(stripTags(m[2])),
			URL:   urlStr,
		}
		if i < len(snippets) {
			item.Excerpt = strings.TrimSpace(stripTags(snippets[i][1]))
		}
		out = append(out, item)
	}
	return out
}

func stripTags(content string) string {
	return tagRegex.ReplaceAllString(content, "")
}
