package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferenceSource queries a documentation search endpoint. The endpoint
// speaks a small JSON contract: GET <endpoint>?q=<query>&limit=<n> returns
// {"results": [{"title", "url", "excerpt"}]}.
type ReferenceSource struct {
	endpoint   string
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewReferenceSource(endpoint, apiKey string, maxResults int) *ReferenceSource {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &ReferenceSource{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ReferenceSource) Kind() SourceKind { return KindReference }

func (s *ReferenceSource) ID() string { return "reference:docs" }

func (s *ReferenceSource) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}
	reqURL := fmt.Sprintf("%s?q=%s&limit=%d", s.endpoint, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reference search status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read reference response: %w", err)
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Excerpt string `json:"excerpt"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse reference response: %w", err)
	}

	now := time.Now().UnixMilli()
	out := make([]Item, 0, limit)
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		out = append(out, Item{
			ID:            "evd-" + uuid.NewString(),
			Kind:          KindReference,
			SourceID:      s.ID(),
			Title:         strings.TrimSpace(r.Title),
			URL:           r.URL,
			Excerpt:       strings.TrimSpace(r.Excerpt),
			Reliability:   reliabilityFor(KindReference, r.URL),
			RetrievedAtMS: now,
		})
	}
	return out, nil
}
