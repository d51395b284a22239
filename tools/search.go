package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const serpAPIBaseURL = "https://serpapi.com/search"

var searchLogger = logrus.WithField("capability", "search")

// SearchResult is one web search hit, in provider ranking order.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// SearchTool queries the web through SerpAPI. It backs both direct
// general-knowledge questions and the document QA web fallback.
type SearchTool struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewSearchTool(apiKey string) *SearchTool {
	return &SearchTool{
		APIKey:  apiKey,
		BaseURL: serpAPIBaseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *SearchTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "google_search",
		Purpose: "Search the web. Use this for general knowledge questions and for information missing from uploaded documents.",
		Args: []ArgSpec{
			{Name: "query", Type: ArgTypeString, Required: true, Description: "The search query"},
		},
	}
}

type serpAPIPayload struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
}

// Search runs the query and returns ranked results. Any transport or
// non-200 failure maps to ErrProviderUnavailable so the reasoning loop can
// fold it into context instead of failing the request.
func (t *SearchTool) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", t.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search API returned status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var payload serpAPIPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode search response: %v", ErrProviderUnavailable, err)
	}

	results := make([]SearchResult, 0, len(payload.OrganicResults))
	for _, r := range payload.OrganicResults {
		results = append(results, SearchResult{Title: r.Title, Snippet: r.Snippet, URL: r.Link})
	}
	return results, nil
}

func (t *SearchTool) Execute(ctx context.Context, args Args) (string, error) {
	query := args.String("query")
	start := time.Now()

	results, err := t.Search(ctx, query)
	if err != nil {
		searchLogger.WithError(err).WithField("query", query).Error("Web search failed")
		return "", err
	}

	searchLogger.WithFields(logrus.Fields{
		"query":         query,
		"resultCount":   len(results),
		"executionTime": time.Since(start),
	}).Info("Web search completed")

	if len(results) == 0 {
		return "No search results found for: " + query, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.Snippet, r.URL)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var _ Capability = (*SearchTool)(nil)
