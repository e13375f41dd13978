package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	webSearchToolName   = "tavily"
	defaultSearchURL    = "https://api.tavily.com/search"
	defaultSearchLimit  = 5
	searchClientTimeout = 30 * time.Second
)

// WebSearchTool provides web_search over a Tavily-style search API.
type WebSearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWebSearchTool builds the tool. An empty baseURL uses the hosted API.
func NewWebSearchTool(apiKey, baseURL string) *WebSearchTool {
	if baseURL == "" {
		baseURL = defaultSearchURL
	}
	return &WebSearchTool{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: searchClientTimeout},
	}
}

func (t *WebSearchTool) Name() string { return webSearchToolName }

func (t *WebSearchTool) Capabilities() []string { return []string{CapWebSearch} }

func (t *WebSearchTool) Manifest() Manifest {
	return Manifest{
		Name:         webSearchToolName,
		Version:      "1.0",
		Description:  "Tavily web search",
		Capabilities: t.Capabilities(),
		ConfigKeys:   []string{"TAVILY_API_KEY"},
	}
}

func (t *WebSearchTool) HealthCheck(_ context.Context) error {
	if t.apiKey == "" {
		return errors.New("tavily: TAVILY_API_KEY not configured")
	}
	return nil
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Invoke runs one search. Non-200 responses and transport failures are
// returned as errors for the instrument to classify.
func (t *WebSearchTool) Invoke(ctx context.Context, call Call) (*Result, error) {
	if call.Query == "" {
		return nil, errors.New("tavily: query is required")
	}
	limit := call.MaxResults
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	body, err := json.Marshal(searchRequest{APIKey: t.apiKey, Query: call.Query, MaxResults: limit})
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: search returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}
	return &Result{Results: parsed.Results}, nil
}
