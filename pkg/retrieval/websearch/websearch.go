// Package websearch queries the Bing Web Search v7 API and returns typed
// results. Failures never cross the package boundary as Go errors.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"turnrelay/pkg/chat"
)

const (
	DefaultEndpoint = "https://api.bing.microsoft.com/v7.0/search"
	DefaultTopK     = 5

	defaultTimeout     = 10 * time.Second
	defaultRecencyDays = 7
	subscriptionHeader = "Ocp-Apim-Subscription-Key"
	maxErrorBodyBytes  = 512

	TypeText  = "text"
	TypeError = "error"
)

// KeySource resolves the subscription key by secret name.
type KeySource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Result is the outcome of one search. Type is "error" on failure and
// Message then carries the operator-facing reason.
type Result struct {
	Type    string             `json:"type"`
	Message string             `json:"message,omitempty"`
	Content string             `json:"content,omitempty"`
	Sources []chat.ContextItem `json:"sources,omitempty"`
}

// Failed reports whether the result is an error result.
func (r Result) Failed() bool {
	return r.Type == TypeError
}

// Options configures a Client.
type Options struct {
	Endpoint          string
	SecretName        string
	Timeout           time.Duration
	RecencyDays       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is a rate-limited Bing search client.
type Client struct {
	endpoint    string
	secretName  string
	keys        KeySource
	httpClient  *http.Client
	limiter     *rate.Limiter
	recencyDays int
	log         *slog.Logger
}

type bingResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

// New constructs a client. A zero RequestsPerSecond disables rate limiting.
func New(opts Options, keys KeySource, log *slog.Logger) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	recency := opts.RecencyDays
	if recency <= 0 {
		recency = defaultRecencyDays
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Client{
		endpoint:    endpoint,
		secretName:  strings.TrimSpace(opts.SecretName),
		keys:        keys,
		httpClient:  httpClient,
		limiter:     limiter,
		recencyDays: recency,
		log:         log.With("component", "retrieval.websearch"),
	}
}

// Search runs one query and truncates the results to topK. topK <= 0 selects
// the default of 5.
func (c *Client) Search(ctx context.Context, query string, topK int) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return errorResult("Missing query")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	log := c.log.With("operation", "search")
	startedAt := time.Now()

	apiKey, err := c.apiKey(ctx)
	if err != nil {
		log.Warn("Web search credential unavailable", "error", err)
		return errorResult(err.Error())
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errorResult(fmt.Sprintf("rate limit wait: %v", err))
	}

	log.Debug("provider request started", "query_length", len(query), "top_k", topK)
	items, err := c.fetch(ctx, apiKey, query)
	if err != nil {
		log.Error("Web search failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return errorResult(err.Error())
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "results", len(items))

	if len(items) > topK {
		items = items[:topK]
	}

	return Result{
		Type:    TypeText,
		Content: RenderContent(items),
		Sources: items,
	}
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	if c.secretName == "" {
		return "", errors.New("web search api key secret is not configured")
	}
	if c.keys == nil {
		return "", errors.New("web search secret store is not configured")
	}

	key, err := c.keys.GetSecret(ctx, c.secretName)
	if err != nil {
		return "", fmt.Errorf("read web search api key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("web search api key is empty")
	}

	return key, nil
}

func (c *Client) fetch(ctx context.Context, apiKey, query string) ([]chat.ContextItem, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("recency", strconv.Itoa(c.recencyDays))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(subscriptionHeader, apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded bingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]chat.ContextItem, 0, len(decoded.WebPages.Value))
	for _, page := range decoded.WebPages.Value {
		items = append(items, chat.ContextItem{
			Title:   page.Name,
			URL:     page.URL,
			Snippet: page.Snippet,
		})
	}

	return items, nil
}

// RenderContent renders results as a plain-text list.
func RenderContent(items []chat.ContextItem) string {
	entries := make([]string, 0, len(items))
	for _, item := range items {
		entries = append(entries, fmt.Sprintf("- %s\n  %s\n  %s", item.Title, item.Snippet, item.URL))
	}

	return strings.Join(entries, "\n\n")
}

func errorResult(message string) Result {
	return Result{Type: TypeError, Message: message}
}
