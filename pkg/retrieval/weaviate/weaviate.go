// Package weaviate retrieves internal knowledge-base evidence with a Weaviate
// nearText query scoped to a workspace.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
)

const (
	defaultClassName = "Document"
	defaultTopK      = 5

	fieldTitle     = "title"
	fieldURL       = "url"
	fieldContent   = "content"
	fieldWorkspace = "workspace_id"
)

// Retriever queries one Weaviate class for passages similar to the prompt.
type Retriever struct {
	client    *weaviate.Client
	className string
	topK      int
	log       *slog.Logger
}

// New connects a retriever to the configured Weaviate instance.
func New(cfg config.WeaviateConfig, log *slog.Logger) (*Retriever, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, errors.New("retrieval.weaviate.url is required")
	}

	clientCfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	if host, ok := strings.CutPrefix(rawURL, "https://"); ok {
		clientCfg.Scheme = "https"
		clientCfg.Host = host
	} else if host, ok := strings.CutPrefix(rawURL, "http://"); ok {
		clientCfg.Host = host
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	className := strings.TrimSpace(cfg.ClassName)
	if className == "" {
		className = defaultClassName
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	if log == nil {
		log = slog.Default()
	}

	return &Retriever{
		client:    client,
		className: className,
		topK:      topK,
		log:       log.With("component", "retrieval.weaviate"),
	}, nil
}

// Query returns up to topK passages for the prompt. An empty workspace id
// searches the whole class.
func (r *Retriever) Query(ctx context.Context, prompt, workspaceID, userID string) ([]chat.ContextItem, error) {
	log := r.log.With("operation", "query")
	startedAt := time.Now()
	log.Debug("provider request started", "workspace_id", workspaceID, "user_id", userID, "prompt_length", len(prompt))

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{prompt})

	query := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(
			graphql.Field{Name: fieldTitle},
			graphql.Field{Name: fieldURL},
			graphql.Field{Name: fieldContent},
		).
		WithNearText(nearText).
		WithLimit(r.topK)

	if workspaceID = strings.TrimSpace(workspaceID); workspaceID != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{fieldWorkspace}).
			WithOperator(filters.Equal).
			WithValueString(workspaceID))
	}

	result, err := query.Do(ctx)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("knowledge base search: %w", err)
	}
	if len(result.Errors) > 0 {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", result.Errors[0].Message)
		return nil, fmt.Errorf("knowledge base search error: %s", result.Errors[0].Message)
	}

	items := parseResults(result, r.className)
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "results", len(items))

	return items, nil
}

func parseResults(result *models.GraphQLResponse, className string) []chat.ContextItem {
	if result == nil {
		return nil
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}

	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	items := make([]chat.ContextItem, 0, len(objects))
	for _, obj := range objects {
		fields, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, chat.ContextItem{
			Title:   getString(fields, fieldTitle),
			URL:     getString(fields, fieldURL),
			Snippet: getString(fields, fieldContent),
		})
	}

	return items
}

func getString(fields map[string]interface{}, key string) string {
	value, _ := fields[key].(string)
	return value
}
