// Package retrieval turns a source-mode selector into an evidence block and
// merges it into the prompt sent to a model.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/retrieval/websearch"
)

const defaultWebTopK = 5

// InternalRetriever queries the internal knowledge base.
type InternalRetriever interface {
	Query(ctx context.Context, prompt, workspaceID, userID string) ([]chat.ContextItem, error)
}

// WebSearcher queries an external search provider. Provider failures come
// back as error results, never as Go errors.
type WebSearcher interface {
	Search(ctx context.Context, query string, topK int) websearch.Result
}

// Query describes one run's retrieval needs.
type Query struct {
	Prompt      string
	WorkspaceID string
	UserID      string
	SourceMode  string
	AllowWeb    *bool
}

// Resolved is the evidence gathered for one run.
type Resolved struct {
	Decision Decision
	Internal []chat.ContextItem
	Web      []chat.ContextItem
	// Block is empty when no source produced evidence.
	Block string
}

// Resolver gathers evidence from whichever collaborators are configured.
// Either collaborator may be nil.
type Resolver struct {
	internal InternalRetriever
	web      WebSearcher
	webTopK  int
	log      *slog.Logger
}

// NewResolver creates a resolver. webTopK <= 0 selects the default of 5.
func NewResolver(internal InternalRetriever, web WebSearcher, webTopK int, log *slog.Logger) *Resolver {
	if webTopK <= 0 {
		webTopK = defaultWebTopK
	}
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		internal: internal,
		web:      web,
		webTopK:  webTopK,
		log:      log.With("component", "retrieval.resolver"),
	}
}

// Resolve consults the sources selected by q.SourceMode. In hybrid mode both
// sources are queried concurrently. Internal retrieval errors are returned;
// web search failures degrade to no web evidence.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Resolved, error) {
	decision := Decide(q.SourceMode, q.AllowWeb)
	resolved := Resolved{Decision: decision}
	startedAt := time.Now()

	group, groupCtx := errgroup.WithContext(ctx)

	if decision.Internal && r.internal != nil {
		group.Go(func() error {
			items, err := r.internal.Query(groupCtx, q.Prompt, q.WorkspaceID, q.UserID)
			if err != nil {
				return fmt.Errorf("internal retrieval: %w", err)
			}
			resolved.Internal = items
			return nil
		})
	}

	if decision.Web && r.web != nil {
		group.Go(func() error {
			result := r.web.Search(groupCtx, q.Prompt, r.webTopK)
			if result.Failed() {
				r.log.Warn("Web search unavailable, continuing without web evidence", "error", result.Message)
				return nil
			}
			resolved.Web = result.Sources
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Resolved{Decision: decision}, err
	}

	resolved.Block = JoinBlocks(resolved.Internal, resolved.Web)
	r.log.Debug("Context resolved",
		"source_mode", decision.Mode,
		"reason", decision.Reason,
		"internal_items", len(resolved.Internal),
		"web_items", len(resolved.Web),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	return resolved, nil
}
