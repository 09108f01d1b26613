package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/config"
	"turnrelay/pkg/notify"
	"turnrelay/pkg/notify/telegram"
	"turnrelay/pkg/notify/websocket"
	"turnrelay/pkg/retrieval"
	"turnrelay/pkg/retrieval/weaviate"
	"turnrelay/pkg/retrieval/websearch"
	"turnrelay/pkg/secrets"
)

const (
	queueTypeMemory = "memory"
	queueTypeBadger = "badger"
)

// closer collects cleanup functions run on shutdown in reverse order.
type closer []func() error

func (c *closer) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closer) close(log *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("Shutdown step failed", "error", err)
		}
	}
}

func buildSecretStore(cfg *config.Config) secrets.Store {
	return secrets.NewCached(secrets.Chain{
		secrets.FileStore{Dir: cfg.Secrets.Dir},
		secrets.EnvStore{},
	})
}

// materializeSecrets exports the configured API key bundle. A missing bundle
// is logged and tolerated; adapters then report their own missing keys.
func materializeSecrets(ctx context.Context, cfg *config.Config, store secrets.Store, log *slog.Logger) {
	name := strings.TrimSpace(cfg.Secrets.APIKeysSecret)
	if name == "" {
		return
	}

	if _, err := secrets.Materialize(ctx, store, name, log); err != nil {
		log.Warn("API key secret unavailable", "secret", name, "error", err)
	}
}

func buildTransport(cfg *config.Config, log *slog.Logger) (bus.Transport, error) {
	visibility := time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second

	switch queueType := strings.ToLower(strings.TrimSpace(cfg.Queue.Type)); queueType {
	case "", queueTypeMemory:
		return bus.NewMemoryQueue(visibility), nil
	case queueTypeBadger:
		return bus.OpenDurableQueue(bus.DurableOptions{
			Path:       cfg.Queue.Path,
			Visibility: visibility,
			Logger:     log,
		})
	default:
		return nil, fmt.Errorf("unsupported queue.type %q", cfg.Queue.Type)
	}
}

// buildNotifier fans notifications out to every configured channel. The log
// notifier is always present so a bare config still shows output. Telegram
// is an operator mirror and never fails a record.
func buildNotifier(cfg *config.Config, log *slog.Logger, cleanup *closer) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLog(log)}

	if url := strings.TrimSpace(cfg.Notify.WebSocket.URL); url != "" {
		ws, err := websocket.New(cfg.Notify.WebSocket, log)
		if err != nil {
			return nil, fmt.Errorf("configure websocket notifier: %w", err)
		}
		cleanup.add(ws.Close)
		notifiers = append(notifiers, ws)
	}

	if cfg.Notify.Telegram.Enabled {
		tg, err := telegram.New(cfg.Notify.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram notifier: %w", err)
		}
		notifiers = append(notifiers, notify.NewBestEffort(tg, log))
	}

	return notifiers, nil
}

func buildResolver(cfg *config.Config, store secrets.Store, log *slog.Logger) (*retrieval.Resolver, error) {
	var internal retrieval.InternalRetriever
	if cfg.Retrieval.Weaviate.Enabled {
		retriever, err := weaviate.New(cfg.Retrieval.Weaviate, log)
		if err != nil {
			return nil, fmt.Errorf("configure weaviate retriever: %w", err)
		}
		internal = retriever
	}

	var web retrieval.WebSearcher
	if cfg.WebSearch.Enabled {
		web = websearch.New(websearch.Options{
			Endpoint:          cfg.WebSearch.Endpoint,
			SecretName:        cfg.WebSearch.APIKeySecret,
			Timeout:           time.Duration(cfg.WebSearch.TimeoutSeconds) * time.Second,
			RecencyDays:       cfg.WebSearch.RecencyDays,
			RequestsPerSecond: cfg.WebSearch.RequestsPerSecond,
		}, store, log)
	}

	return retrieval.NewResolver(internal, web, cfg.WebSearch.TopK, log), nil
}
