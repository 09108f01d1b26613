// Package dispatch routes decoded chat events and processes transport
// batches with per-record failure isolation.
package dispatch

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/failure"
	"turnrelay/pkg/notify"
	"turnrelay/pkg/observability"
	"turnrelay/pkg/provider"
	"turnrelay/pkg/retrieval"
)

// Deps wires the collaborators shared by the router, run handler and
// dispatcher. Only Registry and Notifier are required.
type Deps struct {
	Registry   *provider.Registry
	Resolver   *retrieval.Resolver
	Notifier   notify.Notifier
	Classifier *failure.Classifier
	Metrics    *observability.Metrics
	// Bus receives record lifecycle events when set.
	Bus          *bus.Bus
	Clock        chat.Clock
	NewSessionID func() string
	Logger       *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewSessionID == nil {
		d.NewSessionID = uuid.NewString
	}
	if d.Resolver == nil {
		d.Resolver = retrieval.NewResolver(nil, nil, 0, d.Logger)
	}
	if d.Classifier == nil && d.Notifier != nil {
		d.Classifier = failure.NewClassifier(d.Notifier, d.Logger,
			failure.WithClock(d.Clock),
			failure.WithObserver(d.Metrics.ObserveClassification),
		)
	}
	return d
}
