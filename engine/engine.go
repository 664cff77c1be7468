// Package engine implements the request/response synchronization protocol:
// the mode-dispatch state machine, instance and version reconciliation,
// client delta application, view model diffing against the last acknowledged
// snapshot, and the cooperative suspension facility for page logic.
//
// The engine initializes from configuration via New, creating its subsystems
// internally. Functional options allow overrides of any subsystem.
//
//	e, err := engine.New(&cfg, engine.WithRegistry(pages))
//	e.Process(ctx, sess, req)
//	resp, err := e.Broker().Read(ctx, respond.Key(sess.ID, req.TransactionID))
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/diff"
	"github.com/uisync/uisync/observability"
	"github.com/uisync/uisync/page"
	"github.com/uisync/uisync/respond"
	"github.com/uisync/uisync/session"
)

// ViewFilter renders a view template against the client's device and view
// metrics. It is a pure function: it must not mutate its arguments or the
// engine's state. The filtering algorithm itself is a collaborator concern;
// the default filter deep-copies the template unchanged.
type ViewFilter func(deviceMetrics, viewMetrics, viewModel, viewTemplate map[string]any) map[string]any

func defaultViewFilter(_, _, _ map[string]any, viewTemplate map[string]any) map[string]any {
	return diff.CloneMap(viewTemplate)
}

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithStore overrides the config-created session store.
func WithStore(s session.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithRegistry sets the page module registry.
func WithRegistry(r *page.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithBroker overrides the default response broker.
func WithBroker(b *respond.Broker[*protocol.Response]) Option {
	return func(e *Engine) { e.broker = b }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithViewFilter overrides the default pass-through view filter.
func WithViewFilter(f ViewFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// Engine is the protocol engine. One Engine serves every session; each
// transaction is processed by its own logical processor (a Context), and
// concurrent processors coordinate exclusively through session store round
// trips and the response broker.
type Engine struct {
	registry *page.Registry
	store    session.Store
	broker   *respond.Broker[*protocol.Response]
	filter   ViewFilter
	observer observability.Observer
}

// New creates an Engine from configuration. The session store is built from
// its config section; options applied after initialization can override any
// subsystem.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	store, err := session.NewStore(&cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	e := &Engine{
		registry: page.NewRegistry(),
		store:    store,
		broker:   respond.NewBroker[*protocol.Response](),
		filter:   defaultViewFilter,
		observer: observability.NewSlogObserver(slog.Default()),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Registry returns the engine's page module registry.
func (e *Engine) Registry() *page.Registry {
	return e.registry
}

// Store returns the engine's session store.
func (e *Engine) Store() session.Store {
	return e.store
}

// Broker returns the response broker transports read responses from.
func (e *Engine) Broker() *respond.Broker[*protocol.Response] {
	return e.broker
}

// viewHash fingerprints a rendered view. encoding/json emits map keys in
// sorted order, so the encoding is canonical for view trees.
func viewHash(view map[string]any) string {
	data, err := json.Marshal(view)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isDynamicView(view map[string]any) bool {
	dynamic, ok := view["dynamic"].(bool)
	return ok && dynamic
}
