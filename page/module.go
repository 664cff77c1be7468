// Package page defines the contract between the synchronization engine and
// externally supplied page logic: the per-route Module of optional handlers,
// the services handed to those handlers, and the route registry the engine
// resolves paths through.
package page

import (
	"context"

	"github.com/uisync/uisync/core/protocol"
)

// Source identifies where a batch of view model changes originated when
// OnViewModelChange is invoked.
type Source string

const (
	// SourceView marks edits sent by the client view.
	SourceView Source = "view"
	// SourceCommand marks edits page logic made while running a command.
	SourceCommand Source = "command"
	// SourceViewMetrics marks edits made in response to a metrics change.
	SourceViewMetrics Source = "viewMetrics"
)

// Operation is a blocking external call page logic hands to Context.WaitFor.
// It runs with the transaction's context; its own timeout policy is its own
// concern.
type Operation func(ctx context.Context) (any, error)

// Context is the set of engine services available to page logic for the
// duration of one transaction. Every method validates that it is called on a
// live transaction context and fails with an error naming the method
// otherwise.
//
// Navigation calls on a processor whose instance has been superseded are
// ignored; use IsActiveInstance to detect that condition.
type Context interface {
	// NavigateTo replaces the current back stack frame and activates route.
	NavigateTo(route string, params map[string]any) error
	// PushAndNavigateTo attaches state to the current frame, pushes a new
	// frame, and activates route.
	PushAndNavigateTo(route string, params, state map[string]any) error
	// Pop navigates to the previous back stack frame.
	Pop() error
	// PopTo truncates the back stack to the most recent frame for route and
	// navigates to it.
	PopTo(route string) error
	// ShowMessage attaches a message box to the pending response.
	ShowMessage(messageBox map[string]any) error
	// WaitFor runs a blocking operation without blocking other sessions.
	// Session state is published before the call and re-merged after it;
	// see the engine's suspension semantics.
	WaitFor(op Operation) (any, error)
	// InterimUpdate sends a partial response carrying the view model
	// changes made so far, followed by a Continue next-request.
	InterimUpdate() error
	// IsActiveInstance reports whether this processor still tracks the
	// session's live module instance.
	IsActiveInstance() bool
	// Metrics returns the session's last reported device and view metrics.
	Metrics() protocol.Metrics
}

// CommandHandler executes one named command against the page's view model.
type CommandHandler func(c Context, userData, viewModel, params map[string]any) error

// Module is the page logic for one route. Every field is optional; a Module
// with only a View is a static page.
type Module struct {
	// View is the view template filtered against device and view metrics
	// whenever the page's view is (re)computed.
	View map[string]any

	// InitializeViewModel builds the initial view model when the page is
	// navigated to. Params come from the navigation, state from the back
	// stack frame being returned to.
	InitializeViewModel func(c Context, userData map[string]any, params, state map[string]any) (map[string]any, error)

	// InitializeView post-processes the filtered view. isViewMetricUpdate
	// distinguishes re-rendering after a metrics change from first render.
	InitializeView func(c Context, userData, viewModel, view map[string]any, metrics protocol.Metrics, isViewMetricUpdate bool) (map[string]any, error)

	// LoadViewModel is the page's load step. It runs as a LoadPage
	// follow-up transaction and may suspend via Context.WaitFor.
	LoadViewModel func(c Context, userData, viewModel map[string]any) error

	// OnBack overrides the default back stack pop for Back requests.
	OnBack func(c Context, userData, viewModel map[string]any) error

	// OnViewModelChange is notified of non-empty view model change batches
	// with their source.
	OnViewModelChange func(c Context, userData, viewModel map[string]any, source Source, changes []protocol.ChangeRecord) error

	// OnViewMetricsChange is notified when the client reports changed view
	// metrics.
	OnViewMetricsChange func(c Context, userData, viewModel map[string]any, metrics protocol.Metrics) error

	// Commands maps command names to handlers.
	Commands map[string]CommandHandler
}
