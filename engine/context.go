package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/diff"
	"github.com/uisync/uisync/page"
	"github.com/uisync/uisync/session"
)

// localViewModel is the working copy of the view model one processor mutates
// during a transaction, tagged with the instance generation it was taken
// from. The map identity is stable for the life of the processor: page logic
// holds a reference to it, and post-suspension refreshes replace its
// contents in place.
type localViewModel struct {
	instanceID int64
	viewModel  map[string]any
}

// Context is the per-transaction processor state. It implements
// page.Context, so it is also the service surface handed to page logic.
//
// The mutex is the processor lock: it is held for every synchronous
// processing segment and released only across a WaitFor suspension, so
// response delivery (which acquires it) can interleave with processing only
// at suspension points or after completion.
type Context struct {
	engine   *Engine
	ctx      context.Context
	session  *session.Session
	request  *protocol.Request
	response *protocol.Response

	mu sync.Mutex

	local                 *localViewModel
	navigatedToInstanceID int64
	obsolete              bool
	interim               bool

	// posted is set while a response production handed to the broker has not
	// run yet. The broker stops reporting WritePending the moment a parked
	// consumer claims the constructor, which can be well before the consumer
	// gets to run it; without this flag a processor that kept the lock across
	// an interim update would double-post.
	posted bool
}

// isCurrentInstance reports whether instanceID identifies the session's
// live module instance. Zero is never current.
func (c *Context) isCurrentInstance(instanceID int64) bool {
	mi := c.session.ModuleInstance
	return instanceID != 0 && mi != nil && mi.InstanceID == instanceID
}

func (c *Context) localInstanceID() int64 {
	if c.local == nil {
		return 0
	}
	return c.local.instanceID
}

// initLocalViewModel seeds the processor's working view model. When a
// transient server view model exists it represents the live state of a
// sibling processor that suspended on this instance, and takes precedence
// over the client-acknowledged snapshot.
func (c *Context) initLocalViewModel() {
	mi := c.session.ModuleInstance
	if mi == nil {
		return
	}
	c.local = &localViewModel{instanceID: mi.InstanceID}
	if mi.ServerViewModel != nil {
		c.local.viewModel = diff.CloneMap(mi.ServerViewModel.ViewModel)
	} else {
		c.local.viewModel = diff.CloneMap(mi.ClientViewModel.ViewModel)
	}
}

func (c *Context) putSession() error {
	if err := c.engine.store.Put(c.ctx, c.session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (c *Context) valid(method string) error {
	if c == nil || c.engine == nil || c.session == nil {
		return fmt.Errorf("%s requires a valid transaction context", method)
	}
	return nil
}

// ShowMessage attaches a message box to the pending response.
func (c *Context) ShowMessage(messageBox map[string]any) error {
	if err := c.valid("ShowMessage"); err != nil {
		return err
	}
	c.response.MessageBox = messageBox
	return nil
}

// NavigateTo replaces the current back stack frame and activates route.
func (c *Context) NavigateTo(route string, params map[string]any) error {
	if err := c.valid("NavigateTo"); err != nil {
		return err
	}
	m, ok := c.engine.registry.Get(route)
	if !ok {
		return fmt.Errorf("attempted to navigate to page that does not exist: %s", route)
	}
	if c.obsolete {
		c.emit(EventNavigateIgnored, slog.LevelWarn, "engine.NavigateTo",
			map[string]any{"route": route})
		return nil
	}
	session.NewBackStack(c.session).UpdateCurrent(route, params)
	return c.engine.populateNewPageResponse(c, route, m, params, nil)
}

// PushAndNavigateTo attaches state to the outgoing frame, pushes a new frame
// for route, and activates it.
func (c *Context) PushAndNavigateTo(route string, params, state map[string]any) error {
	if err := c.valid("PushAndNavigateTo"); err != nil {
		return err
	}
	m, ok := c.engine.registry.Get(route)
	if !ok {
		return fmt.Errorf("attempted to navigate to page that does not exist: %s", route)
	}
	if c.obsolete {
		c.emit(EventNavigateIgnored, slog.LevelWarn, "engine.PushAndNavigateTo",
			map[string]any{"route": route})
		return nil
	}
	session.NewBackStack(c.session).PushCurrentAndAddNew(route, params, state)
	return c.engine.populateNewPageResponse(c, route, m, params, nil)
}

// Pop navigates to the previous back stack frame.
func (c *Context) Pop() error {
	if err := c.valid("Pop"); err != nil {
		return err
	}
	if c.obsolete {
		c.emit(EventNavigateIgnored, slog.LevelWarn, "engine.Pop", nil)
		return nil
	}
	frame := session.NewBackStack(c.session).Pop()
	if frame == nil {
		return fmt.Errorf("attempted to navigate via Pop when back stack is empty")
	}
	m, ok := c.engine.registry.Get(frame.Route)
	if !ok {
		return fmt.Errorf("no module registered for back stack route: %s", frame.Route)
	}
	return c.engine.populateNewPageResponse(c, frame.Route, m, frame.Params, frame.State)
}

// PopTo truncates the back stack to the most recent frame for route and
// navigates to it.
func (c *Context) PopTo(route string) error {
	if err := c.valid("PopTo"); err != nil {
		return err
	}
	if c.obsolete {
		c.emit(EventNavigateIgnored, slog.LevelWarn, "engine.PopTo",
			map[string]any{"route": route})
		return nil
	}
	frame := session.NewBackStack(c.session).PopTo(route)
	if frame == nil {
		return fmt.Errorf("attempted to navigate via PopTo to route %q which is not on the back stack", route)
	}
	m, ok := c.engine.registry.Get(frame.Route)
	if !ok {
		return fmt.Errorf("no module registered for back stack route: %s", frame.Route)
	}
	return c.engine.populateNewPageResponse(c, frame.Route, m, frame.Params, frame.State)
}

// InterimUpdate sends a partial response carrying the view model changes
// made so far, followed by a Continue next-request on the same transaction.
func (c *Context) InterimUpdate() error {
	if err := c.valid("InterimUpdate"); err != nil {
		return err
	}
	c.engine.sendUpdate(c, true)
	return nil
}

// IsActiveInstance reports whether this processor still tracks the
// session's live module instance.
func (c *Context) IsActiveInstance() bool {
	if c == nil || c.session == nil {
		return false
	}
	return c.isCurrentInstance(c.localInstanceID())
}

// Metrics returns the session's last reported device and view metrics.
func (c *Context) Metrics() protocol.Metrics {
	if c == nil || c.session == nil {
		return protocol.Metrics{}
	}
	return protocol.Metrics{
		DeviceMetrics: c.session.DeviceMetrics,
		ViewMetrics:   c.session.ViewMetrics,
	}
}

// WaitFor runs a blocking operation without blocking other sessions or
// transactions. Before the call, the processor's in-progress view model is
// published to the session (when still on the live instance) and the session
// is persisted; the processor lock is released for the duration of the call.
// On resume the session is reloaded and merged: user data contents are
// refreshed in place so references held by page logic stay valid, and the
// working view model is rebased onto the transient server view model, which
// a sibling processor may have advanced meanwhile. If another processor
// navigated away during the wait, this processor stops tracking the live
// instance and will not emit further view model updates as its owner.
func (c *Context) WaitFor(op page.Operation) (any, error) {
	if err := c.valid("WaitFor"); err != nil {
		return nil, err
	}

	waitingOnCurrent := c.isCurrentInstance(c.localInstanceID())
	if waitingOnCurrent {
		c.session.ModuleInstance.ServerViewModel = &session.ServerViewModel{
			ViewModel: diff.CloneMap(c.local.viewModel),
		}
	}

	// Persisted even when not on the live instance, so session changes such
	// as user data are visible to other processors during the wait.
	if err := c.putSession(); err != nil {
		return nil, err
	}

	c.emit(EventSuspend, slog.LevelDebug, "engine.WaitFor",
		map[string]any{"current_instance": waitingOnCurrent})

	c.mu.Unlock()
	result, opErr := op(c.ctx)
	c.mu.Lock()

	c.emit(EventResume, slog.LevelDebug, "engine.WaitFor", nil)

	// Session data may have changed while suspended; reload and merge.
	fresh, err := c.engine.store.Get(c.ctx, c.session.ID)
	if err != nil {
		if opErr != nil {
			return nil, opErr
		}
		return nil, fmt.Errorf("failed to reload session after wait: %w", err)
	}

	// Page logic holds a reference to the user data map; refresh its
	// contents in place so that reference stays valid.
	userData := c.session.UserData
	c.session = fresh
	if userData != nil {
		diff.ReplaceContents(userData, fresh.UserData)
		c.session.UserData = userData
	}

	if c.isCurrentInstance(c.localInstanceID()) {
		if c.session.ModuleInstance.ServerViewModel != nil {
			diff.ReplaceContents(c.local.viewModel,
				diff.CloneMap(c.session.ModuleInstance.ServerViewModel.ViewModel))
		}
	} else if waitingOnCurrent {
		c.emit(EventInstanceLost, slog.LevelWarn, "engine.WaitFor", nil)
	}

	return result, opErr
}
