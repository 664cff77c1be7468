package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/diff"
	"github.com/uisync/uisync/page"
	"github.com/uisync/uisync/session"
)

// Process runs one transaction request against a session. The response is
// published through the broker under the session and transaction key, so a
// transport long-polling Read on that key is always unblocked, error or not.
//
// Continue requests are not dispatched: they exist so the client keeps
// listening on the transaction's channel, and are satisfied entirely by the
// broker.
func (e *Engine) Process(ctx context.Context, sess *session.Session, req *protocol.Request) {
	if sess.UserData == nil {
		sess.UserData = map[string]any{}
	}

	c := &Context{
		engine:   e,
		ctx:      ctx,
		session:  sess,
		request:  req,
		response: &protocol.Response{Path: req.Path},
	}

	c.emit(EventRequest, slog.LevelInfo, "engine.Process", map[string]any{
		"mode":             string(req.Mode),
		"path":             req.Path,
		"instance_id":      req.InstanceID,
		"instance_version": req.InstanceVersion,
	})

	if req.Mode == protocol.ModeContinue {
		return
	}

	c.mu.Lock()
	if err := e.dispatch(c); err != nil {
		e.applyError(c, err)
	}
	e.sendUpdate(c, false)
	c.mu.Unlock()
}

// dispatch reconciles instance identity, applies client deltas, and runs the
// mode-specific logic. Any error it returns is converted to the response's
// error payload before the update is shipped; no view-model-advancing
// writeback has happened by then.
func (e *Engine) dispatch(c *Context) error {
	req := c.request
	sess := c.session

	route, err := e.resolveRoute(c)
	if err != nil {
		return err
	}

	// Metrics arrive once at session start (device) and again whenever the
	// client's view changes, such as on rotation.
	if req.DeviceMetrics != nil {
		sess.DeviceMetrics = req.DeviceMetrics
	}
	if req.ViewMetrics != nil {
		sess.ViewMetrics = req.ViewMetrics
	}

	m, ok := e.registry.Get(route)
	if !ok {
		return &ClientError{Message: "no route found for path: " + route}
	}

	if err := e.applyClientDeltas(c, m); err != nil {
		return err
	}

	switch req.Mode {
	case protocol.ModePage:
		session.NewBackStack(sess).Init(route)
		if err := e.populateNewPageResponse(c, route, m, nil, nil); err != nil {
			return err
		}
		c.initLocalViewModel()

	case protocol.ModeResync:
		if req.InstanceID <= 0 || req.InstanceVersion < 0 {
			return &ClientError{Message: "resync request did not contain instance id and instance version"}
		}
		// The current full view model is attached at delivery time; a
		// client on a stale instance additionally needs the view itself.
		if !c.isCurrentInstance(req.InstanceID) {
			view, err := e.getView(c, m, sess.ModuleInstance.ClientViewModel.ViewModel, false)
			if err != nil {
				return err
			}
			c.response.Path = route
			c.response.View = view
			c.response.Back = backFlag(e.backAvailable(c, m))
		}

	case protocol.ModeLoadPage:
		if m.LoadViewModel != nil {
			if err := e.callUserCode("LoadViewModel", func() error {
				return m.LoadViewModel(c, sess.UserData, c.local.viewModel)
			}); err != nil {
				return err
			}
		}

	case protocol.ModeBack:
		if m.OnBack != nil {
			if err := e.callUserCode("OnBack", func() error {
				return m.OnBack(c, sess.UserData, c.local.viewModel)
			}); err != nil {
				return err
			}
		} else {
			if err := c.Pop(); err != nil {
				return &UserCodeError{Method: "Pop", Err: err}
			}
		}

	case protocol.ModeUpdate:
		// Client deltas were already applied; nothing else to run.

	case protocol.ModeCommand:
		if err := e.runCommand(c, m); err != nil {
			return err
		}

	case protocol.ModeViewUpdate:
		if err := e.handleViewUpdate(c, m); err != nil {
			return err
		}

	default:
		return &ClientError{Message: fmt.Sprintf("unknown request mode: %s", req.Mode)}
	}

	return nil
}

// resolveRoute performs instance-identity reconciliation ahead of mode
// dispatch and returns the route whose module should process the request.
func (e *Engine) resolveRoute(c *Context) (string, error) {
	req := c.request
	sess := c.session

	switch {
	case req.Mode == protocol.ModePage:
		if req.Path == "" {
			return "", &ClientError{Message: "received Page request with no path"}
		}
		return req.Path, nil

	case req.Mode == protocol.ModeResync:
		// A resync always receives the current instance's view model, so
		// the active route is the current instance's path.
		if sess.ModuleInstance == nil {
			return "", &SyncError{
				Message: "received Resync request but server has no active instance",
				Request: req,
			}
		}
		return sess.ModuleInstance.Path, nil

	case req.InstanceID > 0:
		if sess.ModuleInstance == nil {
			// The session has been lost or corrupted; the only safe
			// recovery is an app-level reset by the client, which detects
			// this from the response carrying no instance id.
			return "", &SyncError{
				Message: fmt.Sprintf("received request for instance id %d, but server has no active instance", req.InstanceID),
				Request: req,
			}
		}
		if !c.isCurrentInstance(req.InstanceID) {
			// The client sent a request for an instance that has been
			// navigated away from; only the client can know whether to
			// replay it or resync.
			return "", &SyncError{
				Message: fmt.Sprintf("received request for non-current instance id: %d", req.InstanceID),
				Request: req,
			}
		}

		route := sess.ModuleInstance.Path
		if req.Path != "" && req.Path != route {
			return "", &ClientError{Message: fmt.Sprintf(
				"request specified current instance, but incorrect path - request path: %s, current instance path: %s",
				req.Path, route)}
		}

		if req.InstanceVersion == 0 {
			return "", &ClientError{Message: fmt.Sprintf("received Mode: %s request with no instance version", req.Mode)}
		}
		if req.InstanceVersion != sess.ModuleInstance.ClientViewModel.InstanceVersion {
			// Tolerated: commands and interim updates must not be blocked
			// by version skew from in-flight concurrent requests.
			c.emit(EventVersionSkew, slog.LevelWarn, "engine.Process", map[string]any{
				"request_version": req.InstanceVersion,
				"current_version": sess.ModuleInstance.ClientViewModel.InstanceVersion,
			})
		}
		return route, nil

	default:
		return "", &ClientError{Message: fmt.Sprintf("received Mode: %s request with no instance id", req.Mode)}
	}
}

// applyClientDeltas applies client-sent view model edits to the
// acknowledged client view model and, when present, the transient server
// view model, persists the session, seeds the processor's working view
// model, and notifies page logic of the external changes.
func (e *Engine) applyClientDeltas(c *Context, m *page.Module) error {
	req := c.request
	mi := c.session.ModuleInstance

	if len(req.ViewModelDeltas) == 0 || mi == nil {
		c.initLocalViewModel()
		return nil
	}

	before := diff.CloneMap(mi.ClientViewModel.ViewModel)

	for _, change := range req.ViewModelDeltas {
		if err := applyClientChange(mi.ClientViewModel.ViewModel, change); err != nil {
			return &ClientError{Message: fmt.Sprintf("invalid view model delta: %v", err)}
		}
		if mi.ServerViewModel != nil {
			if err := applyClientChange(mi.ServerViewModel.ViewModel, change); err != nil {
				return &ClientError{Message: fmt.Sprintf("invalid view model delta: %v", err)}
			}
		}
	}

	if err := c.putSession(); err != nil {
		return err
	}

	c.initLocalViewModel()

	if m.OnViewModelChange != nil {
		changes := diff.Changes(before, c.local.viewModel)
		if len(changes) > 0 {
			return e.callUserCode("OnViewModelChange", func() error {
				return m.OnViewModelChange(c, c.session.UserData, c.local.viewModel, page.SourceView, changes)
			})
		}
	}
	return nil
}

func applyClientChange(viewModel map[string]any, change protocol.ChangeRecord) error {
	if viewModel == nil {
		return nil
	}
	if change.Change == protocol.ChangeRemove {
		return diff.RemoveValue(viewModel, change.Path)
	}
	return diff.SetValue(viewModel, change.Path, diff.Clone(change.Value))
}

func (e *Engine) runCommand(c *Context, m *page.Module) error {
	req := c.request
	if req.Command == "" {
		return &ClientError{Message: "mode was Command, but no command was specified"}
	}
	handler, ok := m.Commands[req.Command]
	if !ok {
		return &ClientError{Message: "command not found: " + req.Command}
	}

	if err := e.callUserCode("Command."+req.Command, func() error {
		return handler(c, c.session.UserData, c.local.viewModel, req.Parameters)
	}); err != nil {
		return err
	}

	return e.notifyViewModelChange(c, m, page.SourceCommand)
}

func (e *Engine) handleViewUpdate(c *Context, m *page.Module) error {
	sess := c.session

	if m.OnViewMetricsChange != nil {
		if err := e.callUserCode("OnViewMetricsChange", func() error {
			return m.OnViewMetricsChange(c, sess.UserData, c.local.viewModel, c.Metrics())
		}); err != nil {
			return err
		}
		if err := e.notifyViewModelChange(c, m, page.SourceViewMetrics); err != nil {
			return err
		}
	}

	// Re-render only when this processor still owns the live instance.
	if !c.isCurrentInstance(c.localInstanceID()) || !sess.ModuleInstance.Dynamic {
		return nil
	}

	view, err := e.getView(c, m, c.local.viewModel, true)
	if err != nil {
		return err
	}
	hash := viewHash(view)
	if sess.ModuleInstance.ViewHash == hash {
		return nil
	}
	sess.ModuleInstance.ViewHash = hash
	c.response.View = view
	c.response.Back = backFlag(e.backAvailable(c, m))
	return nil
}

// notifyViewModelChange invokes the page's change handler when processing
// has diverged the working view model from the acknowledged snapshot.
func (e *Engine) notifyViewModelChange(c *Context, m *page.Module, source page.Source) error {
	if m.OnViewModelChange == nil || c.local == nil {
		return nil
	}
	changes := diff.Changes(c.session.ModuleInstance.ClientViewModel.ViewModel, c.local.viewModel)
	if len(changes) == 0 {
		return nil
	}
	return e.callUserCode("OnViewModelChange", func() error {
		return m.OnViewModelChange(c, c.session.UserData, c.local.viewModel, source, changes)
	})
}

// applyError converts a dispatch failure into the response's structured
// error payload. Sync errors carry the current instance identity and the
// offending request so the client can decide whether to replay or reset.
func (e *Engine) applyError(c *Context, err error) {
	c.emit(EventError, slog.LevelError, "engine.Process", map[string]any{
		"error": err.Error(),
		"kind":  errorName(err),
	})

	c.response.Error = &protocol.Error{
		Name:    errorName(err),
		Message: err.Error(),
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		if mi := c.session.ModuleInstance; mi != nil {
			c.response.InstanceID = mi.InstanceID
			c.response.InstanceVersion = mi.ClientViewModel.InstanceVersion
		}
		c.response.Error.Request = syncErr.Request
	}
}
