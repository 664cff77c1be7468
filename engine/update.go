package engine

import (
	"fmt"
	"log/slog"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/diff"
	"github.com/uisync/uisync/page"
	"github.com/uisync/uisync/respond"
	"github.com/uisync/uisync/session"
)

func backFlag(available bool) *bool {
	return &available
}

// callUserCode runs a page logic handler, converting both returned errors
// and panics into a UserCodeError attributing the handler by name.
func (e *Engine) callUserCode(method string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if recovered, ok := r.(error); ok {
				err = &UserCodeError{Method: method, Err: recovered}
				return
			}
			err = &UserCodeError{Method: method, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if callErr := fn(); callErr != nil {
		return &UserCodeError{Method: method, Err: callErr}
	}
	return nil
}

func (e *Engine) getViewModel(c *Context, m *page.Module, params, state map[string]any) (map[string]any, error) {
	viewModel := map[string]any{}
	if m.InitializeViewModel == nil {
		return viewModel, nil
	}
	err := e.callUserCode("InitializeViewModel", func() error {
		vm, initErr := m.InitializeViewModel(c, c.session.UserData, params, state)
		if initErr != nil {
			return initErr
		}
		if vm != nil {
			viewModel = vm
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewModel, nil
}

func (e *Engine) getView(c *Context, m *page.Module, viewModel map[string]any, isViewMetricUpdate bool) (map[string]any, error) {
	view := map[string]any{}
	if m.View != nil {
		view = e.filter(c.session.DeviceMetrics, c.session.ViewMetrics, viewModel, m.View)
	}
	if m.InitializeView == nil {
		return view, nil
	}
	err := e.callUserCode("InitializeView", func() error {
		v, initErr := m.InitializeView(c, c.session.UserData, viewModel, view, c.Metrics(), isViewMetricUpdate)
		if initErr != nil {
			return initErr
		}
		if v != nil {
			view = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// backAvailable reports whether the client should show a back affordance:
// either the page handles back explicitly or the stack supports a pop.
func (e *Engine) backAvailable(c *Context, m *page.Module) bool {
	return m.OnBack != nil || session.NewBackStack(c.session).Size() > 1
}

// populateNewPageResponse activates a new module instance for route and
// fills the response with its view. Replacing the module instance drops any
// transient server view model, which is intentional: a stored snapshot for
// a superseded instance is obsolete.
func (e *Engine) populateNewPageResponse(c *Context, route string, m *page.Module, params, state map[string]any) error {
	viewModel, err := e.getViewModel(c, m, params, state)
	if err != nil {
		return err
	}
	view, err := e.getView(c, m, viewModel, false)
	if err != nil {
		return err
	}

	var previousID int64
	if mi := c.session.ModuleInstance; mi != nil {
		previousID = mi.InstanceID
	}
	mi := &session.ModuleInstance{
		Path:       route,
		InstanceID: previousID + 1,
		ClientViewModel: session.ClientViewModel{
			InstanceVersion: 0,
			ViewModel:       viewModel,
		},
	}
	// The hash is only ever consulted for dynamic views; no use computing
	// it otherwise.
	if isDynamicView(view) {
		mi.Dynamic = true
		mi.ViewHash = viewHash(view)
	}
	c.session.ModuleInstance = mi

	if err := c.putSession(); err != nil {
		return err
	}

	c.navigatedToInstanceID = mi.InstanceID

	c.emit(EventNavigate, slog.LevelInfo, "engine.populateNewPageResponse", map[string]any{
		"route":       route,
		"instance_id": mi.InstanceID,
	})

	c.response.Path = route
	c.response.View = view
	c.response.Back = backFlag(e.backAvailable(c, m))

	if m.LoadViewModel != nil {
		c.response.NextRequest = &protocol.Request{
			Mode:            protocol.ModeLoadPage,
			Path:            route,
			TransactionID:   c.request.TransactionID,
			InstanceID:      mi.InstanceID,
			InstanceVersion: 1,
		}
	}
	return nil
}

// sendUpdate posts the transaction's next response to the broker. The
// response content is not computed here: production is deferred until a
// consumer is ready to receive it, so view model changes made between
// posting and delivery are still picked up. If a post is already outstanding
// no action is taken; the outstanding production will observe the newer
// state (including an interim update having become final) when it runs. An
// outstanding post is tracked on the processor itself in addition to the
// broker: a constructor handed to a parked consumer no longer counts as a
// pending write, but it cannot run until this processor releases the lock.
func (e *Engine) sendUpdate(c *Context, isInterim bool) {
	if c.obsolete {
		c.emit(EventUpdateObsolete, slog.LevelInfo, "engine.sendUpdate", nil)
		return
	}

	c.interim = isInterim

	key := respond.Key(c.session.ID, c.request.TransactionID)
	if c.posted || e.broker.WritePending(key) {
		c.emit(EventUpdatePending, slog.LevelDebug, "engine.sendUpdate",
			map[string]any{"channel": key})
		return
	}

	if err := e.broker.Write(key, func() *protocol.Response { return e.produceResponse(c) }); err != nil {
		c.emit(EventError, slog.LevelError, "engine.sendUpdate", map[string]any{
			"channel": key,
			"error":   err.Error(),
		})
		return
	}
	c.posted = true
}

// produceResponse finalizes and returns the pending response. It runs on
// the consumer's goroutine under the processor lock, so it can only
// interleave with processing at a suspension point or after completion.
//
// Priority of outcomes: a processor whose instance was superseded emits a
// no-op (cancelling any follow-up request) and goes obsolete; a processor
// that itself navigated sends the new instance's full view model; otherwise
// the current instance gets either the full view model (nothing acknowledged
// yet) or the minimal delta against the acknowledged snapshot. The
// acknowledged version advances only when content is actually carried.
func (e *Engine) produceResponse(c *Context) *protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.posted = false

	resp := c.response
	resp.TransactionID = c.request.TransactionID

	mi := c.session.ModuleInstance

	if resp.Error == nil && mi != nil {
		switch {
		case c.request.Mode == protocol.ModeResync:
			resp.ViewModel = diff.CloneMap(mi.ClientViewModel.ViewModel)

		case c.isCurrentInstance(c.localInstanceID()):
			if mi.ClientViewModel.InstanceVersion == 0 {
				// Nothing acknowledged yet; the client needs the whole
				// view model.
				resp.ViewModel = c.local.viewModel
				mi.ClientViewModel.ViewModel = diff.CloneMap(c.local.viewModel)
				mi.ClientViewModel.InstanceVersion = 1
			} else {
				updates := diff.Changes(mi.ClientViewModel.ViewModel, c.local.viewModel)
				if len(updates) > 0 {
					resp.ViewModelDeltas = updates
					mi.ClientViewModel.ViewModel = diff.CloneMap(c.local.viewModel)
					mi.ClientViewModel.InstanceVersion++
				}
			}

			if c.interim {
				resp.NextRequest = &protocol.Request{
					Mode:            protocol.ModeContinue,
					Path:            c.request.Path,
					TransactionID:   c.request.TransactionID,
					InstanceID:      mi.InstanceID,
					InstanceVersion: mi.ClientViewModel.InstanceVersion,
				}
			}

		case c.isCurrentInstance(c.navigatedToInstanceID):
			// This processor navigated here from another instance. Its own
			// in-progress view model belongs to the page it left; send the
			// new page's view model untouched.
			resp.ViewModel = diff.CloneMap(mi.ClientViewModel.ViewModel)
			mi.ClientViewModel.InstanceVersion = 1
			c.obsolete = true

		default:
			// Another processor on this session navigated away. Emitting
			// no view model content makes this response a no-op on the
			// client; cancel any follow-up request, which would target an
			// outdated page.
			resp.NextRequest = nil
			c.obsolete = true
		}

		resp.InstanceID = mi.InstanceID
		resp.InstanceVersion = mi.ClientViewModel.InstanceVersion
	}

	if resp.Error == nil {
		if mi != nil && mi.ServerViewModel != nil {
			// A transient server view model only exists while its owner is
			// suspended on the acknowledged instance, so refreshing it from
			// the acknowledged snapshot is safe in every branch above.
			mi.ServerViewModel.ViewModel = diff.CloneMap(mi.ClientViewModel.ViewModel)
		}

		if err := c.putSession(); err != nil {
			c.emit(EventError, slog.LevelError, "engine.produceResponse",
				map[string]any{"error": err.Error()})
		}

		if c.interim && resp.NextRequest != nil && c.local != nil {
			// The processor keeps going: start a fresh response and rebase
			// the working view model onto the acknowledged snapshot so
			// future diffs are computed from that baseline.
			c.response = &protocol.Response{Path: c.request.Path}
			diff.ReplaceContents(c.local.viewModel, diff.CloneMap(mi.ClientViewModel.ViewModel))
		}
	}

	c.emit(EventUpdateSent, slog.LevelInfo, "engine.produceResponse", map[string]any{
		"instance_id":      resp.InstanceID,
		"instance_version": resp.InstanceVersion,
		"interim":          c.interim,
		"error":            resp.Error != nil,
	})

	return resp
}
