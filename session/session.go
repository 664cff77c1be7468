// Package session defines the durable per-client Session record, the module
// instance identity model, the navigation back stack, and the keyed Store
// interface the engine persists sessions through.
package session

import (
	"github.com/uisync/uisync/diff"
)

// Session is the process-durable record for one client. It is the unit of
// sharing between concurrent processors: all cross-processor communication
// happens through store round trips of this record, never through shared
// in-memory state.
//
// UserData is owned by page logic and never interpreted by the engine.
type Session struct {
	ID             string          `json:"id"`
	UserData       map[string]any  `json:"userData,omitempty"`
	DeviceMetrics  map[string]any  `json:"deviceMetrics,omitempty"`
	ViewMetrics    map[string]any  `json:"viewMetrics,omitempty"`
	BackStack      []Frame         `json:"backStack,omitempty"`
	ModuleInstance *ModuleInstance `json:"moduleInstance,omitempty"`
}

// ModuleInstance identifies the page currently active on the client: one
// navigation generation, distinguished by a server-assigned id that
// increments on every navigation. A request bearing a stale InstanceID is
// rejected, never merged.
type ModuleInstance struct {
	Path            string           `json:"path"`
	InstanceID      int64            `json:"instanceId"`
	ClientViewModel ClientViewModel  `json:"clientViewModel"`
	ServerViewModel *ServerViewModel `json:"serverViewModel,omitempty"`

	// Dynamic and ViewHash are present only for view templates whose
	// rendering depends on runtime state; the hash suppresses redundant
	// view retransmission.
	Dynamic  bool   `json:"dynamic,omitempty"`
	ViewHash string `json:"viewHash,omitempty"`
}

// ClientViewModel is the last view model state acknowledged or sent to the
// client. InstanceVersion starts at 0 and increments only when a response
// actually carries view model content.
type ClientViewModel struct {
	InstanceVersion int64          `json:"instanceVersion"`
	ViewModel       map[string]any `json:"viewModel"`
}

// ServerViewModel is a transient snapshot written before a suspension point
// so concurrent processors on the same instance can observe in-progress
// changes. It exists only while such co-processing is possible.
type ServerViewModel struct {
	ViewModel map[string]any `json:"viewModel"`
}

// Frame is one back stack entry. State is attached to a frame when it is
// navigated away from, and handed back to the page when it is returned to.
type Frame struct {
	Route  string         `json:"route"`
	Params map[string]any `json:"params,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

// Clone deep-copies the session so stores can hand out isolated records.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:            s.ID,
		UserData:      cloneMap(s.UserData),
		DeviceMetrics: cloneMap(s.DeviceMetrics),
		ViewMetrics:   cloneMap(s.ViewMetrics),
	}
	if s.BackStack != nil {
		out.BackStack = make([]Frame, len(s.BackStack))
		for i, f := range s.BackStack {
			out.BackStack[i] = Frame{
				Route:  f.Route,
				Params: cloneMap(f.Params),
				State:  cloneMap(f.State),
			}
		}
	}
	if s.ModuleInstance != nil {
		mi := *s.ModuleInstance
		mi.ClientViewModel.ViewModel = cloneMap(mi.ClientViewModel.ViewModel)
		if mi.ServerViewModel != nil {
			mi.ServerViewModel = &ServerViewModel{
				ViewModel: cloneMap(mi.ServerViewModel.ViewModel),
			}
		}
		out.ModuleInstance = &mi
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return diff.CloneMap(m)
}
