// Package protocol defines the structured messages exchanged between a thin
// client and the synchronization engine: transaction requests, full or delta
// responses, and the change records that express view model edits.
//
// Identity scheme:
//
//	TransactionID   - client generated, correlates a request with every
//	                  partial and final response it produces
//	InstanceID      - server generated, monotonically increasing per session,
//	                  identifies one navigation generation of a page
//	InstanceVersion - server generated, monotonically increasing per instance,
//	                  identifies the view model snapshot the client holds
package protocol

// Mode selects the transaction kind carried by a Request.
type Mode string

const (
	// ModePage requests navigation to the page named by Path.
	ModePage Mode = "Page"
	// ModeLoadPage runs the page's load step; generated server-side as the
	// NextRequest of a Page response when the page defines one.
	ModeLoadPage Mode = "LoadPage"
	// ModeUpdate carries client view model deltas and nothing else.
	ModeUpdate Mode = "Update"
	// ModeCommand invokes a named command handler on the active page.
	ModeCommand Mode = "Command"
	// ModeViewUpdate reports changed view metrics (orientation and the like).
	ModeViewUpdate Mode = "ViewUpdate"
	// ModeBack navigates back through the session's back stack.
	ModeBack Mode = "Back"
	// ModeResync re-requests the authoritative current view and view model
	// after a suspected desync.
	ModeResync Mode = "Resync"
	// ModeContinue tells the client to keep listening for further responses
	// on the same transaction. Continue requests are satisfied entirely by
	// the response channel and are never dispatched to page logic.
	ModeContinue Mode = "Continue"
)

// ChangeType classifies a single change record.
type ChangeType string

const (
	// ChangeAdd records a member that is present in the new tree only.
	ChangeAdd ChangeType = "add"
	// ChangeUpdate records a primitive value change.
	ChangeUpdate ChangeType = "update"
	// ChangeRemove records a member that is absent from the new tree.
	ChangeRemove ChangeType = "remove"
	// ChangeObject records that the contents of a container changed; the
	// member changes follow as separate records beneath its path.
	ChangeObject ChangeType = "object"
)

// ChangeRecord is one entry in an ordered view model delta. Path is a
// dotted/bracketed field access expression into the view model tree, for
// example "items[2].label". Value is present for add and update only.
type ChangeRecord struct {
	Path   string     `json:"path"`
	Change ChangeType `json:"change"`
	Value  any        `json:"value,omitempty"`
}

// Metrics carries the device and view measurements last reported by the
// client. Both maps are opaque to the engine; they are stored on the session
// and handed to page logic and the view filter.
type Metrics struct {
	DeviceMetrics map[string]any `json:"deviceMetrics,omitempty"`
	ViewMetrics   map[string]any `json:"viewMetrics,omitempty"`
}

// Request is one client transaction step.
type Request struct {
	Mode            Mode           `json:"mode"`
	Path            string         `json:"path,omitempty"`
	TransactionID   int64          `json:"transactionId"`
	InstanceID      int64          `json:"instanceId,omitempty"`
	InstanceVersion int64          `json:"instanceVersion,omitempty"`
	Command         string         `json:"command,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	ViewModelDeltas []ChangeRecord `json:"viewModelDeltas,omitempty"`
	DeviceMetrics   map[string]any `json:"deviceMetrics,omitempty"`
	ViewMetrics     map[string]any `json:"viewMetrics,omitempty"`
}

// Error is the structured error payload a Response carries to the client.
// Request is attached for sync errors so the client can decide whether to
// replay the offending request or reset.
type Error struct {
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Request *Request `json:"request,omitempty"`
}

// Response is one partial or final reply within a transaction. A response
// carries at most one of ViewModel (full snapshot) or ViewModelDeltas
// (minimal delta); a response with neither is a no-op for the client's view
// model. NextRequest, when present, is a fully formed request the client
// must replay to continue the transaction.
type Response struct {
	TransactionID   int64          `json:"transactionId"`
	InstanceID      int64          `json:"instanceId,omitempty"`
	InstanceVersion int64          `json:"instanceVersion,omitempty"`
	Path            string         `json:"path,omitempty"`
	View            map[string]any `json:"view,omitempty"`
	ViewModel       map[string]any `json:"viewModel,omitempty"`
	ViewModelDeltas []ChangeRecord `json:"viewModelDeltas,omitempty"`
	NextRequest     *Request       `json:"nextRequest,omitempty"`
	Back            *bool          `json:"back,omitempty"`
	MessageBox      map[string]any `json:"messageBox,omitempty"`
	Error           *Error         `json:"error,omitempty"`
}
