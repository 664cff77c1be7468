package session

import "github.com/uisync/uisync/diff"

// BackStack is the ordered navigation history of a session. It operates
// directly on the session record so every mutation is captured by the next
// store round trip.
type BackStack struct {
	session *Session
}

// NewBackStack wraps the session's navigation history.
func NewBackStack(s *Session) *BackStack {
	return &BackStack{session: s}
}

// Init resets the history to a single frame for route.
func (b *BackStack) Init(route string) {
	b.session.BackStack = []Frame{{Route: route}}
}

// Size returns the stack depth.
func (b *BackStack) Size() int {
	return len(b.session.BackStack)
}

// Current returns the top frame, or nil when the stack is empty.
func (b *BackStack) Current() *Frame {
	if len(b.session.BackStack) == 0 {
		return nil
	}
	return &b.session.BackStack[len(b.session.BackStack)-1]
}

// UpdateCurrent replaces the top frame's route and params without growing
// the stack. Used for same-instance in-place navigation; any state on the
// old frame is discarded.
func (b *BackStack) UpdateCurrent(route string, params map[string]any) {
	frame := Frame{Route: route}
	if params != nil {
		frame.Params = diff.CloneMap(params)
	}
	b.session.BackStack[len(b.session.BackStack)-1] = frame
}

// PushCurrentAndAddNew attaches state to the outgoing top frame, then pushes
// a new frame for route with the given params.
func (b *BackStack) PushCurrentAndAddNew(route string, params, state map[string]any) {
	if current := b.Current(); current != nil && state != nil {
		current.State = diff.CloneMap(state)
	}
	frame := Frame{Route: route}
	if params != nil {
		frame.Params = diff.CloneMap(params)
	}
	b.session.BackStack = append(b.session.BackStack, frame)
}

// Pop removes the top frame and returns the new top, or nil when the stack
// is exhausted.
func (b *BackStack) Pop() *Frame {
	if len(b.session.BackStack) > 0 {
		b.session.BackStack = b.session.BackStack[:len(b.session.BackStack)-1]
	}
	return b.Current()
}

// PopTo truncates the stack to the most recent frame whose route matches,
// scanning from the top, and returns that frame. When the route is absent
// the stack is left unmodified and PopTo returns nil.
func (b *BackStack) PopTo(route string) *Frame {
	for n := len(b.session.BackStack) - 1; n >= 0; n-- {
		if b.session.BackStack[n].Route == route {
			b.session.BackStack = b.session.BackStack[:n+1]
			return b.Current()
		}
	}
	return nil
}
