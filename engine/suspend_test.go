package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/page"
	"github.com/uisync/uisync/respond"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not finish")
	}
}

// A load step that sends an interim update, suspends on an external call,
// and finishes with the call result. The client sees two responses on the
// same transaction: the interim one chained with a Continue request, then
// the final one.
func TestWaitFor_InterimThenFinal(t *testing.T) {
	e := newTestEngine(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	mustRegister(t, e, "poller", &page.Module{
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "idle"}, nil
		},
		LoadViewModel: func(c page.Context, userData, viewModel map[string]any) error {
			viewModel["status"] = "loading"
			if err := c.InterimUpdate(); err != nil {
				return err
			}
			result, err := c.WaitFor(func(ctx context.Context) (any, error) {
				close(entered)
				<-gate
				return "ready", nil
			})
			if err != nil {
				return err
			}
			viewModel["status"] = result
			return nil
		},
	})

	sess := newTestSession(t, e)
	first := processAndRead(t, e, sess, &protocol.Request{
		Mode: protocol.ModePage, Path: "poller", TransactionID: 1,
	})
	if first.NextRequest == nil {
		t.Fatal("got no LoadPage follow-up request")
	}

	loadSess := reloadSession(t, e, sess.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Process(context.Background(), loadSess, first.NextRequest)
	}()

	<-entered

	ctx := context.Background()
	key := respond.Key(sess.ID, first.NextRequest.TransactionID)

	interim, err := e.Broker().Read(ctx, key)
	if err != nil {
		t.Fatalf("Read() interim error = %v", err)
	}
	if interim.Error != nil {
		t.Fatalf("got interim error %+v, want none", interim.Error)
	}
	wantDeltas := []protocol.ChangeRecord{
		{Path: "status", Change: protocol.ChangeUpdate, Value: "loading"},
	}
	if d := cmp.Diff(wantDeltas, interim.ViewModelDeltas); d != "" {
		t.Errorf("interim deltas mismatch (-want +got):\n%s", d)
	}
	if interim.InstanceVersion != 2 {
		t.Errorf("got interim InstanceVersion %d, want 2", interim.InstanceVersion)
	}
	if interim.NextRequest == nil {
		t.Fatal("got no Continue request on interim response")
	}
	if interim.NextRequest.Mode != protocol.ModeContinue {
		t.Errorf("got NextRequest mode %q, want %q", interim.NextRequest.Mode, protocol.ModeContinue)
	}
	if interim.NextRequest.TransactionID != first.NextRequest.TransactionID {
		t.Errorf("got NextRequest transaction %d, want same transaction %d",
			interim.NextRequest.TransactionID, first.NextRequest.TransactionID)
	}

	// A Continue request is satisfied by the broker alone; processing it
	// must not produce a second pending write.
	e.Process(ctx, reloadSession(t, e, sess.ID), interim.NextRequest)

	close(gate)
	waitDone(t, done)

	final, err := e.Broker().Read(ctx, key)
	if err != nil {
		t.Fatalf("Read() final error = %v", err)
	}
	if final.Error != nil {
		t.Fatalf("got final error %+v, want none", final.Error)
	}
	wantDeltas = []protocol.ChangeRecord{
		{Path: "status", Change: protocol.ChangeUpdate, Value: "ready"},
	}
	if d := cmp.Diff(wantDeltas, final.ViewModelDeltas); d != "" {
		t.Errorf("final deltas mismatch (-want +got):\n%s", d)
	}
	if final.InstanceVersion != 3 {
		t.Errorf("got final InstanceVersion %d, want 3", final.InstanceVersion)
	}
	if final.NextRequest != nil {
		t.Errorf("got NextRequest %+v on final response, want nil", final.NextRequest)
	}
}

// A command that suspends repeatedly yields one interim response per
// suspension, each chained with a Continue request, and terminates in a
// final response with no follow-up and nothing left to deliver.
func TestWaitFor_MultipleInterimUpdates(t *testing.T) {
	e := newTestEngine(t)

	entered := make(chan struct{}, 2)
	gate := make(chan struct{})
	step := func(ctx context.Context) (any, error) {
		entered <- struct{}{}
		<-gate
		return nil, nil
	}
	mustRegister(t, e, "job", &page.Module{
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"progress": 0}, nil
		},
		Commands: map[string]page.CommandHandler{
			"run": func(c page.Context, userData, viewModel, params map[string]any) error {
				for i := 1; i <= 2; i++ {
					viewModel["progress"] = i
					if err := c.InterimUpdate(); err != nil {
						return err
					}
					if _, err := c.WaitFor(step); err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	sess := newTestSession(t, e)
	processAndRead(t, e, sess, &protocol.Request{
		Mode: protocol.ModePage, Path: "job", TransactionID: 1,
	})

	cmdSess := reloadSession(t, e, sess.ID)
	req := &protocol.Request{
		Mode: protocol.ModeCommand, TransactionID: 2,
		InstanceID: 1, InstanceVersion: 1, Command: "run",
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Process(context.Background(), cmdSess, req)
	}()

	ctx := context.Background()
	key := respond.Key(sess.ID, req.TransactionID)

	for want := 1; want <= 2; want++ {
		<-entered
		interim, err := e.Broker().Read(ctx, key)
		if err != nil {
			t.Fatalf("Read() interim %d error = %v", want, err)
		}
		if interim.Error != nil {
			t.Fatalf("got interim %d error %+v, want none", want, interim.Error)
		}
		wantDeltas := []protocol.ChangeRecord{
			{Path: "progress", Change: protocol.ChangeUpdate, Value: want},
		}
		if d := cmp.Diff(wantDeltas, interim.ViewModelDeltas); d != "" {
			t.Errorf("interim %d deltas mismatch (-want +got):\n%s", want, d)
		}
		if interim.NextRequest == nil || interim.NextRequest.Mode != protocol.ModeContinue {
			t.Fatalf("got interim %d NextRequest %+v, want Continue", want, interim.NextRequest)
		}
		if got := interim.InstanceVersion; got != int64(want+1) {
			t.Errorf("got interim %d InstanceVersion %d, want %d", want, got, want+1)
		}
		gate <- struct{}{}
	}

	waitDone(t, done)

	final, err := e.Broker().Read(ctx, key)
	if err != nil {
		t.Fatalf("Read() final error = %v", err)
	}
	if final.Error != nil {
		t.Fatalf("got final error %+v, want none", final.Error)
	}
	if len(final.ViewModelDeltas) != 0 || final.ViewModel != nil {
		t.Errorf("got final content (vm %v, deltas %v), want none",
			final.ViewModel, final.ViewModelDeltas)
	}
	if final.InstanceVersion != 3 {
		t.Errorf("got final InstanceVersion %d, want unchanged 3", final.InstanceVersion)
	}
	if final.NextRequest != nil {
		t.Errorf("got final NextRequest %+v, want nil", final.NextRequest)
	}
}

// Changes another party makes to the session while a processor is suspended
// are merged in on resume: user data in place, the working view model
// rebased onto the published server view model.
func TestWaitFor_MergesConcurrentSessionChanges(t *testing.T) {
	e := newTestEngine(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var seenUser any
	mustRegister(t, e, "poller", &page.Module{
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "idle"}, nil
		},
		LoadViewModel: func(c page.Context, userData, viewModel map[string]any) error {
			if _, err := c.WaitFor(func(ctx context.Context) (any, error) {
				close(entered)
				<-gate
				return nil, nil
			}); err != nil {
				return err
			}
			seenUser = userData["who"]
			viewModel["status"] = "done"
			return nil
		},
	})

	sess := newTestSession(t, e)
	first := processAndRead(t, e, sess, &protocol.Request{
		Mode: protocol.ModePage, Path: "poller", TransactionID: 1,
	})

	loadSess := reloadSession(t, e, sess.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Process(context.Background(), loadSess, first.NextRequest)
	}()

	<-entered

	// Simulate a sibling processor: advance the published view model and
	// the user data through a store round trip.
	ctx := context.Background()
	other := reloadSession(t, e, sess.ID)
	other.UserData["who"] = "sibling"
	if other.ModuleInstance.ServerViewModel == nil {
		t.Fatal("no server view model published during suspension")
	}
	other.ModuleInstance.ServerViewModel.ViewModel["injected"] = true
	if err := e.Store().Put(ctx, other); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	close(gate)
	waitDone(t, done)

	final, err := e.Broker().Read(ctx, respond.Key(sess.ID, first.NextRequest.TransactionID))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if final.Error != nil {
		t.Fatalf("got error %+v, want none", final.Error)
	}
	if seenUser != "sibling" {
		t.Errorf("got userData who %v after resume, want sibling", seenUser)
	}

	wantDeltas := []protocol.ChangeRecord{
		{Path: "injected", Change: protocol.ChangeAdd, Value: true},
		{Path: "status", Change: protocol.ChangeUpdate, Value: "done"},
	}
	if d := cmp.Diff(wantDeltas, final.ViewModelDeltas); d != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", d)
	}
}

// A processor that loses its instance to a concurrent navigation emits a
// no-op final response and never overwrites the new page's state.
func TestWaitFor_InstanceSupersededDuringWait(t *testing.T) {
	e := newTestEngine(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var activeAfterResume bool
	mustRegister(t, e, "slow", &page.Module{
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"status": "idle"}, nil
		},
		LoadViewModel: func(c page.Context, userData, viewModel map[string]any) error {
			if _, err := c.WaitFor(func(ctx context.Context) (any, error) {
				close(entered)
				<-gate
				return nil, nil
			}); err != nil {
				return err
			}
			activeAfterResume = c.IsActiveInstance()
			viewModel["status"] = "too late"
			return nil
		},
	})
	mustRegister(t, e, "menu", menuModule())

	sess := newTestSession(t, e)
	first := processAndRead(t, e, sess, &protocol.Request{
		Mode: protocol.ModePage, Path: "slow", TransactionID: 1,
	})

	loadSess := reloadSession(t, e, sess.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Process(context.Background(), loadSess, first.NextRequest)
	}()

	<-entered

	// The client navigates elsewhere while the load is in flight.
	nav := processAndRead(t, e, reloadSession(t, e, sess.ID), &protocol.Request{
		Mode: protocol.ModePage, Path: "menu", TransactionID: 2,
	})
	if nav.Error != nil {
		t.Fatalf("got navigation error %+v, want none", nav.Error)
	}
	if nav.InstanceID != 2 {
		t.Fatalf("got InstanceID %d after navigation, want 2", nav.InstanceID)
	}

	close(gate)
	waitDone(t, done)

	final, err := e.Broker().Read(context.Background(),
		respond.Key(sess.ID, first.NextRequest.TransactionID))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if final.Error != nil {
		t.Fatalf("got error %+v, want none", final.Error)
	}
	if activeAfterResume {
		t.Error("IsActiveInstance() = true after the instance was superseded")
	}
	if final.ViewModel != nil || len(final.ViewModelDeltas) != 0 {
		t.Errorf("got content on superseded response (vm %v, deltas %v), want none",
			final.ViewModel, final.ViewModelDeltas)
	}
	if final.NextRequest != nil {
		t.Errorf("got NextRequest %+v on superseded response, want nil", final.NextRequest)
	}
	if final.InstanceID != 2 {
		t.Errorf("got InstanceID %d, want current 2", final.InstanceID)
	}

	// The stale processor's edits never reached the stored view model.
	stored := reloadSession(t, e, sess.ID)
	if got := stored.ModuleInstance.ClientViewModel.ViewModel["status"]; got != nil {
		t.Errorf("got stored status %v from stale processor, want absent", got)
	}
}

// A command that sends an interim update and then finishes without ever
// suspending. With a consumer already waiting, the interim production is
// handed over before it can run, so the one response carries the final
// state and the transaction must leave nothing pending on its channel.
func TestInterimUpdate_WithoutSuspension(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, "ticker", &page.Module{
		InitializeViewModel: func(c page.Context, userData map[string]any, params, state map[string]any) (map[string]any, error) {
			return map[string]any{"count": 0}, nil
		},
		Commands: map[string]page.CommandHandler{
			"tick": func(c page.Context, userData, viewModel, params map[string]any) error {
				viewModel["count"] = int(asFloat(viewModel["count"])) + 1
				if err := c.InterimUpdate(); err != nil {
					return err
				}
				viewModel["count"] = int(asFloat(viewModel["count"])) + 1
				return nil
			},
		},
	})

	sess := newTestSession(t, e)
	processAndRead(t, e, sess, &protocol.Request{
		Mode: protocol.ModePage, Path: "ticker", TransactionID: 1,
	})

	ctx := context.Background()
	key := respond.Key(sess.ID, 2)

	type readResult struct {
		resp *protocol.Response
		err  error
	}
	got := make(chan readResult, 1)
	go func() {
		resp, err := e.Broker().Read(ctx, key)
		got <- readResult{resp, err}
	}()
	time.Sleep(10 * time.Millisecond) // let the reader park

	e.Process(ctx, reloadSession(t, e, sess.ID), &protocol.Request{
		Mode:            protocol.ModeCommand,
		TransactionID:   2,
		InstanceID:      1,
		InstanceVersion: 1,
		Command:         "tick",
	})

	var r readResult
	select {
	case r = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not receive a response")
	}
	if r.err != nil {
		t.Fatalf("Read() error = %v", r.err)
	}
	if r.resp.Error != nil {
		t.Fatalf("got error %+v, want none", r.resp.Error)
	}
	if r.resp.NextRequest != nil {
		t.Errorf("got NextRequest %+v, want none", r.resp.NextRequest)
	}
	if r.resp.InstanceVersion != 2 {
		t.Errorf("got InstanceVersion %d, want 2", r.resp.InstanceVersion)
	}
	wantDeltas := []protocol.ChangeRecord{
		{Path: "count", Change: protocol.ChangeUpdate, Value: 2},
	}
	if d := cmp.Diff(wantDeltas, r.resp.ViewModelDeltas); d != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", d)
	}

	if e.Broker().WritePending(key) {
		t.Fatal("transaction left a pending write on its channel")
	}

	// A later transaction reusing the transaction id must get its own
	// response, not a leftover of the first one.
	resp := processAndRead(t, e, reloadSession(t, e, sess.ID), &protocol.Request{
		Mode:            protocol.ModeCommand,
		TransactionID:   2,
		InstanceID:      1,
		InstanceVersion: 2,
		Command:         "tick",
	})
	if resp.Error != nil {
		t.Fatalf("got error %+v, want none", resp.Error)
	}
	if resp.InstanceVersion != 3 {
		t.Errorf("got InstanceVersion %d, want 3", resp.InstanceVersion)
	}
	wantDeltas = []protocol.ChangeRecord{
		{Path: "count", Change: protocol.ChangeUpdate, Value: 4},
	}
	if d := cmp.Diff(wantDeltas, resp.ViewModelDeltas); d != "" {
		t.Errorf("reused channel deltas mismatch (-want +got):\n%s", d)
	}
}
