package diff_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/uisync/uisync/core/protocol"
	"github.com/uisync/uisync/diff"
)

func TestChanges_IdenticalTrees(t *testing.T) {
	vm := map[string]any{
		"name":  "menu",
		"count": 3,
		"items": []any{"a", "b"},
		"style": map[string]any{"color": "Red"},
	}

	changes := diff.Changes(vm, diff.CloneMap(vm))
	if len(changes) != 0 {
		t.Errorf("got %d changes for identical trees, want 0", len(changes))
	}
}

func TestChanges_PrimitiveUpdate(t *testing.T) {
	previous := map[string]any{"count": 11, "fontColor": "Black"}
	current := map[string]any{"count": 12, "fontColor": "Red"}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "count", Change: protocol.ChangeUpdate, Value: 12},
		{Path: "fontColor", Change: protocol.ChangeUpdate, Value: "Red"},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

func TestChanges_AddAndRemoveMembers(t *testing.T) {
	previous := map[string]any{"a": 1, "b": 2}
	current := map[string]any{"b": 2, "c": 3}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "a", Change: protocol.ChangeRemove},
		{Path: "c", Change: protocol.ChangeAdd, Value: 3},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

func TestChanges_NestedObjectRecordPrecedesMembers(t *testing.T) {
	previous := map[string]any{
		"user": map[string]any{"name": "Bob", "age": 41},
	}
	current := map[string]any{
		"user": map[string]any{"name": "Alice", "age": 41},
	}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "user", Change: protocol.ChangeObject},
		{Path: "user.name", Change: protocol.ChangeUpdate, Value: "Alice"},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

func TestChanges_SliceRemovalsDescending(t *testing.T) {
	previous := map[string]any{"items": []any{"a", "b", "c", "d"}}
	current := map[string]any{"items": []any{"a", "x"}}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "items", Change: protocol.ChangeObject},
		{Path: "items[1]", Change: protocol.ChangeUpdate, Value: "x"},
		{Path: "items[3]", Change: protocol.ChangeRemove},
		{Path: "items[2]", Change: protocol.ChangeRemove},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

func TestChanges_SliceGrowth(t *testing.T) {
	previous := map[string]any{"items": []any{"a"}}
	current := map[string]any{"items": []any{"a", "b", "c"}}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "items", Change: protocol.ChangeObject},
		{Path: "items[1]", Change: protocol.ChangeAdd, Value: "b"},
		{Path: "items[2]", Change: protocol.ChangeAdd, Value: "c"},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

func TestChanges_ContainerKindSwap(t *testing.T) {
	previous := map[string]any{"value": map[string]any{"a": 1}}
	current := map[string]any{"value": []any{1}}

	changes := diff.Changes(previous, current)

	want := []protocol.ChangeRecord{
		{Path: "value", Change: protocol.ChangeUpdate, Value: []any{1}},
	}
	if d := cmp.Diff(want, changes); d != "" {
		t.Errorf("Changes() mismatch (-want +got):\n%s", d)
	}
}

// A client decodes numbers from JSON as float64 while server code works with
// ints; the two must compare equal, or every transaction would carry
// spurious updates.
func TestChanges_NumericKindsCompareEqual(t *testing.T) {
	previous := map[string]any{"count": float64(12)}
	current := map[string]any{"count": 12}

	changes := diff.Changes(previous, current)
	if len(changes) != 0 {
		t.Errorf("got %d changes across numeric kinds, want 0", len(changes))
	}
}

func TestChanges_DeterministicKeyOrder(t *testing.T) {
	previous := map[string]any{"zeta": 1, "alpha": 1, "mid": 1}
	current := map[string]any{"zeta": 2, "alpha": 2, "mid": 2}

	changes := diff.Changes(previous, current)

	wantPaths := []string{"alpha", "mid", "zeta"}
	if len(changes) != len(wantPaths) {
		t.Fatalf("got %d changes, want %d", len(changes), len(wantPaths))
	}
	for i, c := range changes {
		if c.Path != wantPaths[i] {
			t.Errorf("changes[%d].Path = %q, want %q", i, c.Path, wantPaths[i])
		}
	}
}

// Replaying Changes(previous, current) onto a copy of previous must
// reproduce current.
func TestChanges_RoundTrip(t *testing.T) {
	previous := map[string]any{
		"title": "list",
		"count": 2,
		"items": []any{
			map[string]any{"label": "a", "done": false},
			map[string]any{"label": "b", "done": true},
			map[string]any{"label": "c", "done": false},
		},
		"meta": map[string]any{"owner": "bob", "tags": []any{"x", "y"}},
	}
	current := map[string]any{
		"title": "list",
		"count": 3,
		"items": []any{
			map[string]any{"label": "a", "done": true},
			map[string]any{"label": "c", "done": false},
		},
		"meta":   map[string]any{"owner": "alice", "tags": []any{"x"}},
		"filter": "open",
	}

	changes := diff.Changes(previous, current)

	replayed := diff.CloneMap(previous)
	if err := diff.Apply(replayed, changes); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if d := cmp.Diff(current, replayed); d != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", d)
	}
}

func TestSetValue_CreatesIntermediates(t *testing.T) {
	root := map[string]any{}

	if err := diff.SetValue(root, "user.address.city", "Winnetka"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	want := map[string]any{
		"user": map[string]any{
			"address": map[string]any{"city": "Winnetka"},
		},
	}
	if d := cmp.Diff(want, root); d != "" {
		t.Errorf("SetValue() result mismatch (-want +got):\n%s", d)
	}
}

func TestSetValue_IndexAppend(t *testing.T) {
	root := map[string]any{"items": []any{"a"}}

	if err := diff.SetValue(root, "items[1]", "b"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	want := map[string]any{"items": []any{"a", "b"}}
	if d := cmp.Diff(want, root); d != "" {
		t.Errorf("SetValue() result mismatch (-want +got):\n%s", d)
	}
}

func TestSetValue_IndexOutOfRange(t *testing.T) {
	root := map[string]any{"items": []any{"a"}}

	if err := diff.SetValue(root, "items[5]", "z"); err == nil {
		t.Error("SetValue() succeeded for out-of-range index, want error")
	}
}

func TestRemoveValue_SliceIndex(t *testing.T) {
	root := map[string]any{"items": []any{"a", "b", "c"}}

	if err := diff.RemoveValue(root, "items[1]"); err != nil {
		t.Fatalf("RemoveValue() error = %v", err)
	}

	want := map[string]any{"items": []any{"a", "c"}}
	if d := cmp.Diff(want, root); d != "" {
		t.Errorf("RemoveValue() result mismatch (-want +got):\n%s", d)
	}
}

func TestRemoveValue_AbsentMapMemberIsNoOp(t *testing.T) {
	root := map[string]any{"a": 1}

	if err := diff.RemoveValue(root, "b"); err != nil {
		t.Errorf("RemoveValue() error = %v, want nil for absent member", err)
	}
}

func TestReplaceContents_PreservesIdentity(t *testing.T) {
	dst := map[string]any{"old": 1}
	alias := dst

	diff.ReplaceContents(dst, map[string]any{"new": 2})

	if _, ok := alias["old"]; ok {
		t.Error("alias still holds old member after ReplaceContents")
	}
	if alias["new"] != 2 {
		t.Errorf("alias[new] = %v, want 2", alias["new"])
	}
}

func TestClone_IsolatesNestedContainers(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"k": "v"},
		"items":  []any{map[string]any{"x": 1}},
	}

	copied := diff.CloneMap(original)
	copied["nested"].(map[string]any)["k"] = "changed"
	copied["items"].([]any)[0].(map[string]any)["x"] = 2

	if original["nested"].(map[string]any)["k"] != "v" {
		t.Error("mutating clone changed the original nested map")
	}
	if original["items"].([]any)[0].(map[string]any)["x"] != 1 {
		t.Error("mutating clone changed the original slice element")
	}
}
