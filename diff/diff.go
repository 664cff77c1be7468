// Package diff computes minimal ordered change lists between two view model
// trees and applies path-addressed edits back onto a tree.
//
// A view model is a tree of map[string]any, []any, and primitive leaves (the
// shape produced by decoding JSON). Change records address members with a
// dotted/bracketed path: named fields use dot notation ("user.name"), slice
// indices use bracket notation ("items[2]").
package diff

import (
	"sort"
	"strconv"

	"github.com/uisync/uisync/core/protocol"
)

// Changes computes the ordered change list that transforms previous into
// current. Unchanged subtrees produce no records. A nested container whose
// contents differ produces one "object" record for the container path
// followed by the member records beneath it.
//
// Ordering is deterministic: map members are visited in sorted key order and
// slice members by index, with slice removals emitted in descending index
// order so the resulting list applies cleanly front to back.
func Changes(previous, current any) []protocol.ChangeRecord {
	var changes []protocol.ChangeRecord
	record := func(change protocol.ChangeType, path string, value any) {
		changes = append(changes, protocol.ChangeRecord{Path: path, Change: change, Value: value})
	}
	diffValue("", previous, current, record)
	return changes
}

type recordFunc func(change protocol.ChangeType, path string, value any)

// diffValue assumes previous and current are known to be containers of the
// same kind, or is called at the root where the caller accepts that a
// non-container root produces no records.
func diffValue(path string, previous, current any, record recordFunc) {
	switch prev := previous.(type) {
	case map[string]any:
		if cur, ok := current.(map[string]any); ok {
			diffMap(path, prev, cur, record)
		}
	case []any:
		if cur, ok := current.([]any); ok {
			diffSlice(path, prev, cur, record)
		}
	}
}

func diffMap(path string, previous, current map[string]any, record recordFunc) {
	keys := make([]string, 0, len(previous)+len(current))
	for k := range previous {
		keys = append(keys, k)
	}
	for k := range current {
		if _, ok := previous[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		memberPath := fieldPath(path, k)
		prevValue, inPrev := previous[k]
		curValue, inCur := current[k]
		switch {
		case !inPrev:
			record(protocol.ChangeAdd, memberPath, curValue)
		case !inCur:
			record(protocol.ChangeRemove, memberPath, nil)
		default:
			diffMember(memberPath, prevValue, curValue, record)
		}
	}
}

func diffSlice(path string, previous, current []any, record recordFunc) {
	shared := len(previous)
	if len(current) < shared {
		shared = len(current)
	}
	for i := 0; i < shared; i++ {
		diffMember(indexPath(path, i), previous[i], current[i], record)
	}
	for i := shared; i < len(current); i++ {
		record(protocol.ChangeAdd, indexPath(path, i), current[i])
	}
	// Descending order keeps earlier removals from shifting later indices
	// when the change list is replayed.
	for i := len(previous) - 1; i >= shared; i-- {
		record(protocol.ChangeRemove, indexPath(path, i), nil)
	}
}

// diffMember handles one member present on both sides: recurse into
// same-kind containers, otherwise treat the member as a primitive change.
func diffMember(path string, previous, current any, record recordFunc) {
	if sameContainerKind(previous, current) {
		if !equal(previous, current) {
			record(protocol.ChangeObject, path, nil)
			diffValue(path, previous, current, record)
		}
		return
	}
	if !equal(previous, current) {
		record(protocol.ChangeUpdate, path, current)
	}
}

func sameContainerKind(a, b any) bool {
	switch a.(type) {
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	}
	return false
}

func fieldPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func indexPath(base string, index int) string {
	return base + "[" + strconv.Itoa(index) + "]"
}
