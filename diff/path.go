package diff

import (
	"fmt"
	"strconv"

	"github.com/uisync/uisync/core/protocol"
)

// segment is one step of a parsed path: either a named field or a slice index.
type segment struct {
	field   string
	index   int
	isIndex bool
}

func (s segment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return s.field
}

// SetValue sets the member addressed by path to value, creating intermediate
// containers as needed. A slice index equal to the slice length appends.
func SetValue(root map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	_, err = setIn(root, segs, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}
	return nil
}

// RemoveValue removes the member addressed by path. Removing an absent map
// member is a no-op; removing an out-of-range slice index is an error.
func RemoveValue(root map[string]any, path string) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	_, err = removeIn(root, segs)
	if err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

// Apply replays an ordered change list onto root. Values from add and update
// records are deep-cloned before insertion, so the change list can be reused.
// Object records carry no value and are skipped; their member records follow.
func Apply(root map[string]any, changes []protocol.ChangeRecord) error {
	for _, c := range changes {
		switch c.Change {
		case protocol.ChangeAdd, protocol.ChangeUpdate:
			if err := SetValue(root, c.Path, Clone(c.Value)); err != nil {
				return err
			}
		case protocol.ChangeRemove:
			if err := RemoveValue(root, c.Path); err != nil {
				return err
			}
		case protocol.ChangeObject:
			// Container marker; member changes follow as their own records.
		default:
			return fmt.Errorf("unknown change type %q at %q", c.Change, c.Path)
		}
	}
	return nil
}

func setIn(container any, segs []segment, value any) (any, error) {
	seg := segs[0]
	if seg.isIndex {
		s, ok := container.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: not a slice", seg)
		}
		if seg.index < 0 || seg.index > len(s) {
			return nil, fmt.Errorf("%s: index out of range (len %d)", seg, len(s))
		}
		if len(segs) == 1 {
			if seg.index == len(s) {
				return append(s, value), nil
			}
			s[seg.index] = value
			return s, nil
		}
		if seg.index == len(s) {
			s = append(s, emptyContainer(segs[1]))
		}
		child, err := setIn(s[seg.index], segs[1:], value)
		if err != nil {
			return nil, err
		}
		s[seg.index] = child
		return s, nil
	}

	m, ok := container.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: not a map", seg)
	}
	if len(segs) == 1 {
		m[seg.field] = value
		return m, nil
	}
	child, exists := m[seg.field]
	if !exists {
		child = emptyContainer(segs[1])
	}
	child, err := setIn(child, segs[1:], value)
	if err != nil {
		return nil, err
	}
	m[seg.field] = child
	return m, nil
}

func removeIn(container any, segs []segment) (any, error) {
	seg := segs[0]
	if seg.isIndex {
		s, ok := container.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: not a slice", seg)
		}
		if seg.index < 0 || seg.index >= len(s) {
			return nil, fmt.Errorf("%s: index out of range (len %d)", seg, len(s))
		}
		if len(segs) == 1 {
			return append(s[:seg.index], s[seg.index+1:]...), nil
		}
		child, err := removeIn(s[seg.index], segs[1:])
		if err != nil {
			return nil, err
		}
		s[seg.index] = child
		return s, nil
	}

	m, ok := container.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: not a map", seg)
	}
	if len(segs) == 1 {
		delete(m, seg.field)
		return m, nil
	}
	child, exists := m[seg.field]
	if !exists {
		return nil, fmt.Errorf("%s: no such member", seg)
	}
	child, err := removeIn(child, segs[1:])
	if err != nil {
		return nil, err
	}
	m[seg.field] = child
	return m, nil
}

func emptyContainer(next segment) any {
	if next.isIndex {
		return []any{}
	}
	return map[string]any{}
}

// parsePath splits a dotted/bracketed access expression into segments.
// "items[2].label" parses to [items, [2], label].
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '[':
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j == len(path) {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			index, err := strconv.Atoi(path[i+1 : j])
			if err != nil {
				return nil, fmt.Errorf("bad index in path %q: %w", path, err)
			}
			segs = append(segs, segment{index: index, isIndex: true})
			i = j + 1
			if i < len(path) && path[i] == '.' {
				i++
				if i == len(path) {
					return nil, fmt.Errorf("trailing dot in path %q", path)
				}
			}
		case '.':
			return nil, fmt.Errorf("unexpected dot in path %q", path)
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			segs = append(segs, segment{field: path[i:j]})
			i = j
			if i < len(path) && path[i] == '.' {
				i++
				if i == len(path) {
					return nil, fmt.Errorf("trailing dot in path %q", path)
				}
			}
		}
	}
	return segs, nil
}
