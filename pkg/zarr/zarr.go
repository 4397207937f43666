// Package zarr reads zarr-v2 style directory stores: a group directory with
// JSON attributes and one chunked n-dimensional array per member. Only the
// subset needed for pyramidal image access is implemented — 2-D planes, or
// 3-D planes with a trailing channel axis, read-only, C order.
package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Group is a handle on a store directory. Handles are cheap and meant to be
// scoped: open one per read operation and close it when the read is done.
type Group struct {
	path  string
	attrs map[string]json.RawMessage
}

// OpenGroup opens the store rooted at path and loads its attributes. The
// .zattrs file is optional; a group without one simply has no attributes.
func OpenGroup(path string) (*Group, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("zarr: cannot open group %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("zarr: %s is not a directory", path)
	}

	g := &Group{path: path, attrs: map[string]json.RawMessage{}}

	data, err := os.ReadFile(filepath.Join(path, ".zattrs"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("zarr: cannot read attributes of %s: %w", path, err)
		}
		return g, nil
	}
	if err := json.Unmarshal(data, &g.attrs); err != nil {
		return nil, fmt.Errorf("zarr: malformed .zattrs in %s: %w", path, err)
	}
	return g, nil
}

// Path returns the group's directory path.
func (g *Group) Path() string {
	return g.path
}

// Attr decodes the named group attribute into v. It fails if the attribute
// is absent or cannot be decoded.
func (g *Group) Attr(name string, v any) error {
	raw, ok := g.attrs[name]
	if !ok {
		return fmt.Errorf("zarr: group %s has no attribute %q", g.path, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("zarr: cannot decode attribute %q: %w", name, err)
	}
	return nil
}

// RawAttr returns the named attribute's undecoded JSON, or false if absent.
func (g *Group) RawAttr(name string) (json.RawMessage, bool) {
	raw, ok := g.attrs[name]
	return raw, ok
}

// Array opens the named member array of the group.
func (g *Group) Array(name string) (*Array, error) {
	return openArray(filepath.Join(g.path, name))
}

// Close releases the group handle. Directory stores keep no file descriptor
// open between chunk reads, so this never fails, but callers still pair every
// OpenGroup with a Close so the acquisition stays scoped.
func (g *Group) Close() error {
	g.attrs = nil
	return nil
}
