package ctlfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Mode describes which operations an attribute supports.
type Mode uint8

const (
	// ModeRead allows Read (Show must be set).
	ModeRead Mode = 1 << iota
	// ModeWrite allows Write (Store must be set).
	ModeWrite

	// ModeRW allows both.
	ModeRW = ModeRead | ModeWrite
)

// String renders the mode the way ls would for an owner-only entry.
func (m Mode) String() string {
	r, w := "-", "-"
	if m&ModeRead != 0 {
		r = "r"
	}
	if m&ModeWrite != 0 {
		w = "w"
	}
	return r + w
}

// Attr is a single named entry in a directory.
type Attr struct {
	Name  string
	Mode  Mode
	Show  func() (string, error)
	Store func(data string) error
}

// Entry describes a child of a directory, as returned by List.
type Entry struct {
	Name string `json:"name"`
	Dir  bool   `json:"dir"`
	Mode string `json:"mode,omitempty"`
}

// Dir is a directory in the namespace.
type Dir struct {
	name   string
	parent *Dir

	mu      sync.RWMutex
	dirs    map[string]*Dir
	attrs   map[string]*Attr
	removed bool
}

// NewRoot creates an empty namespace root.
func NewRoot(name string) *Dir {
	return newDir(name, nil)
}

func newDir(name string, parent *Dir) *Dir {
	return &Dir{
		name:   name,
		parent: parent,
		dirs:   make(map[string]*Dir),
		attrs:  make(map[string]*Attr),
	}
}

// Name returns the directory's own name.
func (d *Dir) Name() string {
	return d.name
}

// Parent returns the parent directory, or nil for a root.
func (d *Dir) Parent() *Dir {
	return d.parent
}

// Path returns the slash separated path from the root, excluding the root name.
func (d *Dir) Path() string {
	var parts []string
	for cur := d; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Mkdir creates a child directory.
func (d *Dir) Mkdir(name string) (*Dir, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, d.Path())
	}
	if d.taken(name) {
		return nil, fmt.Errorf("%w: %s", ErrExist, name)
	}

	child := newDir(name, d)
	d.dirs[name] = child
	return child, nil
}

// AddGroup adds a set of attributes atomically: either every attribute is
// added or none is.
func (d *Dir) AddGroup(attrs []Attr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return fmt.Errorf("%w: %s", ErrNotExist, d.Path())
	}

	seen := make(map[string]struct{}, len(attrs))
	for i := range attrs {
		a := &attrs[i]
		if err := validName(a.Name); err != nil {
			return err
		}
		if _, dup := seen[a.Name]; dup || d.taken(a.Name) {
			return fmt.Errorf("%w: %s", ErrExist, a.Name)
		}
		if a.Mode&ModeRead != 0 && a.Show == nil {
			return fmt.Errorf("%w: %s is readable but has no show function", ErrInvalidName, a.Name)
		}
		if a.Mode&ModeWrite != 0 && a.Store == nil {
			return fmt.Errorf("%w: %s is writable but has no store function", ErrInvalidName, a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	for i := range attrs {
		a := attrs[i]
		d.attrs[a.Name] = &a
	}
	return nil
}

// RemoveGroup removes the named attributes. Missing names are skipped.
func (d *Dir) RemoveGroup(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range names {
		delete(d.attrs, n)
	}
}

// Remove removes a child directory (recursively) or attribute.
func (d *Dir) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if child, ok := d.dirs[name]; ok {
		delete(d.dirs, name)
		child.markRemoved()
		return nil
	}
	if _, ok := d.attrs[name]; ok {
		delete(d.attrs, name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotExist, name)
}

// markRemoved detaches a subtree so stale handles can no longer grow it.
func (d *Dir) markRemoved() {
	d.mu.Lock()
	children := make([]*Dir, 0, len(d.dirs))
	for _, c := range d.dirs {
		children = append(children, c)
	}
	d.removed = true
	d.dirs = make(map[string]*Dir)
	d.attrs = make(map[string]*Attr)
	d.mu.Unlock()

	for _, c := range children {
		c.markRemoved()
	}
}

// Dir resolves a directory path relative to d. An empty path returns d.
func (d *Dir) Dir(path string) (*Dir, error) {
	dir, attr, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	if attr != nil {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotExist, path)
	}
	return dir, nil
}

// Read returns the Show output of the attribute at path.
func (d *Dir) Read(path string) (string, error) {
	_, attr, err := d.lookup(path)
	if err != nil {
		return "", err
	}
	if attr == nil {
		return "", fmt.Errorf("%w: %s", ErrIsDir, path)
	}
	if attr.Mode&ModeRead == 0 {
		return "", fmt.Errorf("%w: %s is write-only", ErrPermission, path)
	}
	return attr.Show()
}

// Write passes data to the Store function of the attribute at path and
// returns the number of bytes consumed.
func (d *Dir) Write(path, data string) (int, error) {
	_, attr, err := d.lookup(path)
	if err != nil {
		return 0, err
	}
	if attr == nil {
		return 0, fmt.Errorf("%w: %s", ErrIsDir, path)
	}
	if attr.Mode&ModeWrite == 0 {
		return 0, fmt.Errorf("%w: %s is read-only", ErrPermission, path)
	}
	if err := attr.Store(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// List returns the entries of the directory at path, sorted by name.
func (d *Dir) List(path string) ([]Entry, error) {
	dir, err := d.Dir(path)
	if err != nil {
		return nil, err
	}

	dir.mu.RLock()
	defer dir.mu.RUnlock()

	entries := make([]Entry, 0, len(dir.dirs)+len(dir.attrs))
	for name := range dir.dirs {
		entries = append(entries, Entry{Name: name, Dir: true})
	}
	for name, a := range dir.attrs {
		entries = append(entries, Entry{Name: name, Mode: a.Mode.String()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Walk calls fn for every attribute below d with its path relative to d.
func (d *Dir) Walk(fn func(path string, mode Mode)) {
	d.walk("", fn)
}

func (d *Dir) walk(prefix string, fn func(string, Mode)) {
	entries, err := d.List("")
	if err != nil {
		return
	}
	for _, e := range entries {
		p := e.Name
		if prefix != "" {
			p = prefix + "/" + e.Name
		}
		if e.Dir {
			if child, err := d.Dir(e.Name); err == nil {
				child.walk(p, fn)
			}
			continue
		}
		d.mu.RLock()
		a, ok := d.attrs[e.Name]
		d.mu.RUnlock()
		if ok {
			fn(p, a.Mode)
		}
	}
}

// lookup walks path one component at a time, holding only one directory
// lock at any moment.
func (d *Dir) lookup(path string) (*Dir, *Attr, error) {
	path = strings.Trim(path, "/")
	cur := d
	if path == "" {
		cur.mu.RLock()
		removed := cur.removed
		cur.mu.RUnlock()
		if removed {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, d.Path())
		}
		return cur, nil, nil
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		cur.mu.RLock()
		if cur.removed {
			cur.mu.RUnlock()
			return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		if next, ok := cur.dirs[part]; ok {
			cur.mu.RUnlock()
			cur = next
			continue
		}
		attr, ok := cur.attrs[part]
		cur.mu.RUnlock()
		if ok && i == len(parts)-1 {
			return cur, attr, nil
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	return cur, nil, nil
}

// taken reports whether name is used by a child. Caller holds d.mu.
func (d *Dir) taken(name string) bool {
	_, isDir := d.dirs[name]
	_, isAttr := d.attrs[name]
	return isDir || isAttr
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
