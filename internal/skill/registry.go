package skill

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
)

// Registry holds the known skills and the user's permission for each.
type Registry struct {
	// saveMu orders permission changes with their writes to disk.
	saveMu sync.Mutex
	mu     sync.RWMutex
	skills map[string]Skill
	perms  map[string]Permission
	// saved holds permissions read from disk for skills not registered yet.
	saved map[string]Permission
	path  string
	audit *audit.Log
}

// NewRegistry creates an empty registry. auditLog may be nil.
func NewRegistry(auditLog *audit.Log) *Registry {
	return &Registry{
		skills: make(map[string]Skill),
		perms:  make(map[string]Permission),
		saved:  make(map[string]Permission),
		audit:  auditLog,
	}
}

func (r *Registry) Register(s Skill) error {
	id := s.ID()
	if id == "" {
		return fmt.Errorf("skill id is empty: %w", fault.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[id]; ok {
		return fmt.Errorf("skill %q: %w", id, fault.ErrAlreadyExists)
	}
	r.skills[id] = s
	if p, ok := r.saved[id]; ok {
		r.perms[id] = p
	} else {
		r.perms[id] = DefaultPermission(s.PermissionLevel())
	}
	return nil
}

func (r *Registry) Get(id string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

func (r *Registry) Permission(id string) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.perms[id]
	if !ok {
		return "", fmt.Errorf("skill %q: %w", id, fault.ErrNotFound)
	}
	return p, nil
}

// SetPermission changes a skill's permission, records the change in the
// audit log and persists it when the registry was loaded from a file.
func (r *Registry) SetPermission(id string, p Permission) error {
	if _, err := ParsePermission(string(p)); err != nil {
		return err
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	old, ok := r.perms[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("skill %q: %w", id, fault.ErrNotFound)
	}
	r.perms[id] = p
	r.saved[id] = p
	path := r.path
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if old != p && r.audit != nil {
		r.audit.Append(audit.PermChange(id, string(old), string(p)))
	}
	if path == "" {
		return nil
	}
	return writePermissions(path, snapshot)
}

// Info is a read-only view of a registered skill.
type Info struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Level       PermissionLevel `json:"permission_level"`
	Modes       []Mode          `json:"modes,omitempty"`
	Permission  Permission      `json:"permission"`
}

// List returns every skill sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.skills))
	for id, s := range r.skills {
		out = append(out, Info{
			ID:          id,
			Name:        s.Name(),
			Description: s.Description(),
			Level:       s.PermissionLevel(),
			Modes:       s.Modes(),
			Permission:  r.perms[id],
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForMode returns the skills usable in mode, sorted by id.
func (r *Registry) ForMode(m Mode) []Skill {
	r.mu.RLock()
	var out []Skill
	for _, s := range r.skills {
		if supportsMode(s, m) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

type permissionsFile struct {
	Permissions map[string]Permission `toml:"permissions"`
}

// Load reads saved permissions from path and remembers it for later saves.
// A missing file is not an error.
func (r *Registry) Load(path string) error {
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f permissionsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %v: %w", path, err, fault.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range f.Permissions {
		if _, err := ParsePermission(string(p)); err != nil {
			continue
		}
		r.saved[id] = p
		if _, ok := r.skills[id]; ok {
			r.perms[id] = p
		}
	}
	return nil
}

func (r *Registry) snapshotLocked() map[string]Permission {
	out := make(map[string]Permission, len(r.saved))
	for id, p := range r.saved {
		out[id] = p
	}
	return out
}

func writePermissions(path string, perms map[string]Permission) error {
	data, err := toml.Marshal(permissionsFile{Permissions: perms})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
