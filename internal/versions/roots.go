package versions

import (
	"path/filepath"
	"strings"
	"sync"
)

// Roots maps file paths to the store of their working root: the longest
// allowed directory containing the file, else the file's own directory.
type Roots struct {
	allowed []string

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRoots(allowedDirs []string) *Roots {
	allowed := make([]string, 0, len(allowedDirs))
	for _, d := range allowedDirs {
		if abs, err := filepath.Abs(d); err == nil {
			allowed = append(allowed, filepath.Clean(abs))
		}
	}
	return &Roots{allowed: allowed, stores: make(map[string]*Store)}
}

// RootFor returns the working root for path.
func (r *Roots) RootFor(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	best := ""
	for _, d := range r.allowed {
		if Within(d, abs) && abs != d && len(d) > len(best) {
			best = d
		}
	}
	if best == "" {
		return filepath.Dir(abs)
	}
	return best
}

// For returns the cached store responsible for path.
func (r *Roots) For(path string) (*Store, error) {
	root := r.RootFor(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[root]; ok {
		return s, nil
	}
	s, err := Open(root)
	if err != nil {
		return nil, err
	}
	r.stores[root] = s
	return s, nil
}

// Within reports whether path is dir or lies below it.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
