// Package safefs is the only way the assistant changes user files. Every
// mutation is versioned before and after, and nothing here removes bytes:
// files can be created, changed, moved or archived.
package safefs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/paths"
	"github.com/littlehelper/littlehelper/internal/versions"
)

type ActionKind string

const (
	Created   ActionKind = "created"
	Modified  ActionKind = "modified"
	Moved     ActionKind = "moved"
	Archived  ActionKind = "archived"
	Restored  ActionKind = "restored"
	Unchanged ActionKind = "unchanged"
)

// FileAction describes what a mutation did.
type FileAction struct {
	Kind    ActionKind `json:"kind"`
	Path    string     `json:"path"`
	From    string     `json:"from,omitempty"`
	To      string     `json:"to,omitempty"`
	Version int        `json:"version,omitempty"`
}

func (a FileAction) String() string {
	switch a.Kind {
	case Created:
		return "File created"
	case Modified:
		return "File modified"
	case Moved:
		return "File moved from " + a.From
	case Archived:
		return "File archived to " + a.To
	case Restored:
		return fmt.Sprintf("File restored to version %d", a.Version)
	default:
		return "File unchanged"
	}
}

type Config struct {
	Roots      *versions.Roots
	Audit      *audit.Log
	ArchiveDir string
	// AllowedDirs, when set, confines every path to these directories.
	AllowedDirs []string
}

type Ops struct {
	roots      *versions.Roots
	audit      *audit.Log
	archiveDir string
	allowed    []string
	skillID    string
	mu         *sync.Mutex
	now        func() time.Time
}

func New(cfg Config) *Ops {
	allowed := make([]string, 0, len(cfg.AllowedDirs))
	for _, d := range cfg.AllowedDirs {
		if abs, err := filepath.Abs(d); err == nil {
			allowed = append(allowed, filepath.Clean(abs))
		}
	}
	return &Ops{
		roots:      cfg.Roots,
		audit:      cfg.Audit,
		archiveDir: cfg.ArchiveDir,
		allowed:    allowed,
		mu:         &sync.Mutex{},
		now:        time.Now,
	}
}

// WithSkill returns a view that stamps skillID on its audit entries.
func (o *Ops) WithSkill(skillID string) *Ops {
	cp := *o
	cp.skillID = skillID
	return &cp
}

func (o *Ops) Versions() *versions.Roots { return o.roots }

// Check resolves path to an absolute path and fails when it may not be
// touched.
func (o *Ops) Check(path string) (string, error) { return o.check(path) }

func (o *Ops) check(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path: %w", fault.ErrInvalidInput)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, fault.ErrInvalidInput)
	}
	abs = filepath.Clean(abs)
	for _, part := range strings.Split(filepath.ToSlash(abs), "/") {
		if part == paths.HiddenDirName {
			return "", fmt.Errorf("%s is inside the version store: %w", path, fault.ErrPermissionDenied)
		}
	}
	if len(o.allowed) == 0 {
		return abs, nil
	}
	for _, d := range o.allowed {
		if versions.Within(d, abs) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%s is outside the allowed folders: %w", path, fault.ErrPermissionDenied)
}

func (o *Ops) record(a FileAction) FileAction {
	if o.audit != nil {
		e := audit.FileOp(a.Path, a.String(), o.skillID).WithDetails(a)
		if a.Kind == Unchanged {
			e = e.Hidden()
		}
		o.audit.Append(e)
	}
	return a
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// snapshot saves data as a version of path unless the newest version already
// holds exactly these bytes.
func snapshot(store *versions.Store, path string, data []byte) error {
	same, err := store.Matches(path, data)
	if err != nil {
		return err
	}
	if same {
		return nil
	}
	_, err = store.SaveBytes(path, data, versions.SaveOptions{})
	return err
}

// Create writes a new file. It fails if path already exists.
func (o *Ops) Create(path string, data []byte) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.createLocked(abs, data)
}

func (o *Ops) createLocked(abs string, data []byte) (FileAction, error) {
	ok, err := exists(abs)
	if err != nil {
		return FileAction{}, err
	}
	if ok {
		return FileAction{}, fmt.Errorf("%s: %w", abs, fault.ErrAlreadyExists)
	}
	store, err := o.roots.For(abs)
	if err != nil {
		return FileAction{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return FileAction{}, fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := versions.WriteFileAtomic(abs, data); err != nil {
		return FileAction{}, fmt.Errorf("failed to write %s: %w", abs, err)
	}
	v, err := store.SaveBytes(abs, data, versions.SaveOptions{})
	if err != nil {
		return FileAction{}, fmt.Errorf("failed to version %s: %w", abs, err)
	}
	return o.record(FileAction{Kind: Created, Path: abs, Version: v.Number}), nil
}

// Modify replaces the content of an existing file.
func (o *Ops) Modify(path string, data []byte) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return FileAction{}, fmt.Errorf("%s: %w", abs, fault.ErrNotFound)
	}
	if err != nil {
		return FileAction{}, err
	}
	return o.modifyLocked(abs, current, data)
}

func (o *Ops) modifyLocked(abs string, current, data []byte) (FileAction, error) {
	store, err := o.roots.For(abs)
	if err != nil {
		return FileAction{}, err
	}
	if err := snapshot(store, abs, current); err != nil {
		return FileAction{}, fmt.Errorf("failed to save current state of %s: %w", abs, err)
	}
	if err := versions.WriteFileAtomic(abs, data); err != nil {
		return FileAction{}, fmt.Errorf("failed to write %s: %w", abs, err)
	}
	v, err := store.SaveBytes(abs, data, versions.SaveOptions{})
	if err != nil {
		return FileAction{}, fmt.Errorf("failed to version %s: %w", abs, err)
	}
	return o.record(FileAction{Kind: Modified, Path: abs, Version: v.Number}), nil
}

// Write creates or replaces path. Identical content is left alone.
func (o *Ops) Write(path string, data []byte) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return o.createLocked(abs, data)
	}
	if err != nil {
		return FileAction{}, err
	}
	if bytes.Equal(current, data) {
		return o.record(FileAction{Kind: Unchanged, Path: abs}), nil
	}
	return o.modifyLocked(abs, current, data)
}

// Append adds data to the end of path, creating it if needed.
func (o *Ops) Append(path string, data []byte) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return o.createLocked(abs, data)
	}
	if err != nil {
		return FileAction{}, err
	}
	next := make([]byte, 0, len(current)+len(data))
	next = append(append(next, current...), data...)
	return o.modifyLocked(abs, current, next)
}

// Move renames from to to, continuing from's history at the destination.
func (o *Ops) Move(from, to string) (FileAction, error) {
	src, err := o.check(from)
	if err != nil {
		return FileAction{}, err
	}
	dst, err := o.check(to)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return FileAction{}, fmt.Errorf("%s: %w", src, fault.ErrNotFound)
	}
	if err != nil {
		return FileAction{}, err
	}
	taken, err := exists(dst)
	if err != nil {
		return FileAction{}, err
	}
	if taken {
		return FileAction{}, fmt.Errorf("%s: %w", dst, fault.ErrAlreadyExists)
	}

	srcStore, err := o.roots.For(src)
	if err != nil {
		return FileAction{}, err
	}
	if err := snapshot(srcStore, src, data); err != nil {
		return FileAction{}, fmt.Errorf("failed to save %s before moving: %w", src, err)
	}
	last, err := srcStore.Latest(src)
	if err != nil {
		return FileAction{}, err
	}

	if err := relocate(src, dst); err != nil {
		return FileAction{}, err
	}

	dstStore, err := o.roots.For(dst)
	if err != nil {
		return FileAction{}, err
	}
	opts := versions.SaveOptions{
		Description: "Moved from " + filepath.Base(src),
		LinkedFrom:  src,
	}
	if last != nil {
		opts.Parent = last.Hash
	}
	v, err := dstStore.SaveBytes(dst, data, opts)
	if err != nil {
		return FileAction{}, fmt.Errorf("failed to version %s: %w", dst, err)
	}
	return o.record(FileAction{Kind: Moved, Path: dst, From: src, Version: v.Number}), nil
}

// Archive moves path into <archive>/<YYYYMMDD_HHMMSS>/<basename> after saving
// its bytes in the version store.
func (o *Ops) Archive(path string) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	if o.archiveDir == "" {
		return FileAction{}, fmt.Errorf("no archive directory configured: %w", fault.ErrInternal)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return FileAction{}, fmt.Errorf("%s: %w", abs, fault.ErrNotFound)
	}
	if err != nil {
		return FileAction{}, err
	}

	store, err := o.roots.For(abs)
	if err != nil {
		return FileAction{}, err
	}
	if err := snapshot(store, abs, data); err != nil {
		return FileAction{}, fmt.Errorf("failed to save %s before archiving: %w", abs, err)
	}

	dir := filepath.Join(o.archiveDir, o.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileAction{}, fmt.Errorf("failed to create archive directory: %w", err)
	}
	dst, err := freeName(dir, filepath.Base(abs))
	if err != nil {
		return FileAction{}, err
	}
	if err := relocate(abs, dst); err != nil {
		return FileAction{}, err
	}
	return o.record(FileAction{Kind: Archived, Path: abs, To: dst}), nil
}

// Restore brings back version n of path.
func (o *Ops) Restore(path string, n int) (FileAction, error) {
	abs, err := o.check(path)
	if err != nil {
		return FileAction{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	store, err := o.roots.For(abs)
	if err != nil {
		return FileAction{}, err
	}
	if _, err := store.Restore(abs, n); err != nil {
		return FileAction{}, err
	}
	return o.record(FileAction{Kind: Restored, Path: abs, Version: n}), nil
}

// freeName picks name in dir, adding _1, _2, ... before the extension when taken.
func freeName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// relocate renames src to dst, copying across devices when rename cannot.
func relocate(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
