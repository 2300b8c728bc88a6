// Package versions keeps a content-addressed history of every file the
// assistant touches. Each working root gets a hidden store holding a bare git
// object database for the bytes and one JSONL history file per path.
package versions

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/paths"
)

// Version is one saved state of a file. Number is dense from 1.
type Version struct {
	Number      int       `json:"number"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	ParentHash  string    `json:"parent_hash,omitempty"`
	LinkedFrom  string    `json:"linked_from,omitempty"`
	IsCurrent   bool      `json:"is_current"`
}

// record is the on-disk history line.
type record struct {
	Hash        string    `json:"hash"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Size        int64     `json:"size"`
	Parent      string    `json:"parent,omitempty"`
	Path        string    `json:"path"`
	LinkedFrom  string    `json:"linked_from,omitempty"`
}

// SaveOptions customises a save. Zero values pick the defaults.
type SaveOptions struct {
	Description string
	// LinkedFrom names the path whose history this save continues.
	LinkedFrom string
	// Parent overrides the parent hash; used when continuing another path.
	Parent string
}

type Store struct {
	root string
	dir  string

	mu   sync.Mutex
	repo *git.Repository
	now  func() time.Time
}

// Open returns the store for root. Nothing is created on disk until the
// first save.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Store{
		root: abs,
		dir:  paths.VersionsDir(abs),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) objectsDir() string { return filepath.Join(s.dir, "objects.git") }
func (s *Store) historyDir() string { return filepath.Join(s.dir, "history") }

func (s *Store) relPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s: %w", path, s.root, fault.ErrInvalidInput)
	}
	return filepath.ToSlash(rel), nil
}

func (s *Store) historyFile(rel string) string {
	sum := sha256.Sum256([]byte(rel))
	return filepath.Join(s.historyDir(), hex.EncodeToString(sum[:])+".jsonl")
}

// openRepo opens the object database, returning nil when it does not exist or
// cannot be read.
func (s *Store) openRepo() *git.Repository {
	if s.repo != nil {
		return s.repo
	}
	repo, err := git.PlainOpen(s.objectsDir())
	if err != nil {
		return nil
	}
	s.repo = repo
	return repo
}

// ensureRepo opens or creates the object database. A store that exists but
// cannot be opened is moved aside, never removed, and a fresh one created.
func (s *Store) ensureRepo() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}

	hiddenRoot := filepath.Dir(s.dir)
	_, statErr := os.Stat(hiddenRoot)
	created := errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(s.historyDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create version store: %w", err)
	}
	if created {
		if err := hide(hiddenRoot); err != nil {
			slog.Debug("could not hide version directory", "path", hiddenRoot, "error", err)
		}
	}

	var repo *git.Repository
	info, err := os.Stat(s.objectsDir())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		repo, err = git.PlainInit(s.objectsDir(), true)
	case err == nil && info.IsDir():
		repo, err = git.PlainOpen(s.objectsDir())
		if errors.Is(err, git.ErrRepositoryNotExists) {
			repo, err = git.PlainInit(s.objectsDir(), true)
		} else if err != nil {
			repo, err = s.recreate(err)
		}
	default:
		if err == nil {
			err = errors.New("not a directory")
		}
		repo, err = s.recreate(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialise version store: %w", err)
	}
	s.repo = repo
	return repo, nil
}

func (s *Store) recreate(cause error) (*git.Repository, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.objectsDir(), s.now().Unix())
	slog.Warn("version store unreadable, recreating", "path", s.objectsDir(), "moved_to", aside, "error", cause)
	if err := os.Rename(s.objectsDir(), aside); err != nil {
		return nil, fmt.Errorf("failed to move corrupt version store aside: %w", err)
	}
	return git.PlainInit(s.objectsDir(), true)
}

func blobHash(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}

func writeBlob(repo *git.Repository, data []byte) (string, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	h, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func readBlob(repo *git.Repository, hash string) ([]byte, error) {
	blob, err := repo.BlobObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", hash, fault.ErrNotFound)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *Store) readHistory(rel string) ([]record, error) {
	f, err := os.Open(s.historyFile(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var recs []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil || r.Hash == "" {
			continue
		}
		recs = append(recs, r)
	}
	return recs, scanner.Err()
}

func (s *Store) appendHistory(rel string, r record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.historyFile(rel), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SaveVersion snapshots the file's present bytes with a generated description.
func (s *Store) SaveVersion(path string) (*Version, error) {
	return s.Save(path, "")
}

// Save snapshots the file's present bytes.
func (s *Store) Save(path, description string) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, fault.ErrNotFound)
		}
		return nil, err
	}
	return s.SaveBytes(path, data, SaveOptions{Description: description})
}

// SaveBytes records data as the next version of path without reading the file.
func (s *Store) SaveBytes(path string, data []byte, opts SaveOptions) (*Version, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rel, data, opts)
}

func (s *Store) saveLocked(rel string, data []byte, opts SaveOptions) (*Version, error) {
	repo, err := s.ensureRepo()
	if err != nil {
		return nil, err
	}
	recs, err := s.readHistory(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", rel, err)
	}

	hash, err := writeBlob(repo, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	name := filepath.Base(filepath.FromSlash(rel))
	desc := opts.Description
	if desc == "" {
		if len(recs) == 0 {
			desc = "Created " + name
		} else {
			desc = "Updated " + name
		}
	}

	ts := s.now()
	parent := opts.Parent
	if len(recs) > 0 {
		last := recs[len(recs)-1]
		if !ts.After(last.Timestamp) {
			ts = last.Timestamp.Add(time.Nanosecond)
		}
		if parent == "" {
			parent = last.Hash
		}
	}

	r := record{
		Hash:        hash,
		Timestamp:   ts,
		Description: desc,
		Size:        int64(len(data)),
		Parent:      parent,
		Path:        rel,
		LinkedFrom:  opts.LinkedFrom,
	}
	if err := s.appendHistory(rel, r); err != nil {
		return nil, fmt.Errorf("failed to record version: %w", err)
	}

	return &Version{
		Number:      len(recs) + 1,
		Timestamp:   ts,
		Description: desc,
		Size:        r.Size,
		Hash:        hash,
		ParentHash:  parent,
		LinkedFrom:  r.LinkedFrom,
		IsCurrent:   true,
	}, nil
}

// List returns the versions of path, oldest first. A missing or unreadable
// store yields an empty list.
func (s *Store) List(path string) ([]Version, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(path, rel)
}

func (s *Store) listLocked(path, rel string) ([]Version, error) {
	recs, err := s.readHistory(rel)
	if err != nil {
		slog.Warn("unreadable version history", "path", path, "error", err)
		return []Version{}, nil
	}

	current := ""
	if data, err := os.ReadFile(path); err == nil {
		current = blobHash(data)
	}

	out := make([]Version, len(recs))
	cur := -1
	for i, r := range recs {
		out[i] = Version{
			Number:      i + 1,
			Timestamp:   r.Timestamp,
			Description: r.Description,
			Size:        r.Size,
			Hash:        r.Hash,
			ParentHash:  r.Parent,
			LinkedFrom:  r.LinkedFrom,
		}
		if r.Hash == current {
			cur = i
		}
	}
	if cur >= 0 {
		out[cur].IsCurrent = true
	}
	return out, nil
}

// Latest returns the newest version of path, or nil when it has none.
func (s *Store) Latest(path string) (*Version, error) {
	vs, err := s.List(path)
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	v := vs[len(vs)-1]
	return &v, nil
}

// Content returns the bytes of version n.
func (s *Store) Content(path string, n int) ([]byte, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.readHistory(rel)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(recs) {
		return nil, fmt.Errorf("version %d of %s: %w", n, rel, fault.ErrNotFound)
	}
	repo := s.openRepo()
	if repo == nil {
		return nil, fmt.Errorf("version store for %s: %w", s.root, fault.ErrNotFound)
	}
	return readBlob(repo, recs[n-1].Hash)
}

// Restore writes version n back to path. The present bytes are saved first as
// "Saved before restoring version N", so nothing is lost. It fails with
// fault.ErrCurrentMatches when the file already holds those bytes.
func (s *Store) Restore(path string, n int) (*Version, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vs, err := s.listLocked(path, rel)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(vs) {
		return nil, fmt.Errorf("version %d of %s: %w", n, rel, fault.ErrNotFound)
	}
	target := vs[n-1]

	present, readErr := os.ReadFile(path)
	if readErr == nil && blobHash(present) == target.Hash {
		return nil, fmt.Errorf("version %d of %s: %w", n, rel, fault.ErrCurrentMatches)
	}

	repo := s.openRepo()
	if repo == nil {
		return nil, fmt.Errorf("version store for %s: %w", s.root, fault.ErrNotFound)
	}
	content, err := readBlob(repo, target.Hash)
	if err != nil {
		return nil, err
	}

	if readErr == nil {
		desc := fmt.Sprintf("Saved before restoring version %d", n)
		if _, err := s.saveLocked(rel, present, SaveOptions{Description: desc}); err != nil {
			return nil, fmt.Errorf("failed to save current state: %w", err)
		}
	}

	if err := WriteFileAtomic(path, content); err != nil {
		return nil, fmt.Errorf("failed to write restored content: %w", err)
	}
	target.IsCurrent = true
	return &target, nil
}

// Matches reports whether data equals the newest saved version of path.
func (s *Store) Matches(path string, data []byte) (bool, error) {
	latest, err := s.Latest(path)
	if err != nil || latest == nil {
		return false, err
	}
	return latest.Hash == blobHash(data), nil
}

// HashOf returns the content address used for data.
func HashOf(data []byte) string { return blobHash(data) }

// WriteFileAtomic writes data to a temp file in path's directory and renames
// it over path, keeping the original file mode when there is one.
func WriteFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
