package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

type ScanOptions struct {
	// RespectGitignore skips paths matched by <root>/.gitignore.
	RespectGitignore bool
	// Progress, when set, is called after each committed batch.
	Progress func(ScanStats)
}

type ScanStats struct {
	TotalFiles int `json:"total_files"`
	Indexed    int `json:"indexed"`
	Errors     int `json:"errors"`
}

// Scan walks root and upserts every regular file under driveID. A symlinked
// root is resolved first. Hidden entries below root are skipped and symlinks
// below root are never followed. Per-file errors are counted; a failed commit
// aborts the scan and returns the counts reached so far.
func (ix *Index) Scan(ctx context.Context, root, driveID string, opts ScanOptions) (ScanStats, error) {
	var stats ScanStats

	root, err := filepath.Abs(root)
	if err != nil {
		return stats, err
	}
	// WalkDir does not descend into a symlinked root.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("scan root %s is not a directory", root)
	}

	var gi *ignore.GitIgnore
	if opts.RespectGitignore {
		if g, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			gi = g
		}
	}

	batch := make([]File, 0, BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ix.mu.Lock()
		err := ix.upsertBatch(batch)
		ix.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		stats.Indexed += len(batch)
		batch = batch[:0]
		if opts.Progress != nil {
			opts.Progress(stats)
		}
		return nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root {
				return err
			}
			stats.Errors++
			slog.Debug("scan entry unreadable", "path", path, "error", err)
			return nil
		}
		if path == root {
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if gi != nil {
			rel, _ := filepath.Rel(root, path)
			rel = filepath.ToSlash(rel)
			if gi.MatchesPath(rel) || (d.IsDir() && gi.MatchesPath(rel+"/")) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		stats.TotalFiles++
		fi, err := d.Info()
		if err != nil {
			stats.Errors++
			return nil
		}
		batch = append(batch, newFile(path, fi, driveID, time.Now()))
		if len(batch) >= BatchSize {
			return flush()
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		return stats, walkErr
	}
	if err := flush(); err != nil {
		return stats, err
	}

	slog.Info("scan complete", "root", root, "drive", driveID,
		"total", stats.TotalFiles, "indexed", stats.Indexed, "errors", stats.Errors)
	return stats, nil
}
