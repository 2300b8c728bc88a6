package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/littlehelper/littlehelper/internal/embed"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// DriveIndex scans a folder into the index.
type DriveIndex struct {
	meta
	ix       *index.Index
	files    *safefs.Ops
	embedder embed.Embedder
}

func NewDriveIndex(ix *index.Index, files *safefs.Ops, embedder embed.Embedder) *DriveIndex {
	return &DriveIndex{
		meta: meta{
			id:    "drive_index",
			name:  "Index drive",
			desc:  "Scan a folder so its files can be searched. Re-running refreshes the entries.",
			level: skill.Safe,
			modes: []skill.Mode{skill.ModeFind, skill.ModeFix, skill.ModeData, skill.ModeBuild},
			schema: object([]string{"path"}, map[string]skill.Property{
				"path":      str("Folder to scan"),
				"drive_id":  str("Label for the scanned files; defaults to the folder path"),
				"gitignore": {Type: "boolean", Description: "Skip paths listed in the folder's .gitignore (default true)"},
				"embed":     {Type: "boolean", Description: "Compute embeddings for new files afterwards"},
			}),
		},
		ix:       ix,
		files:    files,
		embedder: embedder,
	}
}

func (s *DriveIndex) Validate(in skill.Input) error { return requirePath(in) }

func (s *DriveIndex) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	root, err := s.files.Check(pathParam(in))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", root, fault.ErrNotFound)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a folder: %w", root, fault.ErrInvalidInput)
	}

	driveID := in.StringParam("drive_id")
	if driveID == "" {
		driveID = filepath.Clean(root)
	}
	gitignore := true
	if _, err := in.Param("gitignore", &gitignore); err != nil {
		return nil, err
	}
	var withEmbeddings bool
	if _, err := in.Param("embed", &withEmbeddings); err != nil {
		return nil, err
	}

	stats, err := s.ix.Scan(ctx, root, driveID, index.ScanOptions{
		RespectGitignore: gitignore,
		Progress: func(st index.ScanStats) {
			sc.Progress(fmt.Sprintf("Indexed %d of %d files", st.Indexed, st.TotalFiles), -1)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", root, err)
	}

	result := struct {
		index.ScanStats
		DriveID  string `json:"drive_id"`
		Embedded int    `json:"embedded,omitempty"`
	}{ScanStats: stats, DriveID: driveID}

	if withEmbeddings && s.embedder != nil {
		sc.Progress("Computing embeddings", -1)
		n, err := s.ix.EmbedPending(ctx, s.embedder, 0)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", root, err)
		}
		result.Embedded = n
	}

	summary := fmt.Sprintf("Indexed %d of %d files in %s", stats.Indexed, stats.TotalFiles, root)
	if stats.Errors > 0 {
		summary += fmt.Sprintf(" (%d could not be read)", stats.Errors)
	}
	return skill.DataOutput(summary, result)
}
