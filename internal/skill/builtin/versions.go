package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// VersionHistory lists the saved versions of a file.
type VersionHistory struct {
	meta
	files *safefs.Ops
}

func NewVersionHistory(files *safefs.Ops) *VersionHistory {
	return &VersionHistory{
		meta: meta{
			id:    "version_history",
			name:  "Version history",
			desc:  "List the saved versions of a file, newest last, marking the one that matches the file now.",
			level: skill.Safe,
			schema: object([]string{"path"}, map[string]skill.Property{
				"path": str("File to list versions for"),
			}),
		},
		files: files,
	}
}

func (s *VersionHistory) Validate(in skill.Input) error { return requirePath(in) }

func (s *VersionHistory) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	abs, err := s.files.Check(pathParam(in))
	if err != nil {
		return nil, err
	}
	store, err := s.files.Versions().For(abs)
	if err != nil {
		return nil, err
	}
	list, err := store.List(abs)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return skill.DataOutput(fmt.Sprintf("No saved versions of %s", abs), list)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d versions of %s", len(list), abs)
	for _, v := range list {
		mark := ""
		if v.IsCurrent {
			mark = " (current)"
		}
		fmt.Fprintf(&sb, "\n%d. %s, %s, %s%s", v.Number, v.Description, humanize.Bytes(uint64(v.Size)), humanize.Time(v.Timestamp), mark)
	}
	return skill.DataOutput(sb.String(), list)
}

// VersionRestore puts an earlier version of a file back.
type VersionRestore struct {
	meta
	files *safefs.Ops
}

func NewVersionRestore(files *safefs.Ops) *VersionRestore {
	return &VersionRestore{
		meta: meta{
			id:    "version_restore",
			name:  "Restore version",
			desc:  "Restore a file to an earlier saved version. The present content is saved as a new version first.",
			level: skill.Sensitive,
			schema: object([]string{"path", "version"}, map[string]skill.Property{
				"path":    str("File to restore"),
				"version": {Type: "integer", Description: "Version number from version_history"},
			}),
		},
		files: files,
	}
}

func (s *VersionRestore) Validate(in skill.Input) error {
	if err := requirePath(in); err != nil {
		return err
	}
	var n int
	ok, err := in.Param("version", &n)
	if err != nil {
		return err
	}
	if !ok || n < 1 {
		return fmt.Errorf("version must be 1 or more: %w", fault.ErrInvalidInput)
	}
	return nil
}

func (s *VersionRestore) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	var n int
	if _, err := in.Param("version", &n); err != nil {
		return nil, err
	}
	action, err := s.files.WithSkill(s.id).Restore(pathParam(in), n)
	if err != nil {
		return nil, err
	}
	return skill.TextOutput(action.String()).AddFile(fileResult(action)), nil
}
