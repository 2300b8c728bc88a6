package builtin

import (
	"context"
	"fmt"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// FileArchive moves a file into the archive instead of deleting it.
type FileArchive struct {
	meta
	files *safefs.Ops
}

func NewFileArchive(files *safefs.Ops) *FileArchive {
	return &FileArchive{
		meta: meta{
			id:    "file_archive",
			name:  "Archive file",
			desc:  "Move a file out of the way into the dated archive folder. Nothing is deleted.",
			level: skill.Sensitive,
			schema: object([]string{"path"}, map[string]skill.Property{
				"path": str("File to archive"),
			}),
		},
		files: files,
	}
}

func (s *FileArchive) Validate(in skill.Input) error { return requirePath(in) }

func (s *FileArchive) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	action, err := s.files.WithSkill(s.id).Archive(pathParam(in))
	if err != nil {
		return nil, err
	}
	return skill.TextOutput(action.String()).AddFile(fileResult(action)), nil
}

var writeActions = []string{"create", "modify", "write", "append", "move"}

// FileWrite creates, changes or moves files through the versioned file ops.
type FileWrite struct {
	meta
	files *safefs.Ops
}

func NewFileWrite(files *safefs.Ops) *FileWrite {
	return &FileWrite{
		meta: meta{
			id:    "file_write",
			name:  "Write file",
			desc:  "Create, overwrite, append to or move a file. Every change is saved as a version so it can be undone.",
			level: skill.Sensitive,
			schema: object([]string{"action", "path"}, map[string]skill.Property{
				"action":  {Type: "string", Description: "What to do", Enum: writeActions},
				"path":    str("File to change"),
				"content": str("New content, or the text to append"),
				"to":      str("Destination for move"),
			}),
		},
		files: files,
	}
}

func (s *FileWrite) Validate(in skill.Input) error {
	if err := requirePath(in); err != nil {
		return err
	}
	action := in.StringParam("action")
	switch action {
	case "create", "modify", "write", "append":
		if !in.Has("content") {
			return fmt.Errorf("content is required for %s: %w", action, fault.ErrInvalidInput)
		}
	case "move":
		if in.StringParam("to") == "" {
			return fmt.Errorf("to is required for move: %w", fault.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown action %q: %w", action, fault.ErrInvalidInput)
	}
	return nil
}

func (s *FileWrite) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	ops := s.files.WithSkill(s.id)
	path := pathParam(in)
	data := []byte(in.StringParam("content"))

	var (
		action safefs.FileAction
		err    error
	)
	switch in.StringParam("action") {
	case "create":
		action, err = ops.Create(path, data)
	case "modify":
		action, err = ops.Modify(path, data)
	case "write":
		action, err = ops.Write(path, data)
	case "append":
		action, err = ops.Append(path, data)
	case "move":
		action, err = ops.Move(path, in.StringParam("to"))
	}
	if err != nil {
		return nil, err
	}
	return skill.TextOutput(action.String()).AddFile(fileResult(action)), nil
}
