// Package builtin holds the skills that expose the core: search, indexing,
// version history, archiving, writing files and running commands.
package builtin

import (
	"fmt"
	"strings"

	"github.com/littlehelper/littlehelper/internal/embed"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// Deps are the components the built-in skills work on.
type Deps struct {
	Index *index.Index
	Files *safefs.Ops
	// Embedder, when set, lets drive_index embed new files.
	Embedder   embed.Embedder
	MaxResults int
}

// IDs lists every built-in skill id.
var IDs = []string{
	"file_search",
	"drive_index",
	"version_history",
	"version_restore",
	"file_archive",
	"file_write",
	"run_command",
}

// All returns every built-in skill. Skills whose dependency is missing are
// left out.
func All(d Deps) []skill.Skill {
	var out []skill.Skill
	if d.Index != nil {
		out = append(out, NewFileSearch(d.Index, d.MaxResults))
		if d.Files != nil {
			out = append(out, NewDriveIndex(d.Index, d.Files, d.Embedder))
		}
	}
	if d.Files != nil {
		out = append(out,
			NewVersionHistory(d.Files),
			NewVersionRestore(d.Files),
			NewFileArchive(d.Files),
			NewFileWrite(d.Files),
		)
	}
	out = append(out, NewRunCommand())
	return out
}

// Register adds All(d) to reg.
func Register(reg *skill.Registry, d Deps) error {
	for _, s := range All(d) {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// meta carries the descriptive half of a skill.
type meta struct {
	id, name, desc string
	level          skill.PermissionLevel
	modes          []skill.Mode
	schema         skill.Schema
}

func (m meta) ID() string                             { return m.id }
func (m meta) Name() string                           { return m.name }
func (m meta) Description() string                    { return m.desc }
func (m meta) PermissionLevel() skill.PermissionLevel { return m.level }
func (m meta) Modes() []skill.Mode                    { return m.modes }
func (m meta) Schema() skill.Schema                   { return m.schema }

func object(required []string, props map[string]skill.Property) skill.Schema {
	return skill.Schema{Type: "object", Properties: props, Required: required}
}

func str(desc string) skill.Property { return skill.Property{Type: "string", Description: desc} }

// pathParam reads "path", falling back to the first attached file.
func pathParam(in skill.Input) string {
	if p := strings.TrimSpace(in.StringParam("path")); p != "" {
		return p
	}
	if len(in.ContextFiles) > 0 {
		return in.ContextFiles[0]
	}
	return ""
}

func requirePath(in skill.Input) error {
	if pathParam(in) == "" {
		return fmt.Errorf("path is required: %w", fault.ErrInvalidInput)
	}
	return nil
}

func fileResult(a safefs.FileAction) skill.FileResult {
	return skill.FileResult{Path: a.Path, Action: string(a.Kind), From: a.From, To: a.To, Version: a.Version}
}
