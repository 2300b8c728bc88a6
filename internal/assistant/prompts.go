package assistant

import (
	"fmt"
	"strings"

	"github.com/littlehelper/littlehelper/internal/skill"
)

const previewRules = `To show the user a file, page or picture, put a preview tag on its own line:
<preview type="file" path="/path/to/file">short caption</preview>
<preview type="web" url="https://example.com">short caption</preview>
Types are file, web, image, ascii and security.`

var modeRoles = map[skill.Mode]string{
	skill.ModeFind: `FIND mode. Help the user locate files and content inside the folders they allowed.
- Search the index before guessing paths.
- Prefer read-only actions.`,
	skill.ModeFix: `FIX mode. Diagnose problems and fix them.
- Run diagnostic commands instead of only explaining them.
- Explain each change before you make it. Every overwrite can be undone from version history.`,
	skill.ModeResearch: `RESEARCH mode. Research questions thoroughly.
- Look at the question from more than one angle and cite sources.
- Say when information may be outdated.`,
	skill.ModeData: `DATA mode. Help the user work with CSV files, JSON data and databases.
- Preview the data files you are working with.`,
	skill.ModeContent: `CONTENT mode. Help the user draft and organize written content.
- Save drafts next to the material they are based on.`,
	skill.ModeBuild: `BUILD mode. Help the user create small projects.
- Say "folder", never "directory".
- Ask which folder to use before creating anything.`,
}

// SystemPrompt is the system message for a chat in mode. user may be empty.
func SystemPrompt(mode skill.Mode, user string) string {
	if strings.TrimSpace(user) == "" {
		user = "the user"
	}
	role, ok := modeRoles[mode]
	if !ok {
		role = modeRoles[skill.ModeFind]
	}
	return fmt.Sprintf(`You are Little Helper in %s

You are helping %s. You can only read and change files inside the folders they allowed.
Removing a file archives it and never deletes it.

%s
`, role, user, previewRules)
}
