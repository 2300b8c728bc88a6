package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/shellguard"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// maxCommandTimeout caps the timeout a caller may ask for.
const maxCommandTimeout = 5 * time.Minute

// RunCommand runs one shell command inside the allowed folders.
type RunCommand struct {
	meta
}

func NewRunCommand() *RunCommand {
	return &RunCommand{meta: meta{
		id:    "run_command",
		name:  "Run command",
		desc:  "Run a single shell command inside the allowed folders. Chaining, substitution and environment dumps are refused; destructive commands need confirm.",
		level: skill.Sensitive,
		modes: []skill.Mode{skill.ModeFix, skill.ModeBuild, skill.ModeData, skill.ModeFind},
		schema: object([]string{"command"}, map[string]skill.Property{
			"command":      str("The command line"),
			"timeout_secs": {Type: "integer", Description: "Seconds before the command is stopped (default 30)"},
			"confirm":      {Type: "boolean", Description: "Set when the user agreed to a destructive command"},
		}),
	}}
}

func command(in skill.Input) string {
	if c := strings.TrimSpace(in.StringParam("command")); c != "" {
		return c
	}
	return strings.TrimSpace(in.Query)
}

func (s *RunCommand) Validate(in skill.Input) error {
	if command(in) == "" {
		return fmt.Errorf("command is required: %w", fault.ErrInvalidInput)
	}
	var secs int
	if _, err := in.Param("timeout_secs", &secs); err != nil {
		return err
	}
	if secs < 0 {
		return fmt.Errorf("timeout_secs must not be negative: %w", fault.ErrInvalidInput)
	}
	return nil
}

func (s *RunCommand) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	cmd := command(in)
	var confirm bool
	if _, err := in.Param("confirm", &confirm); err != nil {
		return nil, err
	}
	if shellguard.Classify(cmd) == shellguard.LevelDangerous && !confirm {
		return nil, fmt.Errorf("%q changes or removes things and needs confirm: %w", cmd, fault.ErrPermissionDenied)
	}

	timeout := shellguard.DefaultTimeout
	var secs int
	if ok, _ := in.Param("timeout_secs", &secs); ok && secs > 0 {
		timeout = min(time.Duration(secs)*time.Second, maxCommandTimeout)
	}

	res, err := sc.ExecuteCommand(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	out, err := skill.DataOutput(res.Summary+"\n"+res.Output, res)
	if err != nil {
		return nil, err
	}
	return out, nil
}
