// Package shellguard checks and runs shell commands on behalf of skills.
// Commands may only touch the allowed directories and may not chain, nest
// or dump the environment.
package shellguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

const (
	DefaultTimeout = 30 * time.Second
	// MaxOutput is the number of characters of combined output kept.
	MaxOutput = 10000
)

// redirect matches a leading redirection such as 2>, >> or <&.
var redirect = regexp.MustCompile(`^[0-9]*(?:>>|>|<)(&?)`)

// Guard validates commands against the allowed directories.
type Guard struct {
	allowed []string
	workDir string
	log     *slog.Logger
}

func New(allowedDirs []string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	dirs := make([]string, 0, len(allowedDirs))
	for _, d := range allowedDirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, canonical(config.ExpandHome(d)))
		}
	}
	g := &Guard{allowed: dirs, log: logger}
	if len(dirs) > 0 {
		g.workDir = dirs[0]
	}
	return g
}

// SetWorkDir sets the directory commands run in. It must be inside an
// allowed directory.
func (g *Guard) SetWorkDir(dir string) error {
	if !g.inAllowed(dir) {
		return fmt.Errorf("working directory %q is outside the allowed folders: %w", dir, fault.ErrPermissionDenied)
	}
	g.workDir = canonical(dir)
	return nil
}

// forbiddenOp returns the first chaining or substitution operator found
// outside quotes. Pipes and simple redirects, including 2>&1, are allowed.
func forbiddenOp(cmd string) string {
	var inSingle, inDouble bool
	var prev rune
	rs := []rune(cmd)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		var next rune
		if i+1 < len(rs) {
			next = rs[i+1]
		}
		switch {
		case c == '\\' && !inSingle:
			i++
			prev = c
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case c == ';':
			return ";"
		case c == '&' && next == '&':
			return "&&"
		case c == '&' && prev != '>':
			return "&"
		case c == '|' && next == '|':
			return "||"
		case c == '`':
			return "`"
		case c == '$' && next == '(':
			return "$()"
		case c == '<' && next == '<':
			return "<<"
		}
		prev = c
	}
	return ""
}

// candidatePaths returns every word of a split command that may name a
// file: the word itself, the value of a k=v word and the target of a
// redirection. Operators, fd duplications, URLs and the null device are
// skipped.
func candidatePaths(words []string) []string {
	var out []string
	add := func(w string) {
		w = stripGlob(w)
		if w == "" || w == os.DevNull || strings.Contains(w, "://") {
			return
		}
		out = append(out, w)
	}
	for _, w := range words {
		if m := redirect.FindStringSubmatch(w); m != nil {
			if m[1] != "" {
				continue
			}
			w = w[len(m[0]):]
		}
		switch w {
		case "", "|", "-", "--":
			continue
		}
		if i := strings.IndexByte(w, '='); i >= 0 {
			add(w[i+1:])
			w = w[:i]
		}
		if strings.HasPrefix(w, "-") {
			continue
		}
		add(w)
	}
	return out
}

func isSensitive(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	for _, part := range strings.Split(p, "/") {
		switch part {
		case ".ssh", ".aws", ".gnupg":
			return true
		}
	}
	if strings.Contains(p, "library/keychains") {
		return true
	}
	base := filepath.Base(p)
	return base == ".npmrc" || base == ".env"
}

// stripGlob cuts a path at the last separator before its first wildcard.
func stripGlob(p string) string {
	i := strings.IndexAny(p, "*?[]")
	if i < 0 {
		return p
	}
	prefix := p[:i]
	sep := strings.LastIndexAny(prefix, `/\`)
	if sep <= 0 {
		return prefix
	}
	return prefix[:sep]
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	abs = filepath.Clean(abs)
	// Resolve the deepest existing ancestor so missing targets compare
	// against the same real prefix as the allowed dirs.
	rest := ""
	for dir := abs; ; {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

func (g *Guard) inAllowed(path string) bool {
	c := canonical(path)
	for _, dir := range g.allowed {
		rel, err := filepath.Rel(dir, c)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Validate returns an error when cmd may not run.
func (g *Guard) Validate(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("empty command: %w", fault.ErrInvalidInput)
	}
	if len(g.allowed) == 0 {
		return fmt.Errorf("no folders are allowed: %w", fault.ErrPermissionDenied)
	}
	if op := forbiddenOp(cmd); op != "" {
		return fmt.Errorf("command uses %s, run one step at a time: %w", op, fault.ErrBlocked)
	}
	words, err := shlex.Split(cmd)
	if err != nil {
		return fmt.Errorf("cannot parse command: %v: %w", err, fault.ErrInvalidInput)
	}
	if len(words) > 0 {
		switch strings.ToLower(words[0]) {
		case "printenv", "env":
			return fmt.Errorf("printing the environment is blocked: %w", fault.ErrBlocked)
		}
	}
	for _, raw := range candidatePaths(words) {
		candidate := config.ExpandHome(raw)
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(g.workDir, candidate)
		}
		if isSensitive(candidate) {
			return fmt.Errorf("command touches a sensitive path %q: %w", raw, fault.ErrBlocked)
		}
		check := candidate
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			check = filepath.Dir(candidate)
		}
		if !g.inAllowed(check) {
			return fmt.Errorf("path %q is outside the allowed folders: %w", raw, fault.ErrPermissionDenied)
		}
	}
	return nil
}

// Result is the outcome of a command that was started.
type Result struct {
	Command    string `json:"command"`
	Level      Level  `json:"level"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Summary    string `json:"summary"`
	NeededSudo bool   `json:"needed_sudo,omitempty"`
}

// Execute validates and runs cmd in the platform shell. Refusals are
// returned as errors; a command that ran and failed is a Result with
// Success false.
func (g *Guard) Execute(ctx context.Context, cmd string, timeout time.Duration) (*Result, error) {
	if err := g.Validate(cmd); err != nil {
		return nil, err
	}
	level := Classify(cmd)
	switch level {
	case LevelBlocked:
		return nil, fmt.Errorf("command is blocked for safety: %w", fault.ErrBlocked)
	case LevelNeedsSudo:
		return nil, fmt.Errorf("command needs administrator rights: %w", fault.ErrBlocked)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		name, flag = "cmd", "/C"
	}
	c := exec.CommandContext(cctx, name, flag, cmd)
	c.Dir = g.workDir
	c.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	runErr := c.Run()
	elapsed := time.Since(start)

	res := &Result{
		Command:    cmd,
		Level:      level,
		ExitCode:   -1,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: elapsed.Milliseconds(),
	}
	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.Output = fmt.Sprintf("Command timed out after %s", timeout)
		res.Summary = fmt.Sprintf("Timed out after %s", timeout)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		var exitErr *exec.ExitError
		if runErr == nil || errors.As(runErr, &exitErr) {
			res.ExitCode = c.ProcessState.ExitCode()
			res.Success = runErr == nil
		} else {
			res.Stderr = runErr.Error()
		}
		res.Output = combine(res.Stdout, res.Stderr)
		res.Summary = summarize(cmd, res)
		res.NeededSudo = strings.Contains(res.Stderr, "Permission denied") ||
			strings.Contains(res.Stderr, "Operation not permitted")
	}
	g.log.Debug("command finished", "command", cmd, "exit_code", res.ExitCode, "duration_ms", res.DurationMS)
	return res, nil
}

func combine(stdout, stderr string) string {
	out := stdout
	if stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += stderr
	}
	if n := utf8.RuneCountInString(out); n > MaxOutput {
		total := len(out)
		out = string([]rune(out)[:MaxOutput]) + fmt.Sprintf("...\n[Output truncated, %d bytes total]", total)
	}
	return out
}

func summarize(cmd string, r *Result) string {
	base := cmd
	if f := strings.Fields(cmd); len(f) > 0 {
		base = f[0]
	}
	if !r.Success {
		switch {
		case strings.Contains(r.Stderr, "not found"):
			return fmt.Sprintf("'%s' is not installed", base)
		case strings.Contains(r.Stderr, "No such file"):
			return "File or directory not found"
		case strings.Contains(r.Stderr, "Permission denied"):
			return "Permission denied, may need admin access"
		}
		return fmt.Sprintf("Command failed (%dms)", r.DurationMS)
	}
	lines := 0
	if s := strings.TrimRight(r.Stdout, "\n"); s != "" {
		lines = strings.Count(s, "\n") + 1
	}
	switch base {
	case "ls", "find", "tree":
		return fmt.Sprintf("Found %d items (%dms)", lines, r.DurationMS)
	case "grep", "rg", "ag":
		if lines == 0 {
			return "No matches found"
		}
		return fmt.Sprintf("Found %d matches (%dms)", lines, r.DurationMS)
	case "cat", "head", "tail":
		return fmt.Sprintf("Displayed %d lines (%dms)", lines, r.DurationMS)
	}
	return fmt.Sprintf("Complete (%dms)", r.DurationMS)
}
