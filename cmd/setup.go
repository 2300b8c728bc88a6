package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/skill/builtin"
	"github.com/littlehelper/littlehelper/internal/telemetry"
)

// serverName is the key littlehelper is registered under in client configs.
const serverName = "littlehelper"

const instructionsHeading = "## Little Helper - File Assistant MCP"

var (
	setupGlobal     bool
	setupProject    bool
	setupOpencode   bool
	setupCodex      bool
	setupGemini     bool
	setupAllowAll   bool
	setupSkipMD     bool
	setupApprove    []string
	setupAllowDirs  []string
	setupPromptFrom io.Reader = os.Stdin
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register littlehelper with an MCP client and choose allowed folders",
	Long: `Adds littlehelper as an MCP server to a coding assistant's configuration.

By default, adds to the global Claude Code config (~/.claude.json).
Use --project to add to .mcp.json in the current directory instead.
Use --opencode, --codex or --gemini for those clients.

--allow-dir adds folders to the allowed list in settings.json. Nothing
outside the allowed folders is ever indexed, read or changed.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVarP(&setupGlobal, "global", "g", false, "Add to global Claude config (~/.claude.json)")
	setupCmd.Flags().BoolVarP(&setupProject, "project", "p", false, "Add to project config (.mcp.json)")
	setupCmd.Flags().BoolVarP(&setupOpencode, "opencode", "o", false, "Add to OpenCode config (opencode.json)")
	setupCmd.Flags().BoolVar(&setupCodex, "codex", false, "Add to Codex CLI config (~/.codex/config.toml)")
	setupCmd.Flags().BoolVar(&setupGemini, "gemini", false, "Add to Gemini CLI config (~/.gemini/settings.json)")
	setupCmd.Flags().BoolVarP(&setupAllowAll, "allow-all", "a", false, "Pre-approve littlehelper tools in the client (no permission prompts)")
	setupCmd.Flags().BoolVar(&setupSkipMD, "skip-claude-md", false, "Skip adding instructions to CLAUDE.md")
	setupCmd.Flags().StringSliceVar(&setupApprove, "approve", nil, "Sensitive skills the server may run without asking")
	setupCmd.Flags().StringSliceVar(&setupAllowDirs, "allow-dir", nil, "Folder to add to the allowed list")
}

func runSetup(cmd *cobra.Command, args []string) error {
	if len(setupAllowDirs) > 0 {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		dirs, err := addAllowedDirs(path, setupAllowDirs)
		if err != nil {
			return err
		}
		telemetry.TrackSetup("allowed_dirs")
		fmt.Printf("Allowed folders (%s):\n", path)
		for _, d := range dirs {
			fmt.Printf("  %s\n", d)
		}
		if !cmd.Flags().Changed("global") && !setupProject && !setupOpencode && !setupCodex && !setupGemini {
			return nil
		}
	}

	binaryPath, err := getBinaryPath()
	if err != nil {
		return fmt.Errorf("failed to find littlehelper binary: %w", err)
	}
	serverArgs := serveArgs(setupApprove)

	switch {
	case setupOpencode:
		telemetry.TrackSetup("opencode")
		return setupOpencodeConfig(binaryPath, serverArgs)
	case setupCodex:
		telemetry.TrackSetup("codex")
		return setupCodexConfig(binaryPath, serverArgs)
	case setupGemini:
		telemetry.TrackSetup("gemini")
		return setupGeminiConfig(binaryPath, serverArgs)
	}
	telemetry.TrackSetup("claude")

	if !setupAllowAll {
		setupAllowAll = askYesNo("Pre-approve littlehelper tools? (no permission prompts)")
	}
	if setupProject {
		err = setupProjectConfig(binaryPath, serverArgs)
	} else {
		err = setupGlobalConfig(binaryPath, serverArgs)
	}
	if err != nil {
		return err
	}
	if !setupSkipMD {
		if err := setupClaudeMD(); err != nil {
			fmt.Printf("Warning: failed to update CLAUDE.md: %v\n", err)
		}
	}
	return nil
}

// serveArgs are the arguments the client launches the server with.
func serveArgs(approve []string) []string {
	args := []string{"serve"}
	if len(approve) > 0 {
		args = append(args, "--approve", strings.Join(approve, ","))
	}
	return args
}

func getBinaryPath() (string, error) {
	path, err := exec.LookPath("littlehelper")
	if err == nil {
		return filepath.Abs(path)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(exe)
}

// addAllowedDirs appends dirs to the allowed list in the settings file at
// path and returns the resulting list. Every dir must exist.
func addAllowedDirs(path string, dirs []string) ([]string, error) {
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(s.AllowedDirs))
	for _, d := range s.AllowedDirs {
		seen[filepath.Clean(config.ExpandHome(d))] = true
	}
	for _, d := range dirs {
		abs, err := filepath.Abs(config.ExpandHome(d))
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot allow %s: %w", d, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("cannot allow %s: not a folder", d)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		s.AllowedDirs = append(s.AllowedDirs, abs)
	}
	if err := config.Save(path, s); err != nil {
		return nil, err
	}
	return s.AllowedDirs, nil
}

// updateJSON reads the JSON object at path (an absent file is empty), lets
// fn change it and writes it back indented. Parent dirs are created.
func updateJSON(path string, fn func(map[string]interface{})) error {
	doc := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	fn(doc)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func section(doc map[string]interface{}, key string) map[string]interface{} {
	m, ok := doc[key].(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		doc[key] = m
	}
	return m
}

func stdioServer(binaryPath string, args []string) map[string]interface{} {
	return map[string]interface{}{"command": binaryPath, "args": args}
}

func setupGlobalConfig(binaryPath string, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configPath := filepath.Join(home, ".claude.json")
	err = updateJSON(configPath, func(doc map[string]interface{}) {
		section(doc, "mcpServers")[serverName] = stdioServer(binaryPath, args)
		if setupAllowAll {
			addPermissionRules(doc)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added littlehelper to %s\n", configPath)
	fmt.Printf("Binary: %s\n", binaryPath)
	if setupAllowAll {
		fmt.Println("Pre-approved all littlehelper MCP tools.")
	}
	fmt.Println("\nRestart Claude Code to load the new MCP server.")
	return nil
}

func setupProjectConfig(binaryPath string, args []string) error {
	configPath := ".mcp.json"
	err := updateJSON(configPath, func(doc map[string]interface{}) {
		section(doc, "mcpServers")[serverName] = stdioServer(binaryPath, args)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added littlehelper to %s\n", configPath)
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Println("\nRestart Claude Code to load the new MCP server.")
	return nil
}

func setupOpencodeConfig(binaryPath string, args []string) error {
	configPath := "opencode.json"
	err := updateJSON(configPath, func(doc map[string]interface{}) {
		if _, ok := doc["$schema"]; !ok {
			doc["$schema"] = "https://opencode.ai/config.json"
		}
		section(doc, "mcp")[serverName] = map[string]interface{}{
			"type":    "local",
			"command": append([]string{binaryPath}, args...),
			"enabled": true,
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added littlehelper to %s\n", configPath)
	fmt.Println("\nRestart OpenCode to load the new MCP server.")
	return nil
}

func setupGeminiConfig(binaryPath string, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configPath := filepath.Join(home, ".gemini", "settings.json")
	err = updateJSON(configPath, func(doc map[string]interface{}) {
		section(doc, "mcpServers")[serverName] = stdioServer(binaryPath, args)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added littlehelper to %s\n", configPath)
	fmt.Println("\nRestart Gemini CLI to load the new MCP server.")
	return nil
}

func setupCodexConfig(binaryPath string, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configPath := filepath.Join(home, ".codex", "config.toml")

	doc := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	section(doc, "mcp_servers")[serverName] = stdioServer(binaryPath, args)

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Added littlehelper to %s\n", configPath)
	fmt.Println("\nRestart Codex to load the new MCP server.")
	return nil
}

// askYesNo prompts the user with a yes/no question.
func askYesNo(question string) bool {
	reader := bufio.NewReader(setupPromptFrom)
	fmt.Printf("%s [y/N]: ", question)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func toolName(skillID string) string {
	return "mcp__" + serverName + "__" + skillID
}

// addPermissionRules allows every built-in tool in the client without a
// prompt. Sensitive skills are still gated by the server's --approve list.
func addPermissionRules(doc map[string]interface{}) {
	permissions, ok := doc["permissions"].([]interface{})
	if !ok {
		permissions = []interface{}{}
	}
	for _, id := range builtin.IDs {
		permissions = append(permissions, map[string]interface{}{
			"tool":  toolName(id),
			"allow": true,
		})
	}
	doc["permissions"] = permissions
}

// setupClaudeMD adds littlehelper instructions to CLAUDE.md.
func setupClaudeMD() error {
	claudeMDPath := "CLAUDE.md"

	var tools strings.Builder
	for _, id := range builtin.IDs {
		fmt.Fprintf(&tools, "- **%s**\n", toolName(id))
	}
	instructions := "\n" + instructionsHeading + `

This project uses **littlehelper** to search and safely change files in the allowed folders.

### Available Tools
` + tools.String() + `
### Usage Guidelines
1. Index a folder with ` + "`drive_index`" + ` before searching it
2. Use ` + "`file_search`" + ` instead of guessing paths
3. Every write keeps the previous content; use ` + "`version_history`" + ` and ` + "`version_restore`" + ` to undo
4. Use ` + "`file_archive`" + ` to remove files; nothing is deleted
`

	var content string
	data, err := os.ReadFile(claudeMDPath)
	switch {
	case err == nil:
		content = string(data)
		if strings.Contains(content, instructionsHeading) {
			fmt.Println("CLAUDE.md already contains littlehelper instructions.")
			return nil
		}
		content = content + "\n" + instructions
	case errors.Is(err, fs.ErrNotExist):
		content = "# Project Instructions\n" + instructions
	default:
		return fmt.Errorf("failed to read CLAUDE.md: %w", err)
	}

	if err := os.WriteFile(claudeMDPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write CLAUDE.md: %w", err)
	}
	fmt.Printf("Added littlehelper instructions to %s\n", claudeMDPath)
	return nil
}
