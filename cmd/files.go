package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/skill"
)

var (
	outputJSON bool
	assumeYes  bool

	indexDrive       string
	indexNoGitignore bool
	indexEmbed       bool

	searchLimit    int
	searchSemantic bool
	searchExt      []string
	searchDrive    string
)

var indexCmd = &cobra.Command{
	Use:   "index <folder>",
	Short: "Scan a folder into the file index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := skill.Input{}.
			WithParam("path", args[0]).
			WithParam("gitignore", !indexNoGitignore).
			WithParam("embed", indexEmbed)
		if indexDrive != "" {
			in = in.WithParam("drive_id", indexDrive)
		}
		return runSkill(cmd.Context(), "drive_index", in, false)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed files by name and path",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := skill.Input{}.
			WithParam("query", strings.Join(args, " ")).
			WithParam("semantic", searchSemantic)
		if searchLimit > 0 {
			in = in.WithParam("limit", searchLimit)
		}
		if len(searchExt) > 0 {
			in = in.WithParam("extensions", searchExt)
		}
		if searchDrive != "" {
			in = in.WithParam("drive_id", searchDrive)
		}
		return runSkill(cmd.Context(), "file_search", in, false)
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions <file>",
	Short: "List the saved versions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkill(cmd.Context(), "version_history", skill.Input{}.WithParam("path", args[0]), false)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file> <version>",
	Short: "Bring back a saved version of a file",
	Long: `Restores version n of a file. The current content is saved as a new
version first, so a restore can itself be undone.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version must be a number: %w", fault.ErrInvalidInput)
		}
		in := skill.Input{}.WithParam("path", args[0]).WithParam("version", n)
		return runSkill(cmd.Context(), "version_restore", in, true)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <file>",
	Short: "Move a file into the archive instead of deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkill(cmd.Context(), "file_archive", skill.Input{}.WithParam("path", args[0]), true)
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, searchCmd, versionsCmd, restoreCmd, archiveCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Print the full execution record as JSON")
	}
	for _, c := range []*cobra.Command{restoreCmd, archiveCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	}

	indexCmd.Flags().StringVar(&indexDrive, "drive", "", "Label for the scanned files (default: the folder path)")
	indexCmd.Flags().BoolVar(&indexNoGitignore, "no-gitignore", false, "Also index files ignored by .gitignore")
	indexCmd.Flags().BoolVar(&indexEmbed, "embed", false, "Compute embeddings for semantic search")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic", false, "Rank by meaning as well as by name")
	searchCmd.Flags().StringSliceVar(&searchExt, "ext", nil, "Only these extensions, e.g. pdf,docx")
	searchCmd.Flags().StringVar(&searchDrive, "drive", "", "Only files from this drive")
}

// runSkill invokes one skill in find mode and prints the outcome. When
// confirm is set the user is asked first, and answering yes approves the
// skill for this invocation.
func runSkill(ctx context.Context, id string, in skill.Input, confirm bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	var approve []string
	if confirm {
		if !assumeYes && !askYesNo(fmt.Sprintf("Run %s?", id)) {
			return fmt.Errorf("%s: %w", id, fault.ErrPermissionDenied)
		}
		approve = append(approve, id)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	exec := a.runtime.Invoke(ctx, id, in, a.session(skill.ModeFind, approve))
	return printExecution(exec)
}

func printExecution(exec *skill.Execution) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(exec); err != nil {
			return err
		}
	} else if exec.Succeeded() {
		fmt.Println(exec.Output.Summary())
	}
	if exec.Succeeded() {
		return nil
	}
	if err := exec.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s %s", exec.SkillID, exec.Status)
}
