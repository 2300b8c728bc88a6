package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/skill"
)

var (
	runParams  []string
	runQuery   string
	runMode    string
	runTimeout time.Duration

	auditTypes []string
	auditSkill string
	auditPath  string
	auditLimit int
	auditSince time.Duration
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List skills and change their permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		printSkills(a.registry.List())
		return nil
	},
}

func permissionCmd(p skill.Permission, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(p) + " <skill>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			for _, id := range args {
				if err := a.registry.SetPermission(id, p); err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", id, p)
			}
			return nil
		},
	}
}

var runCmd = &cobra.Command{
	Use:   "run <skill>",
	Short: "Invoke a skill directly",
	Long: `Invokes one skill with parameters given as --param key=value. Values
that parse as JSON (numbers, booleans, arrays) are passed as such; anything
else is passed as a string. Sensitive skills ask for confirmation unless
--yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent entries from the audit log",
	RunE:  runAudit,
}

func init() {
	skillsCmd.AddCommand(
		permissionCmd(skill.Enabled, "Allow skills to run without asking"),
		permissionCmd(skill.Disabled, "Stop skills from running"),
		permissionCmd(skill.Ask, "Require approval before skills run"),
	)

	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Parameter as key=value (repeatable)")
	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "Free-text query for the skill")
	runCmd.Flags().StringVar(&runMode, "mode", string(skill.ModeFind), "Mode to run in")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall deadline, e.g. 30s")
	runCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before running a sensitive skill")
	runCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full execution record as JSON")

	auditCmd.Flags().StringSliceVarP(&auditTypes, "type", "t", nil, "Only these event types: skill_exec, file_op, perm_change, error")
	auditCmd.Flags().StringVar(&auditSkill, "skill", "", "Only entries for this skill")
	auditCmd.Flags().StringVar(&auditPath, "path", "", "Only entries for files under this path")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum number of entries")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this, e.g. 24h")
	auditCmd.Flags().BoolVar(&outputJSON, "json", false, "Print entries as JSON lines")
}

func printSkills(infos []skill.Info) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SKILL\tLEVEL\tPERMISSION\tMODES\tDESCRIPTION")
	for _, info := range infos {
		modes := "all"
		if len(info.Modes) > 0 {
			names := make([]string, len(info.Modes))
			for i, m := range info.Modes {
				names[i] = string(m)
			}
			modes = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Level, info.Permission, modes, info.Description)
	}
	_ = w.Flush()
}

// parseParams turns key=value pairs into skill parameters.
func parseParams(in skill.Input, pairs []string) (skill.Input, error) {
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return in, fmt.Errorf("parameter %q is not key=value: %w", pair, fault.ErrInvalidInput)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		in = in.WithParam(key, v)
	}
	return in, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := skill.ParseMode(runMode)
	if err != nil {
		return err
	}
	in, err := parseParams(skill.Input{Query: runQuery}, runParams)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	s, ok := a.registry.Get(id)
	if !ok {
		return fmt.Errorf("skill %q: %w", id, fault.ErrNotFound)
	}
	var approve []string
	if s.PermissionLevel() == skill.Sensitive {
		if !assumeYes && !askYesNo(fmt.Sprintf("%s can change files or run commands. Run it?", id)) {
			return fmt.Errorf("%s: %w", id, fault.ErrPermissionDenied)
		}
		approve = append(approve, id)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if runTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}
	return printExecution(a.runtime.Invoke(ctx, id, in, a.session(mode, approve)))
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	f := audit.Filter{SkillID: auditSkill, Limit: auditLimit}
	for _, t := range auditTypes {
		f.Types = append(f.Types, audit.EventType(t))
	}
	if auditPath != "" {
		abs, err := a.files.Check(auditPath)
		if err != nil {
			return err
		}
		f.PathPrefix = abs
	}
	if auditSince > 0 {
		f.From = time.Now().Add(-auditSince)
	}
	entries, err := a.audit.Query(f)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		subject := e.SkillID
		if e.FilePath != "" {
			subject = e.FilePath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Type, subject, e.Action, e.Details)
	}
	return w.Flush()
}
