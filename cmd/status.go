package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/audit"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show allowed folders, providers, index and audit stats",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Println("Little Helper Status")
	fmt.Println("====================")
	fmt.Printf("Config directory: %s\n", a.configDir)
	fmt.Printf("Data directory: %s\n\n", a.dataDir)

	fmt.Println("Allowed folders")
	fmt.Println("---------------")
	for _, d := range a.allowed {
		fmt.Printf("  %s\n", d)
	}
	fmt.Println()

	fmt.Println("Providers")
	fmt.Println("---------")
	for _, p := range a.router().Providers() {
		if p.Ready {
			fmt.Printf("  %s: ready\n", p.Name)
		} else {
			fmt.Printf("  %s: unavailable (%s)\n", p.Name, p.Reason)
		}
	}
	fmt.Println()

	files, err := a.index.FileCount()
	if err != nil {
		return fmt.Errorf("failed to count indexed files: %w", err)
	}
	embedded, err := a.index.EmbeddingCount()
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}
	drives, err := a.index.Drives()
	if err != nil {
		return fmt.Errorf("failed to list drives: %w", err)
	}
	fmt.Println("Index")
	fmt.Println("-----")
	fmt.Printf("Indexed files: %s\n", humanize.Comma(files))
	fmt.Printf("Embedded files: %s (%s)\n", humanize.Comma(embedded), a.embedder.Model())
	for _, d := range drives {
		fmt.Printf("  %s: %s files, indexed %s\n", d.DriveID, humanize.Comma(d.Files), humanize.Time(d.LastIndexed))
	}
	fmt.Println()

	recent, err := a.audit.Query(audit.Filter{From: time.Now().Add(-7 * 24 * time.Hour)})
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	st := audit.Summarize(recent)
	fmt.Println("Audit log (last 7 days)")
	fmt.Println("-----------------------")
	fmt.Printf("Entries: %d\n", st.Total)
	fmt.Printf("Skill executions: %d\n", st.SkillExecutions)
	fmt.Printf("File operations: %d\n", st.FileOperations)
	fmt.Printf("Permission changes: %d\n", st.PermissionChanges)
	fmt.Printf("Errors: %d\n", st.Errors)
	return nil
}
