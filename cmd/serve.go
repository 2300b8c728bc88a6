package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/httpapi"
	"github.com/littlehelper/littlehelper/internal/mcp"
	"github.com/littlehelper/littlehelper/internal/skill"
)

var (
	serveMode    string
	serveApprove []string
	apiAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdin/stdout",
	Long: `Starts littlehelper as an MCP server. This is typically invoked by a
coding assistant, not directly. Sensitive skills are only callable when
approved with --approve.`,
	RunE: runServe,
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the local HTTP API",
	RunE:  runAPI,
}

func init() {
	for _, c := range []*cobra.Command{serveCmd, apiCmd} {
		c.Flags().StringVar(&serveMode, "mode", string(skill.ModeFind), "Mode whose skills are exposed")
		c.Flags().StringSliceVar(&serveApprove, "approve", nil, "Sensitive skills approved for this session")
	}
	apiCmd.Flags().StringVar(&apiAddr, "addr", httpapi.DefaultAddr, "Listen address")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	mode, err := skill.ParseMode(serveMode)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	server := mcp.NewServer(a.runtime, a.session(mode, serveApprove))
	return server.Run(ctx)
}

func runAPI(cmd *cobra.Command, args []string) error {
	mode, err := skill.ParseMode(serveMode)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	h := httpapi.NewHandler(httpapi.Deps{
		Index:   a.index,
		Files:   a.files,
		Audit:   a.audit,
		Runtime: a.runtime,
		Session: a.session(mode, serveApprove),
	})
	fmt.Fprintf(os.Stderr, "Listening on http://%s\n", apiAddr)
	return httpapi.Serve(ctx, apiAddr, httpapi.NewRouter(h))
}
