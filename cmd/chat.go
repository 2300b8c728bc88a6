package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/assistant"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/preview"
	"github.com/littlehelper/littlehelper/internal/skill"
)

var (
	chatMode    string
	chatApprove []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Little Helper in the terminal",
	Long: `Starts an interactive conversation. Replies stream as they arrive and
the assistant may call skills on your behalf.

Type /reset to start over, /mode <name> to switch modes and /exit to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", string(skill.ModeFind), "Mode: find, fix, research, data, content or build")
	chatCmd.Flags().StringSliceVar(&chatApprove, "approve", nil, "Sensitive skills approved for this session")
}

func userName() string {
	if u, err := user.Current(); err == nil {
		if u.Name != "" {
			return u.Name
		}
		return u.Username
	}
	return ""
}

func runChat(cmd *cobra.Command, args []string) error {
	mode, err := skill.ParseMode(chatMode)
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

	router := a.router()
	name := userName()
	newSession := func(m skill.Mode) *assistant.Session {
		return assistant.NewSession(router, a.runtime, a.session(m, chatApprove), assistant.Config{
			System: assistant.SystemPrompt(m, name),
		})
	}
	session := newSession(mode)

	fmt.Printf("Little Helper (%s mode). /exit to quit.\n", mode)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			session.Reset()
			fmt.Println("Started a new conversation.")
			continue
		case strings.HasPrefix(line, "/mode"):
			m, err := skill.ParseMode(strings.TrimSpace(strings.TrimPrefix(line, "/mode")))
			if err != nil {
				fmt.Println(fault.Friendly(err))
				continue
			}
			mode = m
			session = newSession(mode)
			fmt.Printf("Switched to %s mode.\n", mode)
			continue
		}

		reply, err := session.Turn(ctx, line, func(text string) { fmt.Print(text) })
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println(fault.Friendly(err))
			continue
		}
		printTurn(reply)
	}
}

// printTurn lists what the assistant did besides talking.
func printTurn(r *assistant.Reply) {
	for _, call := range r.ToolCalls {
		exec := call.Execution
		if exec == nil {
			continue
		}
		if exec.Succeeded() {
			fmt.Printf("  [%s: done in %dms]\n", call.Name, exec.DurationMS)
		} else {
			fmt.Printf("  [%s: %s] %s\n", call.Name, exec.Status, fault.Friendly(exec.Err()))
		}
	}
	for _, p := range r.Previews {
		target := p.Path
		if p.Type == preview.KindWeb {
			target = p.URL
		}
		fmt.Printf("  preview %s: %s %s\n", p.Type, target, p.Caption)
	}
}
