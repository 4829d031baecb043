package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/agent"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/provider"
	"github.com/spf13/cobra"
)

// markdownRenderer abstracts the terminal renderer for tests.
type markdownRenderer interface {
	Render(string) (string, error)
}

func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with Geofrey",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		fmt.Println("Running without LLM (tools only mode)")
		model = nil
	}

	msgBus := bus.NewMessageBus(10)
	loop, err := agent.NewLoop(cfg, msgBus, model)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	if err := loop.RegisterDefaultTools(cfg); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	loop.OnToolStart = func(name, args string) {
		fmt.Printf("  [tool] %s\n", name)
	}

	renderer := newTerminalRenderer()

	if len(args) > 0 {
		message := strings.Join(args, " ")
		resp, err := loop.ProcessDirect(ctx, message)
		if err != nil {
			return err
		}
		fmt.Println(renderResponse(resp, renderer))
		return nil
	}

	fmt.Println("Geofrey ready. Type 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}

		resp, err := loop.ProcessDirect(ctx, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(renderResponse(resp, renderer))
	}

	return nil
}

func newTerminalRenderer() markdownRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderResponse renders assistant markdown for the terminal, falling
// back to plain text when the renderer is unavailable or fails.
func renderResponse(content string, r markdownRenderer) string {
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
