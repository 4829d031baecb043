package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/metrics"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Geofrey configuration status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	fmt.Println("=== Geofrey Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'geofrey init')")
	}

	fmt.Printf("\nWorkspace: %s\n", workspacePath)
	if _, err := os.Stat(workspacePath); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found")
	}
	workspaceMode := strings.TrimSpace(cfg.Agents.Defaults.WorkspaceMode)
	if workspaceMode == "" {
		workspaceMode = "default"
	}
	fmt.Printf("  Mode: %s\n", workspaceMode)

	fmt.Printf("\nModel: %s\n", cfg.Agents.Defaults.Model)

	fmt.Println("\nProviders:")
	providers := []struct {
		name string
		key  string
	}{
		{"OpenRouter", cfg.Providers.OpenRouter.APIKey},
		{"Claude", cfg.Providers.Claude.APIKey},
		{"OpenAI", cfg.Providers.OpenAI.APIKey},
		{"DeepSeek", cfg.Providers.DeepSeek.APIKey},
		{"Ollama", cfg.Providers.Ollama.BaseURL},
	}
	for _, p := range providers {
		status := "Not configured"
		if p.key != "" {
			status = "Configured"
		}
		fmt.Printf("  %s: %s\n", p.name, status)
	}

	fmt.Println("\nGuard:")
	fmt.Printf("  Threshold: %s\n", cfg.Guard.Threshold)
	fmt.Printf("  Approval TTL: %s\n", cfg.Guard.ApprovalTTL)
	fmt.Printf("  Model fallback: %v\n", cfg.Guard.UseModelFallback)
	operator := strings.TrimSpace(cfg.Guard.OperatorChannel)
	if operator == "" {
		fmt.Println("  Operator: not set (approvals via admin API only)")
	} else {
		fmt.Printf("  Operator: %s:%s\n", operator, cfg.Guard.OperatorChatID)
	}
	fmt.Printf("  Audit log: %s\n", cfg.AuditDir())

	fmt.Println("\nTools:")
	fmt.Println("  read_file: ready")
	fmt.Println("  write_file: ready")
	fmt.Println("  edit_file: ready")
	fmt.Println("  append_file: ready")
	fmt.Println("  list_dir: ready")
	fmt.Printf("  shell_exec: ready (timeout=%ds, restrict_to_workspace=%v)\n", cfg.Tools.Exec.Timeout, cfg.Tools.Exec.RestrictToWorkspace)
	homeStatus := "not configured"
	if strings.TrimSpace(cfg.Tools.Home.BridgeURL) != "" {
		homeStatus = "ready (" + cfg.Tools.Home.BridgeURL + ")"
	}
	fmt.Printf("  home_call: %s\n", homeStatus)
	fmt.Println("  message: ready")

	fmt.Println("\nChannels:")
	channelLine := func(enabled bool, token string, allowed int) string {
		if !enabled {
			return "disabled"
		}
		if strings.TrimSpace(token) == "" {
			return "enabled (missing token)"
		}
		return fmt.Sprintf("enabled (ready, %d allowed senders)", allowed)
	}
	fmt.Printf("  Telegram: %s\n", channelLine(cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token, len(cfg.Channels.Telegram.AllowFrom)))
	fmt.Printf("  Discord: %s\n", channelLine(cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token, len(cfg.Channels.Discord.AllowFrom)))

	fmt.Println("\nGateway:")
	fmt.Printf("  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Println("  Auth:    token configured")
	} else {
		fmt.Println("  Auth:    no token (open)")
	}

	if snap, err := metrics.ReadSnapshot(workspacePath); err == nil && snap.HasData() {
		fmt.Println("\nRuntime metrics (last run):")
		if snap.Tool.Total > 0 {
			fmt.Printf("  Tool calls: %d (errors=%d denied=%d timeouts=%d)\n",
				snap.Tool.Total, snap.Tool.Errors, snap.Tool.Denied, snap.Tool.Timeouts)
			fmt.Printf("  Tool latency: avg=%.0fms max=%dms p95~%dms\n",
				snap.Tool.AvgLatencyMs(), snap.Tool.MaxLatencyMs, snap.Tool.P95ProxyLatencyMs)
		}
		if snap.Channel.SendAttempts > 0 {
			fmt.Printf("  Channel sends: %d (failures=%d)\n",
				snap.Channel.SendAttempts, snap.Channel.SendFailures)
		}
		fmt.Printf("  Updated: %s\n", snap.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}
