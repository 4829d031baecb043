package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/spf13/cobra"
)

var (
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	approvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	deniedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage pending tool approvals",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE:  runApprovalList,
	}
	listCmd.Flags().Bool("all", false, "Include resolved approvals")

	cmd.AddCommand(
		listCmd,
		&cobra.Command{
			Use:   "approve <nonce>",
			Short: "Approve a pending tool call",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return resolveApproval(args[0], true)
			},
		},
		&cobra.Command{
			Use:   "deny <nonce>",
			Short: "Deny a pending tool call",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return resolveApproval(args[0], false)
			},
		},
	)

	return cmd
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	all, _ := cmd.Flags().GetBool("all")
	outcome := approval.OutcomePending
	if all {
		outcome = ""
	}

	records, err := approval.NewStore(workspacePath).List(outcome)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No approvals found.")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %s  %s  %s\n",
			styleOutcome(rec.Outcome),
			rec.Nonce,
			rec.RiskLevel,
			rec.ToolName,
		)
		if args := strings.TrimSpace(rec.ArgsJSON); args != "" && args != "{}" {
			fmt.Printf("    args:   %s\n", args)
		}
		if rec.Reason != "" {
			fmt.Printf("    reason: %s\n", rec.Reason)
		}
		fmt.Printf("    at:     %s\n", rec.RequestedAt.Format(time.RFC3339))
	}
	return nil
}

func styleOutcome(outcome approval.Outcome) string {
	switch outcome {
	case approval.OutcomeApproved:
		return approvedStyle.Render("approved")
	case approval.OutcomeDenied:
		return deniedStyle.Render("denied  ")
	default:
		return pendingStyle.Render("pending ")
	}
}

// resolveApproval talks to the running server; the in-memory future
// lives there, not in this process.
func resolveApproval(nonce string, approved bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	body, _ := json.Marshal(map[string]bool{"approved": approved})
	url := fmt.Sprintf("http://%s:%d/approvals/%s", cfg.Gateway.Host, cfg.Gateway.Port, strings.TrimSpace(nonce))

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(cfg.Gateway.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("approval %s not found or already resolved", nonce)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if approved {
		fmt.Printf("Approval %s approved.\n", nonce)
	} else {
		fmt.Printf("Approval %s denied.\n", nonce)
	}
	return nil
}
