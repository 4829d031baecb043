package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/audit"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/spf13/cobra"
)

var (
	validStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	brokenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the action audit log",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain for one day",
		RunE:  runAuditVerify,
	}
	verifyCmd.Flags().String("date", "", "Day to verify (YYYY-MM-DD, default today)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries for one day",
		RunE:  runAuditList,
	}
	listCmd.Flags().String("date", "", "Day to list (YYYY-MM-DD, default today)")

	cmd.AddCommand(verifyCmd, listCmd)
	return cmd
}

func auditDate(cmd *cobra.Command) (string, error) {
	date, _ := cmd.Flags().GetString("date")
	if date == "" {
		return time.Now().UTC().Format(time.DateOnly), nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}
	return date, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	date, err := auditDate(cmd)
	if err != nil {
		return err
	}

	report, err := audit.NewLog(cfg.AuditDir()).Verify(date)
	if err != nil {
		if errors.Is(err, audit.ErrNoAuditFile) {
			fmt.Printf("No audit entries for %s.\n", date)
			return nil
		}
		return err
	}

	if report.Valid {
		fmt.Printf("%s  %s: %d entries, chain intact\n", validStyle.Render("OK"), date, report.Entries)
		return nil
	}
	fmt.Printf("%s  %s: chain broken at entry %d of %d\n",
		brokenStyle.Render("BROKEN"), date, report.FirstBroken, report.Entries)
	return fmt.Errorf("audit chain for %s is broken", date)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	date, err := auditDate(cmd)
	if err != nil {
		return err
	}

	entries, err := audit.NewLog(cfg.AuditDir()).Read(date)
	if err != nil {
		if errors.Is(err, audit.ErrNoAuditFile) {
			fmt.Printf("No audit entries for %s.\n", date)
			return nil
		}
		return err
	}

	for _, e := range entries {
		verdict := approvedStyle.Render("allowed")
		if !e.Approved {
			verdict = deniedStyle.Render("denied ")
		}
		fmt.Printf("%s  %s  %s  %s  %s\n",
			e.Timestamp,
			verdict,
			e.RiskLevel,
			e.Tool,
			e.Action,
		)
	}
	fmt.Printf("%d entries.\n", len(entries))
	return nil
}
