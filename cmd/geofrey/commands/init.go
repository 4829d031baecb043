package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Geofrey configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()

	dirs := []string{
		config.ConfigDir(),
		cfg.WorkspacePath(),
		filepath.Join(cfg.WorkspacePath(), "state"),
		cfg.AuditDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	workspaceFiles := map[string]string{
		"IDENTITY.md": "# Identity\n\nYou are Geofrey, a personal automation assistant.",
		"USER.md":     "# User\n\nInformation about the user goes here.",
	}

	for name, content := range workspaceFiles {
		path := filepath.Join(cfg.WorkspacePath(), name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			_ = os.WriteFile(path, []byte(content), 0644)
		}
	}

	fmt.Printf("Geofrey initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Workspace: %s\n", cfg.WorkspacePath())
	fmt.Printf("Audit log: %s\n", cfg.AuditDir())
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add a provider API key to the config")
	fmt.Println("  2. Run 'geofrey chat' to talk to Geofrey")
	fmt.Println("  3. Run 'geofrey run' to start the server")
	return nil
}
