package commands

import (
	"fmt"
	"runtime"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of Geofrey",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geofrey %s %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
