package main

import (
	"fmt"
	"os"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/cmd/geofrey/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
