package main

import (
	"os"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/cli"
)

func main() {
	cmd := cli.NewHelixCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
