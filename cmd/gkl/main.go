package main

import (
	"fmt"
	"os"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/cli"
)

var buildVersion = "dev"

func main() {
	if err := cli.NewRootCommand(buildVersion).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
