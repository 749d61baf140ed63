// Package main is the entry point for the agentd CLI.
package main

import (
	"os"

	"github.com/stackboard/agentd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
