// Package main provides the entry point for the tessera CLI.
package main

import (
	"os"

	"github.com/tessera-kg/tessera/cmd/tessera/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
