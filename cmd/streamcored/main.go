// Package main is the entry point for the streamcored server.
package main

import (
	"os"

	"github.com/duskcast/streamcore/cmd/streamcored/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
