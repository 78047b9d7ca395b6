// Package main is the entry point for the wirefeed CLI.
package main

import (
	"os"

	"github.com/jmylchreest/wirefeed/cmd/wirefeed/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
