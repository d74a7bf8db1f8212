// Package main is the entry point for the nownext application.
package main

import (
	"os"

	"github.com/jmylchreest/nownext/cmd/nownext/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
