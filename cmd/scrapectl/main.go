// Package main is the entry point for the scrapectl CLI.
// The CLI is the operator tool for requesting, approving and watching
// scraper jobs through the scraperd API.
package main

import (
	"os"

	"scraperd/cmd/scrapectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
