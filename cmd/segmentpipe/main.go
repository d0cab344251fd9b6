// Package main is the entry point for the segmentpipe application.
package main

import (
	"os"

	"github.com/segmentpipe/segmentpipe/cmd/segmentpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
