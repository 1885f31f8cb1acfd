// Command shortener runs the URL shortener HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/patric-chuzhbe/tokenshrt/internal/app"
)

var (
	buildVersion = "N/A"
	buildDate    = "N/A"
	buildCommit  = "N/A"
)

func run() error {
	theApp, err := app.New()
	if err != nil {
		return fmt.Errorf("startup error: %w", err)
	}
	defer theApp.Close()

	return theApp.Run()
}

func main() {
	fmt.Printf("Build version: %s\nBuild date: %s\nBuild commit: %s\n", buildVersion, buildDate, buildCommit)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
