package main

import (
	"fmt"
	"os"

	"github.com/hnrobert/addy/internal/cli"
)

const version = "0.3.0"

func main() {
	args := os.Args[1:]

	verbose := false
	filtered := args[:0:0]
	for _, a := range args {
		if a == "-v" || a == "--verbose" {
			verbose = true
			continue
		}
		filtered = append(filtered, a)
	}

	app := newApp(cli.NewLogger(verbose))
	if err := app.root().Execute(filtered); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
