package main

import (
	"context"
	"os"

	"github.com/masoud-msk/dev-stack/internal/cli"
)

// Main is the entry point for the application
// It's exported to make it testable
func Main(args []string) int {
	return cli.Execute(context.Background(), args, os.Stdout, os.Stderr)
}

func main() {
	os.Exit(Main(os.Args[1:]))
}
