package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "migrate":
		return runMigrate(args[1:])
	case "discover":
		return runDiscover(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "match":
		return runMatch(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "stipend CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  stipend <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  migrate   Connect and apply schema migrations")
	fmt.Fprintln(os.Stderr, "  discover  Run one search-and-extract discovery run")
	fmt.Fprintln(os.Stderr, "  embed     Embed opportunities or user profiles missing vectors")
	fmt.Fprintln(os.Stderr, "  match     Run hybrid matching for one user or all users")
	fmt.Fprintln(os.Stderr, "  serve     Start the API server with the daily scheduler")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"stipend <command> -h\" for command-specific flags.")
}
