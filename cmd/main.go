package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `taskdock - docked client for a shared, server-ordered task list

Usage:
  taskdock <command> [options]

Commands:
  run       Run the dock (default when no command is given)
  login     Log in and cache an api key
  logout    Clear the cached credentials
  status    Show configuration and cached credential state

Run 'taskdock <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runRun(nil, stdout, stderr)
	}

	switch args[1] {
	case "run":
		return runRun(args[2:], stdout, stderr)
	case "login":
		return runLogin(args[2:], stdout, stderr)
	case "logout":
		return runLogout(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "taskdock %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
