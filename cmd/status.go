package main

import (
	"flag"
	"fmt"
	"io"
	"time"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	serverURL := fs.String("server-url", "", "Task server URL (overrides config)")
	configPath := fs.String("config", "", "Path to config file")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *serverURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Server: %s\n", cfg.ServerURL)
	fmt.Fprintf(stdout, "Auto-reconnect: %t\n", cfg.AutoReconnect)
	fmt.Fprintf(stdout, "Credential cache: %t\n", cfg.Cache)

	if !cfg.Cache {
		return 0
	}

	store, err := openDefaultStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	creds, err := store.LoadCachedCredentials(cfg.ServerURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if creds == nil {
		fmt.Fprintln(stdout, "Not logged in")
		return 0
	}

	fmt.Fprintf(stdout, "Logged in as %s (since %s)\n", creds.Email, creds.SavedAt.Format(time.RFC3339))
	return 0
}
