package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/todoproxy/dock/internal/auth"
	apperrors "github.com/todoproxy/dock/internal/errors"
	"github.com/todoproxy/dock/internal/storage"
)

// stdin is swappable for tests.
var stdin io.Reader = os.Stdin

func runLogin(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
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

	reader := bufio.NewReader(stdin)
	fmt.Fprint(stdout, "Email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(stderr, "Error: read email: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, "Password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(stderr, "Error: read password: %v\n", err)
		return 1
	}
	email = strings.TrimSpace(email)
	password = strings.TrimRight(password, "\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := auth.NewClient(cfg.ServerURL).Login(ctx, email, password, cfg.LoginDurationMs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", apperrors.Display(err))
		return 1
	}

	store, err := openDefaultStore()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.SaveCredentials(storage.Credentials{
		ServerURL: cfg.ServerURL,
		Email:     email,
		APIKey:    key,
		SavedAt:   time.Now(),
	}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Logged in to %s as %s\n", cfg.ServerURL, email)
	return 0
}
