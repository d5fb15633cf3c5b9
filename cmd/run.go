package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/todoproxy/dock/cmd/ui"
	"github.com/todoproxy/dock/internal/auth"
	"github.com/todoproxy/dock/internal/client"
	"github.com/todoproxy/dock/internal/config"
	"github.com/todoproxy/dock/internal/storage"
	"github.com/todoproxy/dock/internal/wmhints"
	"github.com/todoproxy/dock/internal/ws"
)

func runRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	serverURL := fs.String("server-url", "", "Task server URL (overrides config)")
	configPath := fs.String("config", "", "Path to config file")
	nocache := fs.Bool("nocache", false, "Do not load or store credentials")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *serverURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// The terminal belongs to the dock; logs go to a file or nowhere.
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	} else {
		log.SetOutput(io.Discard)
	}

	var creds client.CredentialStore = noCredentials{}
	if cfg.Cache && !*nocache {
		store, err := openDefaultStore()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
		creds = credStore{store: store, serverURL: cfg.ServerURL}
	}

	sess := client.New(
		client.Config{
			ServerURL:       cfg.ServerURL,
			LoginDurationMs: cfg.LoginDurationMs,
			AutoReconnect:   cfg.AutoReconnect,
		},
		auth.NewClient(cfg.ServerURL),
		creds,
		dialWS,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if err := ui.Run(sess, wmhints.Logging{}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// dialWS adapts ws.Dial to the session's DialFunc.
func dialWS(ctx context.Context, serverURL, apiKey string) (client.Transport, error) {
	return ws.Dial(ctx, serverURL, apiKey)
}

// loadConfig resolves the effective config: file values, then the
// --server-url override, then defaults for anything still unset.
func loadConfig(path, serverURLOverride string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg, err = config.LoadOrCreate()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}

	if serverURLOverride != "" {
		cfg.ServerURL = serverURLOverride
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = config.DefaultServerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDefaultStore() (*storage.SQLiteStore, error) {
	path, err := storage.DefaultStorePath()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStore(path)
}

// credStore adapts the SQLite credential cache to the session's
// CredentialStore, binding it to one server URL.
type credStore struct {
	store     *storage.SQLiteStore
	serverURL string
}

func (c credStore) Load() (string, string, bool, error) {
	cached, err := c.store.LoadCachedCredentials(c.serverURL)
	if err != nil || cached == nil {
		return "", "", false, err
	}
	return cached.Email, cached.APIKey, true, nil
}

func (c credStore) Save(email, apiKey string) error {
	return c.store.SaveCredentials(storage.Credentials{
		ServerURL: c.serverURL,
		Email:     email,
		APIKey:    apiKey,
		SavedAt:   time.Now(),
	})
}

func (c credStore) Delete() error {
	return c.store.DeleteCredentials()
}

// noCredentials is the --nocache store: nothing is loaded or kept.
type noCredentials struct{}

func (noCredentials) Load() (string, string, bool, error) { return "", "", false, nil }
func (noCredentials) Save(email, apiKey string) error     { return nil }
func (noCredentials) Delete() error                       { return nil }
