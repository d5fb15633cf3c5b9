package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Credentials is the cached login: the api key and the server it was
// issued for. A key from one server is never presented to another.
type Credentials struct {
	ServerURL string    // Server the key was issued for.
	Email     string    // Account email, kept for the status display.
	APIKey    string    // The api key itself.
	SavedAt   time.Time // When the credentials were cached.
}

// SaveCredentials stores the credentials, replacing any previous row.
func (s *SQLiteStore) SaveCredentials(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO credentials (id, server_url, email, api_key, saved_at)
		 VALUES (1, ?, ?, ?, ?)`,
		c.ServerURL,
		c.Email,
		c.APIKey,
		c.SavedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	log.Printf("storage: cached credentials for %s", c.ServerURL)
	return nil
}

// LoadCachedCredentials returns the cached credentials for the given
// server URL, or nil if nothing is cached. A cache entry for a different
// server URL is stale: it is deleted and nil is returned, so a server
// switch always forces a fresh login.
func (s *SQLiteStore) LoadCachedCredentials(serverURL string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Credentials
	var savedAt string
	err := s.db.QueryRow(
		"SELECT server_url, email, api_key, saved_at FROM credentials WHERE id = 1",
	).Scan(&c.ServerURL, &c.Email, &c.APIKey, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	if c.ServerURL != serverURL {
		log.Printf("storage: cached credentials are for %s, not %s; invalidating", c.ServerURL, serverURL)
		if _, err := s.db.Exec("DELETE FROM credentials WHERE id = 1"); err != nil {
			return nil, fmt.Errorf("invalidate stale credentials: %w", err)
		}
		return nil, nil
	}

	// A corrupt timestamp is not worth failing a login over.
	if t, err := time.Parse(time.RFC3339, savedAt); err == nil {
		c.SavedAt = t
	}

	return &c, nil
}

// DeleteCredentials removes the cached credentials. Deleting an empty
// cache is not an error.
func (s *SQLiteStore) DeleteCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM credentials WHERE id = 1"); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}

	log.Printf("storage: cleared cached credentials")
	return nil
}
