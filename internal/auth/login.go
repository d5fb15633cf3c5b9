// Package auth implements the one HTTP call of the login flow: exchanging
// an email and password for an api key at the task server.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/todoproxy/dock/internal/errors"
)

// loginPath is the server's login endpoint, relative to the base URL.
const loginPath = "/api/auth/login"

// Client performs login calls against one server.
type Client struct {
	serverURL string
	http      *http.Client
}

// NewClient returns a login client for the given server base URL.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// loginRequest is the wire form of the login call.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Duration int64  `json:"duration"` // requested key lifetime in ms; 0 = server default
}

// loginResponse is the success body.
type loginResponse struct {
	APIKey string `json:"api_key"`
}

// errorResponse is the structured error body the server sends on a
// rejected login. Message may be empty on older servers.
type errorResponse struct {
	Message string `json:"message"`
}

// Login exchanges credentials for an api key. A rejected login (4xx)
// returns an auth.invalid error carrying the server's message; transport
// failures and server errors return auth.unreachable.
func (c *Client) Login(ctx context.Context, email, password string, durationMs int64) (string, error) {
	endpoint, err := url.JoinPath(c.serverURL, loginPath)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthUnreachable, "invalid server url", err)
	}

	body, err := json.Marshal(loginRequest{Email: email, Password: password, Duration: durationMs})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthUnreachable, "encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthUnreachable, "build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthUnreachable, "could not reach the server", err)
	}
	defer resp.Body.Close()

	// Cap the body read; error bodies are small and success bodies tiny.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthUnreachable, "read login response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ok loginResponse
		if err := json.Unmarshal(data, &ok); err != nil || ok.APIKey == "" {
			return "", apperrors.New(apperrors.CodeAuthUnreachable, "server sent a malformed login response")
		}
		return ok.APIKey, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := "login rejected"
		var e errorResponse
		if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
			msg = e.Message
		}
		return "", apperrors.New(apperrors.CodeAuthInvalid, msg)

	default:
		return "", apperrors.New(apperrors.CodeAuthUnreachable,
			fmt.Sprintf("server error during login (HTTP %d)", resp.StatusCode))
	}
}
