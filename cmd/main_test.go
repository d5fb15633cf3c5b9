package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// withTempHome points HOME at a fresh temp dir so config and storage
// land in an isolated ~/.taskdock.
func withTempHome(t *testing.T) {
	t.Helper()
	oldHome := os.Getenv("HOME")
	t.Cleanup(func() { os.Setenv("HOME", oldHome) })
	os.Setenv("HOME", t.TempDir())
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"taskdock", "version"}, &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "taskdock") {
		t.Errorf("output = %q, want it to mention taskdock", stdout.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"taskdock", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	for _, cmd := range []string{"run", "login", "logout", "status"} {
		if !strings.Contains(stdout.String(), cmd) {
			t.Errorf("usage does not mention %q", cmd)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"taskdock", "frobnicate"}, &stdout, &stderr)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Unknown command") {
		t.Errorf("output = %q, want unknown-command message", stdout.String())
	}
}

func TestRunStatus_NotLoggedIn(t *testing.T) {
	withTempHome(t)

	var stdout, stderr bytes.Buffer
	code := runStatus(nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Not logged in") {
		t.Errorf("output = %q, want not-logged-in line", stdout.String())
	}
}

func TestRunLogout_EmptyCache(t *testing.T) {
	withTempHome(t)

	var stdout, stderr bytes.Buffer
	code := runLogout(nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}
}

func TestRunLogin_CachesKey(t *testing.T) {
	withTempHome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"api_key": "K"})
	}))
	defer srv.Close()

	oldStdin := stdin
	defer func() { stdin = oldStdin }()
	stdin = strings.NewReader("user@example.com\nhunter2\n")

	var stdout, stderr bytes.Buffer
	code := runLogin([]string{"--server-url", srv.URL}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "user@example.com") {
		t.Errorf("output = %q, want login confirmation", stdout.String())
	}

	// Status must now show the cached login for the same server.
	stdout.Reset()
	code = runStatus([]string{"--server-url", srv.URL}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("status exit code = %d, want 0 (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Logged in as user@example.com") {
		t.Errorf("status output = %q, want logged-in line", stdout.String())
	}
}

func TestRunLogin_Rejected(t *testing.T) {
	withTempHome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "wrong password"})
	}))
	defer srv.Close()

	oldStdin := stdin
	defer func() { stdin = oldStdin }()
	stdin = strings.NewReader("user@example.com\nnope\n")

	var stdout, stderr bytes.Buffer
	code := runLogin([]string{"--server-url", srv.URL}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "wrong password") {
		t.Errorf("stderr = %q, want the server message", stderr.String())
	}
}
