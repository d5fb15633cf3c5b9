package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/todoproxy/dock/internal/api"
	"github.com/todoproxy/dock/internal/command"
	apperrors "github.com/todoproxy/dock/internal/errors"
	"github.com/todoproxy/dock/internal/ws"
)

// recvFrame is one scripted ReceiveNext result.
type recvFrame struct {
	data []byte
	err  error
}

// fakeTransport is a scriptable Transport. Frames pushed to recv are
// returned from ReceiveNext in order; sent frames are captured. Send
// tracks how many calls overlap so tests can assert serialization.
type fakeTransport struct {
	recv chan recvFrame
	sent chan []byte

	sendDelay   time.Duration
	inFlight    int32
	maxInFlight int32

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recv:   make(chan recvFrame, 16),
		sent:   make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReceiveNext() ([]byte, error) {
	select {
	case f := <-t.recv:
		return f.data, f.err
	case <-t.closed:
		return nil, apperrors.New(apperrors.CodeConnClosed, "transport closed")
	}
}

func (t *fakeTransport) Send(payload []byte) error {
	n := atomic.AddInt32(&t.inFlight, 1)
	for {
		m := atomic.LoadInt32(&t.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&t.maxInFlight, m, n) {
			break
		}
	}
	if t.sendDelay > 0 {
		time.Sleep(t.sendDelay)
	}

	var err error
	select {
	case t.sent <- append([]byte(nil), payload...):
	case <-t.closed:
		err = apperrors.New(apperrors.CodeConnSendFailed, "transport closed")
	}
	atomic.AddInt32(&t.inFlight, -1)
	return err
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// fakeAuth returns a fixed result for every login.
type fakeAuth struct {
	key string
	err error
}

func (a *fakeAuth) Login(ctx context.Context, email, password string, durationMs int64) (string, error) {
	return a.key, a.err
}

// fakeStore is an in-memory CredentialStore.
type fakeStore struct {
	mu      sync.Mutex
	email   string
	key     string
	ok      bool
	deletes int
}

func (f *fakeStore) Load() (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email, f.key, f.ok, nil
}

func (f *fakeStore) Save(email, apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email = email
	f.key = apiKey
	f.ok = true
	return nil
}

func (f *fakeStore) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email = ""
	f.key = ""
	f.ok = false
	f.deletes++
	return nil
}

func (f *fakeStore) cached() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, f.ok
}

// dialTo returns a DialFunc that hands out the given transports in
// order and records the api keys it was called with.
func dialTo(keys *[]string, mu *sync.Mutex, transports ...*fakeTransport) DialFunc {
	i := 0
	return func(ctx context.Context, serverURL, apiKey string) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if keys != nil {
			*keys = append(*keys, apiKey)
		}
		if i >= len(transports) {
			return nil, apperrors.New(apperrors.CodeConnDialFailed, "no more transports")
		}
		tr := transports[i]
		i++
		return tr, nil
	}
}

// startSession runs the session and cleans it up with the test.
func startSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
}

// waitFor consumes updates until pred accepts one, or fails the test.
func waitFor(t *testing.T, s *Session, desc string, pred func(State) bool) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-s.Updates():
			if pred(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
		}
	}
}

func isConnected(st State) bool {
	_, ok := st.(Connected)
	return ok
}

// TestSession_FullScenario walks the whole lifecycle: log in, connect,
// apply a remote insert, then get cut off as unauthorized.
func TestSession_FullScenario(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{key: "K"}, store, dialTo(nil, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "NotLoggedIn", func(st State) bool {
		_, ok := st.(NotLoggedIn)
		return ok
	})

	s.SubmitLogin("user@example.com", "pw")
	waitFor(t, s, "Connected", isConnected)

	if key, ok := store.cached(); !ok || key != "K" {
		t.Errorf("cached key = %q, %v; want K cached", key, ok)
	}

	tr.recv <- recvFrame{data: []byte(`{"kind":{"InsLiveTask":{"id":"1","value":"buy milk"}}}`)}
	st := waitFor(t, s, "snapshot with one task", func(st State) bool {
		c, ok := st.(Connected)
		return ok && len(c.Snapshot.Live) == 1
	})
	live := st.(Connected).Snapshot.Live
	if live[0].ID != "1" || live[0].Value != "buy milk" {
		t.Errorf("live = %+v, want [{1 buy milk}]", live)
	}

	tr.recv <- recvFrame{err: ws.ErrUnauthorized}
	waitFor(t, s, "NotLoggedIn after unauthorized close", func(st State) bool {
		n, ok := st.(NotLoggedIn)
		return ok && n.Err != ""
	})

	if _, ok := store.cached(); ok {
		t.Error("credentials still cached after unauthorized close")
	}
	if !tr.isClosed() {
		t.Error("transport not closed after unauthorized close")
	}
}

func TestSession_LoginFailureStaysNotLoggedIn(t *testing.T) {
	store := &fakeStore{}
	var mu sync.Mutex
	auth := &fakeAuth{err: apperrors.New(apperrors.CodeAuthInvalid, "wrong password")}
	s := New(Config{ServerURL: "http://srv"}, auth, store, dialTo(nil, &mu))
	startSession(t, s)

	s.SubmitLogin("user@example.com", "nope")
	st := waitFor(t, s, "NotLoggedIn with error", func(st State) bool {
		n, ok := st.(NotLoggedIn)
		return ok && n.Err != ""
	})
	if got := st.(NotLoggedIn).Err; got != "wrong password" {
		t.Errorf("Err = %q, want %q", got, "wrong password")
	}
	if _, ok := store.cached(); ok {
		t.Error("credentials cached after failed login")
	}
}

func TestSession_RestoredCredentialsConnectOnStart(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{email: "user@example.com", key: "K", ok: true}
	var keys []string
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(&keys, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 1 || keys[0] != "K" {
		t.Errorf("dial keys = %v, want [K]", keys)
	}
}

func TestSession_TransientLossKeepsCredentials(t *testing.T) {
	tr1 := newFakeTransport()
	tr2 := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu, tr1, tr2))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)

	tr1.recv <- recvFrame{err: apperrors.New(apperrors.CodeConnLost, "lost connection")}
	st := waitFor(t, s, "NotConnected", func(st State) bool {
		n, ok := st.(NotConnected)
		return ok && !n.Connecting
	})
	if got := st.(NotConnected).Err; got != "lost connection" {
		t.Errorf("Err = %q, want %q", got, "lost connection")
	}
	if _, ok := store.cached(); !ok {
		t.Error("credentials cleared by a transient loss")
	}

	// Manual retry succeeds on the second transport.
	s.Connect()
	waitFor(t, s, "Connected again", isConnected)
}

func TestSession_DecodeFailureIsConnectionLoss(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)
	tr.recv <- recvFrame{data: []byte(`not json`)}

	waitFor(t, s, "NotConnected after malformed op", func(st State) bool {
		_, ok := st.(NotConnected)
		return ok
	})
	if _, ok := store.cached(); !ok {
		t.Error("credentials cleared by a decode failure")
	}
	if !tr.isClosed() {
		t.Error("transport not closed after decode failure")
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu))
	startSession(t, s)

	st := waitFor(t, s, "NotConnected after dial failure", func(st State) bool {
		n, ok := st.(NotConnected)
		return ok && !n.Connecting
	})
	if st.(NotConnected).Err == "" {
		t.Error("NotConnected.Err empty after dial failure")
	}
}

// TestSession_StaleConnectResultDiscarded logs out while a dial is in
// flight; the late connection must be closed and the state untouched.
func TestSession_StaleConnectResultDiscarded(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	release := make(chan struct{})
	dial := func(ctx context.Context, serverURL, apiKey string) (Transport, error) {
		<-release
		return tr, nil
	}
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dial)
	startSession(t, s)

	waitFor(t, s, "Restored", func(st State) bool {
		_, ok := st.(Restored)
		return ok
	})

	s.Logout()
	waitFor(t, s, "NotLoggedIn", func(st State) bool {
		_, ok := st.(NotLoggedIn)
		return ok
	})

	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for !tr.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("stale transport never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-s.Updates(); !ok {
		t.Fatal("updates channel closed")
	}
}

func TestSession_AutoReconnect(t *testing.T) {
	tr1 := newFakeTransport()
	tr2 := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	cfg := Config{ServerURL: "http://srv", AutoReconnect: true}
	s := New(cfg, &fakeAuth{}, store, dialTo(nil, &mu, tr1, tr2))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)
	tr1.recv <- recvFrame{err: apperrors.New(apperrors.CodeConnLost, "lost connection")}

	// No manual Connect: the backoff timer drives the retry.
	waitFor(t, s, "Connected again via auto reconnect", isConnected)
}

// TestSession_ConcurrentSubmitsSerializeSends issues N submits from N
// goroutines and asserts the transport saw N sends, one at a time.
func TestSession_ConcurrentSubmitsSerializeSends(t *testing.T) {
	const n = 24

	tr := newFakeTransport()
	tr.sendDelay = time.Millisecond
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Dispatch(command.NewTask{Text: fmt.Sprintf("task %d", i)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		select {
		case data := <-tr.sent:
			if _, err := api.DecodeOp(data); err != nil {
				t.Errorf("sent frame %d is not a valid op: %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("transport saw %d of %d sends", i, n)
		}
	}

	if m := atomic.LoadInt32(&tr.maxInFlight); m != 1 {
		t.Errorf("max concurrent sends = %d, want 1", m)
	}
}

// TestSession_EditFlow drives an edit through the session and checks
// the committed op reaches the transport.
func TestSession_EditFlow(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)

	tr.recv <- recvFrame{data: []byte(`{"kind":{"OverwriteState":{"live":[{"id":"a","value":"old"}],"finished":[]}}}`)}
	waitFor(t, s, "snapshot loaded", func(st State) bool {
		c, ok := st.(Connected)
		return ok && len(c.Snapshot.Live) == 1
	})

	s.BeginEdit(0)
	s.UpdateEditText("new")
	s.EndEdit()

	select {
	case data := <-tr.sent:
		op, err := api.DecodeOp(data)
		if err != nil {
			t.Fatalf("sent frame is not a valid op: %v", err)
		}
		edit := op.Kind.EditLiveTask
		if edit == nil || edit.ID != "a" || edit.Value != "new" {
			t.Errorf("sent op = %s %+v, want EditLiveTask{a new}", op.Kind.Name(), op.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("committed edit never reached the transport")
	}
}

// TestSession_LogoutClearsEverything checks logout from Connected.
func TestSession_LogoutClearsEverything(t *testing.T) {
	tr := newFakeTransport()
	store := &fakeStore{key: "K", ok: true}
	var mu sync.Mutex
	s := New(Config{ServerURL: "http://srv"}, &fakeAuth{}, store, dialTo(nil, &mu, tr))
	startSession(t, s)

	waitFor(t, s, "Connected", isConnected)

	s.Logout()
	waitFor(t, s, "NotLoggedIn", func(st State) bool {
		n, ok := st.(NotLoggedIn)
		return ok && n.Err == ""
	})

	if _, ok := store.cached(); ok {
		t.Error("credentials still cached after logout")
	}
	if !tr.isClosed() {
		t.Error("transport not closed after logout")
	}
}
