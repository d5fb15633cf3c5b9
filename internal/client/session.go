// Package client implements the dock's session lifecycle: logging in,
// holding a live WebSocket session against the task server, and folding
// the server-ordered operation stream into the reconciliation core.
//
// The session is a closed state machine (NotLoggedIn, Restored,
// NotConnected, Connected) driven by a single event-loop goroutine.
// Every user intent and every async completion (login call, dial,
// receive, send) arrives as an event on one channel, so state is never
// touched from two goroutines. Async completions carry the connection
// generation they belong to; results from a connection the session has
// already abandoned are discarded on arrival.
package client

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/todoproxy/dock/internal/api"
	"github.com/todoproxy/dock/internal/command"
	apperrors "github.com/todoproxy/dock/internal/errors"
	"github.com/todoproxy/dock/internal/reconcile"
	"github.com/todoproxy/dock/internal/ws"
)

// Transport is the connected conversation with the server. Implemented
// by *ws.Conn; faked in tests.
type Transport interface {
	Send(payload []byte) error
	ReceiveNext() ([]byte, error)
	Close() error
}

// DialFunc establishes a Transport. Implemented by ws.Dial.
type DialFunc func(ctx context.Context, serverURL, apiKey string) (Transport, error)

// Authenticator performs the login call. Implemented by *auth.Client.
type Authenticator interface {
	Login(ctx context.Context, email, password string, durationMs int64) (string, error)
}

// CredentialStore persists the api key between runs. Implemented by an
// adapter over *storage.SQLiteStore; a no-op store disables caching.
type CredentialStore interface {
	Load() (email, apiKey string, ok bool, err error)
	Save(email, apiKey string) error
	Delete() error
}

// Config carries the session's tunables.
type Config struct {
	ServerURL       string
	LoginDurationMs int64
	AutoReconnect   bool
}

// State is an immutable view of the session, published on the updates
// channel after every processed event. The four implementations below
// are the complete set.
type State interface {
	isState()
}

// NotLoggedIn means no usable credentials exist. Err holds the display
// message from the last failed login or unauthorized close, if any.
type NotLoggedIn struct {
	Err       string
	LoggingIn bool
}

// Restored means cached credentials were loaded and the first connection
// attempt is in flight.
type Restored struct{}

// NotConnected means credentials exist but there is no live connection.
type NotConnected struct {
	Err        string
	Connecting bool
}

// Connected is the live session view: the current snapshot plus the
// in-progress edit, if one exists.
type Connected struct {
	Snapshot api.StateSnapshot
	EditID   string
	EditText string
	Editing  bool
}

func (NotLoggedIn) isState()  {}
func (Restored) isState()     {}
func (NotConnected) isState() {}
func (Connected) isState()    {}

// Internal events. Completions carry the generation of the connection
// attempt they belong to.
type event interface{}

type evSubmitLogin struct{ email, password string }
type evLoginResult struct {
	email  string
	apiKey string
	err    error
}
type evConnect struct{}
type evConnectResult struct {
	gen       int
	transport Transport
	err       error
}
type evRecv struct {
	gen  int
	data []byte
	err  error
}
type evSendFailed struct {
	gen int
	err error
}
type evDispatch struct{ intent command.Intent }
type evBeginEdit struct{ pos int }
type evUpdateEdit struct{ text string }
type evEndEdit struct{}
type evCancelEdit struct{}
type evLogout struct{}

// phase is the internal variant tag.
type phase int

const (
	phaseNotLoggedIn phase = iota
	phaseRestored
	phaseNotConnected
	phaseConnected
)

// Session is the state machine. All fields below events are owned by
// the Run goroutine.
type Session struct {
	cfg   Config
	auth  Authenticator
	creds CredentialStore
	dial  DialFunc

	events  chan event
	updates chan State

	phase      phase
	apiKey     string
	lastErr    string
	loggingIn  bool
	connecting bool

	gen       int
	transport Transport
	core      *reconcile.Core
	sendQueue chan []byte

	retry *backoff.ExponentialBackOff
}

// New builds a session. Cached credentials are loaded immediately: if
// present the session starts in Restored and connects as soon as Run
// starts, otherwise it starts in NotLoggedIn.
func New(cfg Config, auth Authenticator, creds CredentialStore, dial DialFunc) *Session {
	s := &Session{
		cfg:     cfg,
		auth:    auth,
		creds:   creds,
		dial:    dial,
		events:  make(chan event, 64),
		updates: make(chan State, 1),
		phase:   phaseNotLoggedIn,
		retry:   backoff.NewExponentialBackOff(),
	}
	s.retry.MaxElapsedTime = 0 // retry until told to stop

	_, apiKey, ok, err := creds.Load()
	if err != nil {
		log.Printf("client: credential cache unreadable: %v", err)
	}
	if ok {
		s.phase = phaseRestored
		s.apiKey = apiKey
	}
	return s
}

// Updates returns the channel of state views. The channel holds only
// the latest view; slow consumers see the newest state, not every
// intermediate one.
func (s *Session) Updates() <-chan State {
	return s.updates
}

// SubmitLogin posts a login attempt with the given credentials.
func (s *Session) SubmitLogin(email, password string) {
	s.events <- evSubmitLogin{email: email, password: password}
}

// Connect requests a (re)connection attempt.
func (s *Session) Connect() {
	s.events <- evConnect{}
}

// Logout drops the connection, clears cached credentials, and returns
// to NotLoggedIn.
func (s *Session) Logout() {
	s.events <- evLogout{}
}

// Dispatch submits a parsed command. Ignored unless Connected.
func (s *Session) Dispatch(in command.Intent) {
	s.events <- evDispatch{intent: in}
}

// BeginEdit starts editing the live task at the given position.
func (s *Session) BeginEdit(pos int) {
	s.events <- evBeginEdit{pos: pos}
}

// UpdateEditText replaces the active edit buffer.
func (s *Session) UpdateEditText(text string) {
	s.events <- evUpdateEdit{text: text}
}

// EndEdit commits the active edit.
func (s *Session) EndEdit() {
	s.events <- evEndEdit{}
}

// CancelEdit discards the active edit.
func (s *Session) CancelEdit() {
	s.events <- evCancelEdit{}
}

// Run drives the event loop until ctx is canceled. It must be called
// exactly once.
func (s *Session) Run(ctx context.Context) {
	if s.phase == phaseRestored {
		s.startConnect(ctx)
	}
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.dropConnection()
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
			s.publish()
		}
	}
}

// handle is the single transition function. Events that don't apply to
// the current phase, or whose generation is stale, are dropped.
func (s *Session) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case evSubmitLogin:
		if s.phase != phaseNotLoggedIn || s.loggingIn {
			return
		}
		s.loggingIn = true
		s.lastErr = ""
		go func() {
			key, err := s.auth.Login(ctx, ev.email, ev.password, s.cfg.LoginDurationMs)
			s.events <- evLoginResult{email: ev.email, apiKey: key, err: err}
		}()

	case evLoginResult:
		if s.phase != phaseNotLoggedIn {
			return
		}
		s.loggingIn = false
		if ev.err != nil {
			log.Printf("client: login failed: %v", ev.err)
			s.lastErr = apperrors.Display(ev.err)
			return
		}
		if err := s.creds.Save(ev.email, ev.apiKey); err != nil {
			log.Printf("client: could not cache credentials: %v", err)
		}
		s.apiKey = ev.apiKey
		s.lastErr = ""
		s.phase = phaseNotConnected
		s.startConnect(ctx)

	case evConnect:
		if s.phase != phaseNotConnected && s.phase != phaseRestored {
			return
		}
		if s.connecting {
			return
		}
		s.startConnect(ctx)

	case evConnectResult:
		if ev.gen != s.gen || !s.connecting {
			s.discardTransport(ev.transport)
			return
		}
		s.connecting = false
		if ev.err != nil {
			log.Printf("client: connect failed: %v", ev.err)
			s.phase = phaseNotConnected
			s.lastErr = apperrors.Display(ev.err)
			s.scheduleRetry()
			return
		}
		log.Printf("client: connected to %s", s.cfg.ServerURL)
		s.phase = phaseConnected
		s.lastErr = ""
		s.transport = ev.transport
		s.core = reconcile.New()
		s.retry.Reset()
		s.startPumps(ev.gen, ev.transport)

	case evRecv:
		if s.phase != phaseConnected || ev.gen != s.gen {
			return
		}
		if ev.err != nil {
			s.handleConnectionEnd(ev.err)
			return
		}
		op, err := api.DecodeOp(ev.data)
		if err != nil {
			// A server speaking a protocol we can't parse is as good as
			// a dead connection.
			log.Printf("client: malformed remote op: %v", err)
			s.handleConnectionEnd(apperrors.Wrap(apperrors.CodeOpDecodeFailed, "server sent a malformed operation", err))
			return
		}
		s.core.ApplyRemote(op.Kind)

	case evSendFailed:
		if s.phase != phaseConnected || ev.gen != s.gen {
			return
		}
		log.Printf("client: send failed: %v", ev.err)
		s.handleConnectionEnd(ev.err)

	case evDispatch:
		if s.phase != phaseConnected {
			return
		}
		s.sendOps(s.mapIntent(ev.intent))

	case evBeginEdit:
		if s.phase != phaseConnected {
			return
		}
		s.sendOps(s.core.BeginEdit(ev.pos))

	case evUpdateEdit:
		if s.phase != phaseConnected {
			return
		}
		s.core.UpdateEditText(ev.text)

	case evEndEdit:
		if s.phase != phaseConnected {
			return
		}
		s.sendOps(s.core.EndEdit())

	case evCancelEdit:
		if s.phase != phaseConnected {
			return
		}
		s.core.CancelEdit()

	case evLogout:
		s.dropConnection()
		if err := s.creds.Delete(); err != nil {
			log.Printf("client: could not clear credential cache: %v", err)
		}
		s.phase = phaseNotLoggedIn
		s.apiKey = ""
		s.lastErr = ""
	}
}

// mapIntent turns a parsed command into ops. View-only intents
// (ToggleFinished, Collapse) never reach the session; they are handled
// by the UI and arrive here only as a defensive no-op.
func (s *Session) mapIntent(in command.Intent) []api.Op {
	switch in := in.(type) {
	case command.FinishFront:
		return s.core.FinishFront(in.Status)
	case command.RestoreRecent:
		return s.core.RestoreRecent()
	case command.Move:
		return s.core.MoveByPos(in.From, in.To)
	case command.Reverse:
		return s.core.ReverseByPos(in.I, in.J)
	case command.ToBack:
		return s.core.MoveToBack(in.Pos)
	case command.NewTask:
		return s.core.SubmitNew(in.Text)
	}
	return nil
}

// sendOps encodes and queues ops for the connection's sender goroutine.
// The queue keeps sends strictly serialized: one goroutine drains it and
// calls Transport.Send one frame at a time.
func (s *Session) sendOps(ops []api.Op) {
	for _, op := range ops {
		data, err := api.EncodeOp(op)
		if err != nil {
			log.Printf("client: dropping unencodable op %s: %v", op.Kind.Name(), err)
			continue
		}
		s.sendQueue <- data
	}
}

// startConnect kicks off a dial for a fresh generation.
func (s *Session) startConnect(ctx context.Context) {
	s.gen++
	s.connecting = true
	gen := s.gen
	key := s.apiKey
	go func() {
		tr, err := s.dial(ctx, s.cfg.ServerURL, key)
		s.events <- evConnectResult{gen: gen, transport: tr, err: err}
	}()
}

// startPumps launches the per-connection receive loop and sender.
// The receive loop re-arms only after the previous message has been
// handed to the event loop, preserving apply order.
func (s *Session) startPumps(gen int, tr Transport) {
	s.sendQueue = make(chan []byte, 64)

	go func(q chan []byte) {
		for payload := range q {
			if err := tr.Send(payload); err != nil {
				s.events <- evSendFailed{gen: gen, err: err}
				return
			}
		}
	}(s.sendQueue)

	go func() {
		for {
			data, err := tr.ReceiveNext()
			s.events <- evRecv{gen: gen, data: data, err: err}
			if err != nil {
				return
			}
		}
	}()
}

// handleConnectionEnd classifies the terminal error of a connection.
// An unauthorized close invalidates the credentials entirely; anything
// else is a transient loss that keeps the key.
func (s *Session) handleConnectionEnd(err error) {
	s.dropConnection()

	if errors.Is(err, ws.ErrUnauthorized) {
		log.Printf("client: server rejected our credentials")
		if derr := s.creds.Delete(); derr != nil {
			log.Printf("client: could not clear credential cache: %v", derr)
		}
		s.phase = phaseNotLoggedIn
		s.apiKey = ""
		s.lastErr = "your session is no longer valid, please log in again"
		return
	}

	log.Printf("client: connection lost: %v", err)
	s.phase = phaseNotConnected
	s.lastErr = apperrors.Display(err)
	s.scheduleRetry()
}

// dropConnection tears down the transport and pumps, if any. The
// snapshot and active edit go with them: after a reconnect the state is
// empty until the server's OverwriteState arrives.
func (s *Session) dropConnection() {
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	if s.sendQueue != nil {
		close(s.sendQueue)
		s.sendQueue = nil
	}
	s.core = nil
	s.connecting = false
}

// discardTransport closes a transport that arrived for a stale
// generation.
func (s *Session) discardTransport(tr Transport) {
	if tr != nil {
		log.Printf("client: discarding stale connection")
		tr.Close()
	}
}

// scheduleRetry arms an automatic reconnect when enabled. The timer
// posts a plain connect event; if the session has moved on (logged out,
// already connected) the event is ignored by the phase checks.
func (s *Session) scheduleRetry() {
	if !s.cfg.AutoReconnect {
		return
	}
	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	log.Printf("client: reconnecting in %s", delay.Round(time.Millisecond))
	time.AfterFunc(delay, func() {
		s.events <- evConnect{}
	})
}

// publish pushes the current view, replacing an unconsumed older one.
func (s *Session) publish() {
	view := s.view()
	for {
		select {
		case s.updates <- view:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// view builds the immutable public state.
func (s *Session) view() State {
	switch s.phase {
	case phaseNotLoggedIn:
		return NotLoggedIn{Err: s.lastErr, LoggingIn: s.loggingIn}
	case phaseRestored:
		return Restored{}
	case phaseNotConnected:
		return NotConnected{Err: s.lastErr, Connecting: s.connecting}
	case phaseConnected:
		v := Connected{Snapshot: s.core.Snapshot()}
		if id, text, ok := s.core.ActiveEdit(); ok {
			v.EditID = id
			v.EditText = text
			v.Editing = true
		}
		return v
	}
	return NotLoggedIn{}
}
