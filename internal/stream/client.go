// Package stream is a websocket client for the event stream served at /ws.
// It decodes wire events, dispatches them to handlers registered per kind
// and reconnects with exponential backoff when the connection drops.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barkain/ironhide/internal/events"
)

// ErrReconnectExhausted is reported to error handlers when the client gives
// up after MaxReconnectAttempts failed reconnects.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:3100/ws.
	URL string
	// SessionID scopes the stream to one session. Empty means all sessions.
	SessionID string
	// AutoReconnect enables reconnecting after a dropped connection.
	AutoReconnect bool
	// MaxReconnectAttempts bounds consecutive failed reconnects.
	MaxReconnectAttempts int
	// BaseDelay is the delay before the first reconnect. Attempt n waits
	// BaseDelay * 1.5^(n-1).
	BaseDelay time.Duration
}

// DefaultOptions returns options for rawURL with reconnects enabled.
func DefaultOptions(rawURL string) Options {
	return Options{
		URL:                  rawURL,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
	}
}

// Conn is the part of a websocket connection the client reads from.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a connection to rawURL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler func(d time.Duration, fn func()) Timer

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dial = d }
}

// WithScheduler replaces time.AfterFunc for reconnect timers.
func WithScheduler(s Scheduler) ClientOption {
	return func(c *Client) { c.schedule = s }
}

func websocketDialer(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func afterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Client is a reconnecting event stream consumer. Handlers must be
// registered before Connect; handlers registered later are picked up by the
// next dispatched event.
type Client struct {
	opts     Options
	dial     Dialer
	schedule Scheduler

	mu       sync.Mutex
	state    State
	attempts int
	gen      uint64
	ctx      context.Context
	stopCtx  func() bool
	conn     Conn
	timer    Timer
	run      *run
	handlers map[events.Kind][]func(events.Event)
	onError  []func(error)
	onState  []func(State)
}

// New creates a disconnected client.
func New(opts Options, o ...ClientOption) *Client {
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	c := &Client{
		opts:     opts,
		dial:     websocketDialer,
		schedule: afterFunc,
		handlers: make(map[events.Kind][]func(events.Event)),
	}
	for _, fn := range o {
		fn(c)
	}
	return c
}

// Endpoint returns the URL the client dials, including the session query.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parsing stream url: %w", err)
	}
	if c.opts.SessionID != "" {
		q := u.Query()
		q.Set("session", c.opts.SessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnects made since the last successful
// open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// On registers fn for events of the given kind.
func (c *Client) On(kind events.Kind, fn func(events.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

func (c *Client) OnConnected(fn func(events.Connected)) {
	c.On(events.KindConnected, func(e events.Event) { fn(e.(events.Connected)) })
}

func (c *Client) OnSession(fn func(events.SessionEvent)) {
	c.On(events.KindSession, func(e events.Event) { fn(e.(events.SessionEvent)) })
}

func (c *Client) OnTurn(fn func(events.TurnEvent)) {
	c.On(events.KindTurn, func(e events.Event) { fn(e.(events.TurnEvent)) })
}

func (c *Client) OnMetrics(fn func(events.MetricsEvent)) {
	c.On(events.KindMetrics, func(e events.Event) { fn(e.(events.MetricsEvent)) })
}

func (c *Client) OnHeartbeat(fn func(events.Heartbeat)) {
	c.On(events.KindHeartbeat, func(e events.Event) { fn(e.(events.Heartbeat)) })
}

// OnServerError registers fn for error events sent by the server.
func (c *Client) OnServerError(fn func(events.ErrorEvent)) {
	c.On(events.KindError, func(e events.Event) { fn(e.(events.ErrorEvent)) })
}

// OnError registers fn for connection failures that end the stream.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// OnStateChange registers fn for state transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// Connect dials the server. A failed first dial is returned and, when
// reconnects are enabled, also retried in the background. Cancelling ctx
// disconnects the client. Connect on a client that is not disconnected is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.ctx = ctx
	c.attempts = 0
	c.state = Connecting
	c.run = &run{done: make(chan struct{})}
	c.stopCtx = context.AfterFunc(ctx, c.Disconnect)
	c.mu.Unlock()

	c.emitState(Connecting)
	return c.open(gen)
}

// open dials once on behalf of generation gen.
func (c *Client) open(gen uint64) error {
	endpoint, err := c.Endpoint()
	if err != nil {
		c.fail(gen, err)
		return err
	}

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		c.fail(gen, err)
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.state = Connected
	c.mu.Unlock()

	c.emitState(Connected)
	go c.readLoop(gen, conn)
	return nil
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.fail(gen, err)
			return
		}
		e, err := events.Decode(data)
		if err != nil {
			log.Printf("[stream] skipping message: %v", err)
			continue
		}
		c.dispatch(e)
	}
}

// fail handles a dial or read error for generation gen: either schedule a
// reconnect or give up.
func (c *Client) fail(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if !c.opts.AutoReconnect || c.attempts >= c.opts.MaxReconnectAttempts {
		attempts := c.attempts
		r := c.run
		c.gen++
		c.state = Disconnected
		if c.stopCtx != nil {
			c.stopCtx()
			c.stopCtx = nil
		}
		c.mu.Unlock()

		err := cause
		if c.opts.AutoReconnect {
			err = fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempts, cause)
		}
		c.emitState(Disconnected)
		c.emitError(err)
		r.finish(err)
		return
	}

	c.attempts++
	delay := c.Backoff(c.attempts)
	wasConnected := c.state == Connected
	c.state = Connecting
	c.timer = c.schedule(delay, func() { c.retry(gen) })
	attempt := c.attempts
	c.mu.Unlock()

	log.Printf("[stream] connection lost (%v), reconnect %d/%d in %s", cause, attempt, c.opts.MaxReconnectAttempts, delay)
	if wasConnected {
		c.emitState(Connecting)
	}
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	_ = c.open(gen)
}

// Backoff returns the delay before reconnect attempt n (1-based).
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(c.opts.BaseDelay) * math.Pow(1.5, float64(attempt-1)))
}

// Disconnect cancels any pending reconnect and closes the connection. Safe
// to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.gen++
	r := c.run
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	if c.stopCtx != nil {
		c.stopCtx()
		c.stopCtx = nil
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.emitState(Disconnected)
	r.finish(nil)
}

// run tracks one Connect until the client stops.
type run struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (r *run) finish(err error) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Wait blocks until the client stops or ctx is done. It returns the error
// that made the client give up, such as one wrapping ErrReconnectExhausted,
// nil after Disconnect, or ctx.Err(). Wait on a client that was never
// connected returns nil.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) dispatch(e events.Event) {
	c.mu.Lock()
	hs := slices.Clone(c.handlers[e.Kind()])
	c.mu.Unlock()

	for _, h := range hs {
		c.safeCall(e, h)
	}
}

// safeCall runs h and recovers a panic so the remaining handlers still run.
func (c *Client) safeCall(e events.Event, h func(events.Event)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[stream] %s handler panicked: %v", e.Kind(), r)
		}
	}()
	h(e)
}

func (c *Client) emitState(s State) {
	c.mu.Lock()
	hs := slices.Clone(c.onState)
	c.mu.Unlock()
	for _, h := range hs {
		h(s)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	hs := slices.Clone(c.onError)
	c.mu.Unlock()
	if len(hs) == 0 {
		log.Printf("[stream] %v", err)
	}
	for _, h := range hs {
		h(err)
	}
}
