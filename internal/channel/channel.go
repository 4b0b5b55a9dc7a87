// Package channel owns the persistent bidirectional connection one client
// role holds to the realtime server. It multiplexes named events to and from
// a shared set of listeners, reconnects with bounded backoff, and never
// resumes a stale session: every dial is a fresh handshake, so role packages
// re-register or re-subscribe from their OnConnect callback.
package channel

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-events/internal/config"
	"github.com/example/delivery-events/internal/observability"
	"github.com/example/delivery-events/internal/protocol"
)

// State of a channel. Transitions are Disconnected -> Connecting ->
// Connected and back; a dropped connection re-enters Connecting until the
// attempt budget runs out.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Listener is the capability interface channel consumers implement. Multiple
// listeners may observe the same channel; they are invoked synchronously in
// registration order, and one failing does not stop delivery to the rest.
type Listener interface {
	OnConnect()
	OnDisconnect()
	OnEvent(event string, data json.RawMessage)
	OnError(message string)
}

// Options tunes a channel. Zero values fall back to the defaults below,
// which mirror what the production clients ship with.
type Options struct {
	URL               string // ws(s)://host:port
	Namespace         string // protocol.NamespaceDrivers or NamespaceCustomers
	DialTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            *slog.Logger
}

const (
	defaultDialTimeout       = 10 * time.Second
	defaultReconnectAttempts = 10
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
)

// Channel is a process-scoped service object: construct it once at startup
// and hand it to the components that need it.
type Channel struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	listeners []Listener
	attempts  int
	retry     *time.Timer
	gen       uint64 // bumped on Connect/Disconnect to invalidate stale callbacks

	writeMu sync.Mutex
}

func New(opts Options) *Channel {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{opts: opts, logger: logger.With("namespace", opts.Namespace)}
}

// FromClientConfig maps client configuration onto channel options for one
// namespace.
func FromClientConfig(cfg config.ClientConfig, namespace string, logger *slog.Logger) Options {
	return Options{
		URL:               cfg.ServerURL,
		Namespace:         namespace,
		DialTimeout:       cfg.DialTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
		Logger:            logger,
	}
}

// AddListener registers a listener. Registration order is dispatch order.
func (c *Channel) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.listeners {
		if existing == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

func (c *Channel) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// snapshot copies the listener slice so dispatch never iterates a slice that
// AddListener/RemoveListener may mutate concurrently.
func (c *Channel) snapshot() []Listener {
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool { return c.State() == StateConnected }

// Connect initiates the transport handshake. It is a no-op if the channel is
// already connected or connecting.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Disconnect tears down the transport and cancels any pending reconnection
// attempt.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	ls := c.snapshot()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		c.notifyDisconnect(ls)
	}
}

// Emit sends a named event with its payload. If the channel is not currently
// connected the emit is silently dropped: outbound traffic is at-most-once,
// fire-and-forget.
func (c *Channel) Emit(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		observability.EmitsDropped.Inc()
		c.logger.Debug("emit dropped, channel not connected", "event", event)
		return
	}
	b, err := protocol.Marshal(event, payload)
	if err != nil {
		c.logger.Error("emit encode failed", "event", event, "error", err)
		return
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("emit write failed", "event", event, "error", err)
	}
}

func (c *Channel) dial(gen uint64) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.Dial(c.opts.URL+c.opts.Namespace, nil)
	if err != nil {
		c.logger.Warn("connect failed", "error", err)
		c.notifyError(c.listenersSnapshot(), "Connection failed")
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	ls := c.snapshot()
	c.mu.Unlock()

	observability.ChannelConnects.Inc()
	c.logger.Info("channel connected")
	// OnConnect runs before the read loop so role packages can emit their
	// registration/subscription traffic ahead of any inbound event.
	for _, l := range ls {
		c.safeCall(func() { l.OnConnect() })
	}
	go c.readLoop(conn, gen)
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		env, err := protocol.Unmarshal(msg)
		if err != nil {
			observability.EventsDropped.Inc()
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch delivers one inbound event to every listener, in registration
// order, isolating listener panics so one consumer cannot starve the rest.
func (c *Channel) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	ls := c.snapshot()
	c.mu.Unlock()
	observability.EventsDispatched.WithLabelValues(env.Event).Inc()
	for _, l := range ls {
		c.safeCall(func() { l.OnEvent(env.Event, env.Data) })
	}
}

func (c *Channel) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateConnecting
	ls := c.snapshot()
	c.mu.Unlock()

	c.logger.Warn("channel dropped", "error", cause)
	c.notifyDisconnect(ls)
	c.scheduleReconnect(gen)
}

func (c *Channel) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.opts.ReconnectAttempts {
		c.state = StateDisconnected
		ls := c.snapshot()
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted", "attempts", c.opts.ReconnectAttempts)
		c.notifyError(ls, "Connection failed")
		return
	}
	delay := c.backoffDelay(attempt)
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.gen || c.state != StateConnecting
		c.mu.Unlock()
		if stale {
			return
		}
		observability.ChannelReconnects.Inc()
		c.dial(gen)
	})
	c.mu.Unlock()
	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// backoffDelay doubles the base delay per attempt up to the cap.
func (c *Channel) backoffDelay(attempt int) time.Duration {
	delay := c.opts.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.MaxReconnectDelay {
			return c.opts.MaxReconnectDelay
		}
	}
	return delay
}

func (c *Channel) listenersSnapshot() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Channel) notifyDisconnect(ls []Listener) {
	for _, l := range ls {
		c.safeCall(func() { l.OnDisconnect() })
	}
}

func (c *Channel) notifyError(ls []Listener, message string) {
	for _, l := range ls {
		c.safeCall(func() { l.OnError(message) })
	}
}

func (c *Channel) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panic recovered", "panic", r)
		}
	}()
	fn()
}
