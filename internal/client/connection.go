package client

import (
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"amqp-session-core/internal/logger"
	"amqp-session-core/internal/metrics"
)

// Connection owns the broker URL list and the reconnect policy for one
// client connection, and recovers its sessions after a transport failure.
type Connection struct {
	mu       sync.Mutex
	openSem  sync.Mutex // single-entry: serializes concurrent Open calls
	urls     []string
	sessions map[string]*Session
	settings ConnectionSettings

	replaceUrls              bool
	reconnect                bool
	timeout                  int64 // seconds; negative = infinite, zero = no retry
	limit                    int   // negative = unlimited retries
	minReconnectInterval     int64 // seconds
	maxReconnectInterval     int64 // seconds
	retries                  int
	reconnectOnLimitExceeded bool

	transport Transport
	log       *logger.Logger
	met       *metrics.Metrics

	// Injected for deterministic back-off tests.
	sleep func(time.Duration)
	clock func() time.Time
}

// NewConnection builds a connection to url with the given options. The
// supplied URL is always first in the failover list; option-supplied URLs
// merge behind it without duplicates.
func NewConnection(u string, options map[string]any, transport Transport, log *logger.Logger, met *metrics.Metrics) (*Connection, error) {
	c := &Connection{
		sessions:                 make(map[string]*Session),
		timeout:                  -1,
		limit:                    -1,
		minReconnectInterval:     3,
		maxReconnectInterval:     60,
		reconnectOnLimitExceeded: true,
		transport:                transport,
		log:                      log,
		met:                      met,
		sleep:                    time.Sleep,
		clock:                    time.Now,
	}
	// Options apply in key order, matching the ordered map the option
	// surface was designed against.
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.setOption(name, options[name]); err != nil {
			return nil, err
		}
	}
	// The caller's URL goes first; anything the options merged in stays
	// behind it, deduplicated.
	merged := append([]string{u}, c.urls...)
	c.urls = nil
	for _, m := range merged {
		c.mergeURL(m)
	}
	c.log.Debug("created connection", "url", u, "urls", c.urls)
	return c, nil
}

// mergeURL appends u if not already present. Callers hold c.mu (or the
// connection is still being constructed).
func (c *Connection) mergeURL(u string) {
	for _, existing := range c.urls {
		if existing == u {
			return
		}
	}
	c.urls = append(c.urls, u)
}

// URLs returns a copy of the current failover list.
func (c *Connection) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}

// IsOpen reports whether the transport is currently open.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.IsOpen()
}

// Open establishes the connection, retrying per the reconnect policy.
// Concurrent callers serialize; the winner does the work.
func (c *Connection) Open() error {
	start := c.clock()
	c.openSem.Lock()
	defer c.openSem.Unlock()
	if c.transport.IsOpen() {
		return nil
	}
	return c.connect(start)
}

func (c *Connection) reopen() error {
	if !c.reconnect {
		return &TransportFailure{Msg: "failed to connect (reconnect disabled)"}
	}
	return c.Open()
}

func expired(start time.Time, now time.Time, timeout int64) bool {
	if timeout == 0 {
		return true
	}
	if timeout < 0 {
		return false
	}
	return now.Sub(start) > time.Duration(timeout)*time.Second
}

// connect drives the back-off loop: try every URL, then sleep and double
// the interval up to the configured maximum.
func (c *Connection) connect(started time.Time) error {
	interval := c.minReconnectInterval
	for {
		ok, err := c.tryConnect()
		if err != nil {
			return err
		}
		if ok {
			c.retries = 0
			return nil
		}
		if !c.reconnect {
			return &TransportFailure{Msg: "failed to connect (reconnect disabled)"}
		}
		if c.limit >= 0 && c.retries >= c.limit {
			return &TransportFailure{Msg: "failed to connect within reconnect limit"}
		}
		c.retries++
		if expired(started, c.clock(), c.timeout) {
			return &TransportFailure{Msg: "failed to connect within reconnect timeout"}
		}
		if c.met != nil {
			c.met.IncReconnectAttempts()
		}
		c.sleep(time.Duration(interval) * time.Second)
		if interval *= 2; interval > c.maxReconnectInterval {
			interval = c.maxReconnectInterval
		}
	}
}

// tryConnect attempts every URL in order. On the first success it merges
// the broker-advertised known hosts and re-instates the tracked sessions.
func (c *Connection) tryConnect() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.urls {
		c.log.Info("trying to connect", "url", u)
		settings := c.settings
		applyURLCredentials(u, &settings)
		if err := c.transport.Open(u, settings); err != nil {
			c.log.Info("failed to connect", "url", u, "error", err)
			continue
		}
		c.log.Info("connected", "url", u)
		for _, host := range c.transport.KnownHosts() {
			c.mergeURL(host)
		}
		c.log.Debug("added known-hosts", "urls", c.urls)
		return c.resetSessions()
	}
	return false, nil
}

// applyURLCredentials lifts user/password out of the URL into the
// settings used for this attempt.
func applyURLCredentials(raw string, settings *ConnectionSettings) {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return
	}
	if name := u.User.Username(); name != "" {
		settings.Username = name
	}
	if pass, ok := u.User.Password(); ok && pass != "" {
		settings.Password = pass
	}
}

// resetSessions re-creates every tracked session on the new transport
// under its original name. Callers hold c.mu.
func (c *Connection) resetSessions() (bool, error) {
	for name, sess := range c.sessions {
		h, err := c.transport.NewSession(name)
		if err != nil {
			var tf *TransportFailure
			if errors.As(err, &tf) {
				c.log.Debug("connection failed while re-initialising sessions")
				return false, nil
			}
			var rle *ResourceLimitExceeded
			if errors.As(err, &rle) {
				if c.reconnectOnLimitExceeded {
					c.log.Debug("detaching and reconnecting", "reason", err)
					c.transport.Close()
					return false, nil
				}
				return false, &TargetCapacityExceeded{Msg: rle.Msg}
			}
			return false, err
		}
		sess.setHandle(h)
	}
	return true, nil
}

// NewSession creates a session on the current transport, reconnecting
// through transport failures. An empty name mints a fresh UUID.
func (c *Connection) NewSession(transactional bool, name string) (*Session, error) {
	if name == "" {
		name = uuid.NewString()
	}
	sess := &Session{conn: c, name: name, transactional: transactional}
	for {
		h, err := c.transport.NewSession(name)
		if err == nil {
			sess.setHandle(h)
			c.mu.Lock()
			c.sessions[name] = sess
			c.mu.Unlock()
			return sess, nil
		}
		var tf *TransportFailure
		if errors.As(err, &tf) {
			if rerr := c.reopen(); rerr != nil {
				return nil, rerr
			}
			continue
		}
		return nil, &SessionError{Msg: err.Error()}
	}
}

// GetSession returns the tracked session with the given name.
func (c *Connection) GetSession(name string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[name]
	if !ok {
		return nil, &SessionError{Msg: "no such session: " + name}
	}
	return sess, nil
}

// Close closes every session, then detaches the transport.
func (c *Connection) Close() {
	for {
		var sess *Session
		c.mu.Lock()
		for _, s := range c.sessions {
			sess = s
			break
		}
		c.mu.Unlock()
		if sess == nil {
			break
		}
		sess.Close()
	}
	c.detach()
}

func (c *Connection) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport.Close()
}

// closed drops a session from tracking once it has closed.
func (c *Connection) closed(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.name] == s {
		delete(c.sessions, s.name)
	}
}

// Backoff detaches and reopens when the broker signalled a resource
// limit. Returns false when the policy says the error should surface.
func (c *Connection) Backoff() (bool, error) {
	if !c.reconnectOnLimitExceeded {
		return false, nil
	}
	c.detach()
	return true, c.Open()
}

// AuthenticatedUsername returns the username negotiated on the open
// transport.
func (c *Connection) AuthenticatedUsername() string {
	return c.transport.AuthenticatedUsername()
}
