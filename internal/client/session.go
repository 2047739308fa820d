package client

import "sync"

// Session is a named client session whose underlying transport handle is
// swapped out when the connection recovers onto a new broker.
type Session struct {
	conn          *Connection
	name          string
	transactional bool

	mu     sync.Mutex
	handle SessionHandle
}

// Name returns the stable session name used for re-instatement.
func (s *Session) Name() string { return s.name }

// Transactional reports whether the session was created transactional.
func (s *Session) Transactional() bool { return s.transactional }

// Handle returns the current transport-level session handle.
func (s *Session) Handle() SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// setHandle installs the handle created on a (re)connected transport.
func (s *Session) setHandle(h SessionHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// Close closes the transport handle and drops the session from its
// connection.
func (s *Session) Close() error {
	s.conn.closed(s)
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
