package session

import (
	"sync"
	"sync/atomic"

	"amqp-session-core/internal/framing"
	"amqp-session-core/internal/logger"
)

// CompletionMode selects how a pending receive is completed.
type CompletionMode int

const (
	// CompleteSync completes on the calling goroutine, which must be the
	// session's I/O goroutine.
	CompleteSync CompletionMode = iota
	// CompleteAsync batches the completion onto the I/O goroutine via a
	// posted drain request. Safe from any goroutine.
	CompleteAsync
)

// PendingReceive is the registry token for one inbound message awaiting
// asynchronous completion. It holds a non-owning, nullable back-reference
// to its session; Cancel clears the reference so callbacks enqueued
// elsewhere find nothing to touch.
type PendingReceive struct {
	session  atomic.Pointer[SessionCore]
	env      *MessageEnvelope
	inflight sync.WaitGroup
}

// Env returns the tracked message envelope.
func (p *PendingReceive) Env() *MessageEnvelope { return p.env }

// PendingReceiveRegistry retains inbound message envelopes until their
// asynchronous completion fires. Writers to the scheduled deque hold the
// registry lock; the drain callback runs on the I/O goroutine and holds no
// registry lock while invoking session completion.
type PendingReceiveRegistry struct {
	mu      sync.Mutex
	pending map[*MessageEnvelope]*PendingReceive

	schedMu   sync.Mutex
	scheduled []*PendingReceive

	io  IOProcessor
	log *logger.Logger
}

// NewPendingReceiveRegistry returns an empty registry that posts batched
// completions through io.
func NewPendingReceiveRegistry(io IOProcessor, log *logger.Logger) *PendingReceiveRegistry {
	return &PendingReceiveRegistry{
		pending: make(map[*MessageEnvelope]*PendingReceive),
		io:      io,
		log:     log,
	}
}

// Size returns the number of retained envelopes.
func (r *PendingReceiveRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Register retains env and returns its completion token. Registering the
// same envelope twice is an invariant violation.
func (r *PendingReceiveRegistry) Register(s *SessionCore, env *MessageEnvelope) (*PendingReceive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[env]; exists {
		return nil, framing.InvariantViolation(
			"message %d already registered for completion", env.CommandID())
	}
	tok := &PendingReceive{env: env}
	tok.session.Store(s)
	r.pending[env] = tok
	return tok, nil
}

// Complete finishes the pending receive identified by tok. A completion
// arriving after cancel or session teardown is a no-op. In sync mode the
// registry lock is dropped before the session callback runs; in async mode
// the token joins the scheduled deque and, on the empty-to-non-empty
// transition, a drain is posted to the I/O goroutine.
func (r *PendingReceiveRegistry) Complete(tok *PendingReceive, mode CompletionMode) {
	r.mu.Lock()
	cur, ok := r.pending[tok.env]
	if !ok || cur != tok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, tok.env)
	tok.inflight.Add(1)
	defer tok.inflight.Done()

	if mode == CompleteAsync {
		r.schedMu.Lock()
		r.scheduled = append(r.scheduled, tok)
		first := len(r.scheduled) == 1
		r.schedMu.Unlock()
		r.mu.Unlock()
		if first {
			r.io.RequestIOProcessing(r.drainScheduled)
		}
		return
	}

	r.mu.Unlock()
	if s := tok.session.Load(); s != nil && s.IsAttached() {
		r.log.Debug("receive completed", "command", tok.env.CommandID())
		s.CompleteRcvMsg(tok.env)
	}
}

// drainScheduled runs on the I/O goroutine and completes every scheduled
// receive whose session is still present and attached.
func (r *PendingReceiveRegistry) drainScheduled() {
	for {
		r.schedMu.Lock()
		if len(r.scheduled) == 0 {
			r.schedMu.Unlock()
			return
		}
		tok := r.scheduled[0]
		r.scheduled = r.scheduled[1:]
		r.schedMu.Unlock()

		if s := tok.session.Load(); s != nil && s.IsAttached() {
			r.log.Debug("scheduled receive completed", "command", tok.env.CommandID())
			s.CompleteRcvMsg(tok.env)
		}
	}
}

// Cancel detaches tok from its session and waits for any in-flight
// completion to finish. After return no further callback reaches the
// session for this token.
func (r *PendingReceiveRegistry) Cancel(tok *PendingReceive) {
	r.mu.Lock()
	if cur, ok := r.pending[tok.env]; ok && cur == tok {
		delete(r.pending, tok.env)
	}
	r.mu.Unlock()
	// Joining the tracker first guarantees no new completion starts after
	// the back-pointer is cleared.
	tok.env.Completion().Cancel()
	tok.session.Store(nil)
	tok.inflight.Wait()
}

// CancelAll cancels every retained entry. The map is copied and cleared
// under the lock, then each entry is cancelled without it, since cancel
// joins callbacks that may themselves need the lock.
func (r *PendingReceiveRegistry) CancelAll() {
	r.mu.Lock()
	copied := make([]*PendingReceive, 0, len(r.pending))
	for _, tok := range r.pending {
		copied = append(copied, tok)
	}
	r.pending = make(map[*MessageEnvelope]*PendingReceive)
	r.mu.Unlock()

	for _, tok := range copied {
		r.log.Debug("cancelling outstanding completion", "command", tok.env.CommandID())
		tok.env.Completion().Cancel()
		tok.session.Store(nil)
		tok.inflight.Wait()
	}

	r.schedMu.Lock()
	r.scheduled = nil
	r.schedMu.Unlock()
}
