package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"amqp-session-core/internal/framing"
	"amqp-session-core/internal/logger"
	"amqp-session-core/internal/metrics"
	"amqp-session-core/internal/timer"
)

// SessionId names one logical session: a caller-chosen name plus a UUID
// minted at open.
type SessionId struct {
	Name string
	UUID uuid.UUID
}

// NewSessionId mints an id for name.
func NewSessionId(name string) SessionId {
	return SessionId{Name: name, UUID: uuid.New()}
}

func (id SessionId) String() string {
	return id.Name + ":" + id.UUID.String()
}

// State is the session lifecycle state.
type State int32

const (
	StateNotAttached State = iota
	StateAttaching
	StateAttached
	StateDetached
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotAttached:
		return "not-attached"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Flow control wire constants.
const (
	flowUnitMessage = 0
	flowModeCredit  = 0
)

// ManagementOp identifies a management method invoked on a session object.
type ManagementOp int

const (
	ManageDetach ManagementOp = iota
	ManageClose
	ManageSolicitAck
	ManageResetLifespan
)

// DeliveryRecord is an outbound delivery the semantic layer asks the
// session to send.
type DeliveryRecord interface {
	Deliver(sink FrameSink, channel uint16, id framing.SequenceNumber, maxFrameSize uint32) error
}

// Config carries the per-session tunables.
type Config struct {
	// MaxRate caps the inbound message rate in messages/second.
	// Zero disables producer flow control.
	MaxRate uint32
}

// SessionCore owns the protocol state for one logical channel: command
// cursors, frame assembly, producer flow control, pending receive
// completion and the attach/detach/close lifecycle. All protocol-state
// mutation happens on the connection's I/O goroutine; asynchronous
// completers reach the core only through the PendingReceiveRegistry.
type SessionCore struct {
	id    SessionId
	state atomic.Int32

	handler  *SessionHandler
	cursor   CommandCursor
	asm      MessageAssembler
	registry *PendingReceiveRegistry

	flow       *RateFlowControl
	rateMu     sync.Mutex
	creditTask *timer.Task
	timer      *timer.Timer

	semantic SemanticLayer
	adapter  Adapter
	store    MessageStore
	ioproc   IOProcessor

	accepted              framing.SequenceSet
	pendingExecutionSyncs []framing.SequenceNumber

	// Dispatch state for the command currently being handled.
	currentCommandID       framing.SequenceNumber
	currentCommandComplete bool

	log *logger.Logger
	met *metrics.Metrics
	now func() time.Time
}

// NewSessionCore builds a session and attaches it to handler. The adapter
// may be nil, in which case a default adapter handling execution.sync is
// used; the store may be nil for a synchronous null store.
func NewSessionCore(id SessionId, cfg Config, handler *SessionHandler,
	semantic SemanticLayer, adapter Adapter, store MessageStore,
	tmr *timer.Timer, ioproc IOProcessor,
	log *logger.Logger, met *metrics.Metrics) (*SessionCore, error) {

	s := &SessionCore{
		id:       id,
		semantic: semantic,
		adapter:  adapter,
		store:    store,
		timer:    tmr,
		ioproc:   ioproc,
		log:      log,
		met:      met,
		now:      time.Now,
	}
	if s.adapter == nil {
		s.adapter = &defaultAdapter{s: s}
	}
	if s.store == nil {
		s.store = NullMessageStore{}
	}
	if cfg.MaxRate > 0 {
		s.flow = NewRateFlowControl(cfg.MaxRate)
	}
	s.registry = NewPendingReceiveRegistry(ioproc, log)
	if err := s.Attach(handler); err != nil {
		return nil, err
	}
	return s, nil
}

// Id returns the session identity.
func (s *SessionCore) Id() SessionId { return s.id }

// State returns the current lifecycle state.
func (s *SessionCore) State() State { return State(s.state.Load()) }

// IsAttached reports whether the session currently has a handler.
func (s *SessionCore) IsAttached() bool { return s.State() == StateAttached }

// Registry exposes the pending-receive registry.
func (s *SessionCore) Registry() *PendingReceiveRegistry { return s.registry }

// Attach binds the session to a channel handler. Valid from NotAttached
// and Detached; the command cursor is preserved across detach so the
// session resumes where it left off.
func (s *SessionCore) Attach(h *SessionHandler) error {
	switch s.State() {
	case StateNotAttached, StateDetached:
	case StateClosed:
		return framing.InvariantViolation("attach on closed session %s", s.id)
	default:
		return framing.InvariantViolation("attach on %s session %s", s.State(), s.id)
	}
	if s.handler != nil {
		return framing.InvariantViolation("session %s already has a handler", s.id)
	}
	s.log.Debug("attached on broker", "session", s.id.String(), "channel", h.Channel())
	s.handler = h
	h.session = s
	s.state.Store(int32(StateAttached))
	if s.met != nil {
		s.met.SetSessionAttached(true)
	}
	return nil
}

// Detach disables outbound activation and drops the handler. Outstanding
// pending receives stay registered; their completions observe the
// detached state and clear from the registry without touching the wire.
func (s *SessionCore) Detach() {
	s.log.Debug("detached on broker", "session", s.id.String())
	s.disableOutput()
	s.handler = nil
	s.state.Store(int32(StateDetached))
	if s.met != nil {
		s.met.SetSessionAttached(false)
	}
}

func (s *SessionCore) disableOutput() {
	// Prevents further output activation until reattached.
	s.semantic.Detached()
}

// Close terminates the session. The scheduled credit task is cancelled
// and every outstanding pending receive is cancelled with join semantics.
func (s *SessionCore) Close() {
	if s.State() == StateClosed {
		return
	}
	s.semantic.Closed()
	if s.creditTask != nil {
		s.creditTask.Cancel()
	}
	s.state.Store(int32(StateClosed))
	s.registry.CancelAll()
	if s.met != nil {
		s.met.SetSessionAttached(false)
	}
}

// HandleIn dispatches one inbound frame: complete non-content method
// frames go to command dispatch, everything content-shaped goes to the
// assembler.
func (s *SessionCore) HandleIn(frame *framing.Frame) error {
	id := s.cursor.NextReceive()
	m := frame.Method()
	if m == nil || m.IsContentBearing() {
		return s.handleContent(frame, id)
	}
	if frame.Bof() && frame.Eof() {
		s.cursor.RecordArrival()
		return s.handleCommand(m, id)
	}
	return framing.NotImplemented("cannot handle multi-frame command segments yet")
}

// handleCommand invokes a complete non-content command on the adapter.
func (s *SessionCore) handleCommand(m framing.Method, id framing.SequenceNumber) error {
	// Assumed complete; the invoked operation may clear it (execution.sync
	// arriving before its dependencies have completed).
	s.currentCommandComplete = true
	s.currentCommandID = id

	res, err := s.adapter.Invoke(m)
	if err != nil {
		return err
	}
	if s.currentCommandComplete {
		s.cursor.ReceiverCompleted(id)
	}
	if !res.Handled {
		return framing.NotImplemented("not implemented: %s", m.Name())
	}
	if res.Result != nil {
		s.handler.Proxy().ExecutionResult(id, res.Result)
	}
	if m.IsSync() && s.currentCommandComplete {
		s.sendAcceptAndCompletion()
	}
	return nil
}

// handleContent drives the assembler with one frame of a content-bearing
// command and, on frameset close, hands the assembled message to the
// store and semantic layer and registers it for completion.
func (s *SessionCore) handleContent(frame *framing.Frame, id framing.SequenceNumber) error {
	if frame.Bof() && frame.Bos() {
		if err := s.asm.Start(id); err != nil {
			return err
		}
	}
	if err := s.asm.Handle(frame); err != nil {
		return err
	}
	if frame.Eof() && frame.Eos() {
		env, err := s.asm.End()
		if err != nil {
			return err
		}
		s.cursor.RecordArrival()
		env.SetPublisher(s.handler.ConnectionID())
		if s.met != nil {
			s.met.IncMessagesReceived()
		}

		env.Completion().Begin()
		if err := s.store.Enqueue(env); err != nil {
			return err
		}
		if err := s.semantic.Handle(env); err != nil {
			return err
		}
		tok, err := s.registry.Register(s, env)
		if err != nil {
			return err
		}
		// Allows the message to complete once every party has finished.
		env.Completion().End(func(sync bool) {
			mode := CompleteAsync
			if sync {
				mode = CompleteSync
			}
			s.registry.Complete(tok, mode)
		})
	}

	// Producer session flow control.
	if s.flow != nil && frame.Bof() && frame.Bos() {
		if !s.processSendCredit(1) {
			s.log.Debug("schedule sending credit", "session", s.id.String())
			s.scheduleCredit()
		}
	}
	return nil
}

// CompleteRcvMsg records receiver completion for an inbound message and
// flushes any execution.sync commands that were waiting on it.
func (s *SessionCore) CompleteRcvMsg(env *MessageEnvelope) {
	callSendCompletion := false
	s.cursor.ReceiverCompleted(env.CommandID())
	if env.RequiresAccept() {
		// Makes the id appear in the next message.accept we send.
		s.accepted.Add(env.CommandID())
	}
	if s.met != nil {
		s.met.IncMessagesCompleted()
	}

	// Complete any execution.sync commands pending on this message.
	for len(s.pendingExecutionSyncs) > 0 {
		syncID := s.pendingExecutionSyncs[0]
		front, ok := s.cursor.LowestIncomplete()
		if ok && front.LessThan(syncID) {
			break
		}
		s.pendingExecutionSyncs = s.pendingExecutionSyncs[1:]
		s.log.Debug("delayed execution.sync completed", "session", s.id.String(), "command", syncID)
		s.cursor.ReceiverCompleted(syncID)
		callSendCompletion = true // the peer is likely waiting on this
	}

	if m := env.Method(); m != nil && m.IsSync() {
		s.sendAcceptAndCompletion()
	} else if callSendCompletion {
		s.SendCompletion()
	}
}

// AddPendingExecutionSync defers completion of the execution.sync command
// currently being dispatched until all earlier commands have completed.
func (s *SessionCore) AddPendingExecutionSync() {
	syncID := s.currentCommandID
	if front, ok := s.cursor.LowestIncomplete(); ok && front.LessThan(syncID) {
		s.currentCommandComplete = false
		s.pendingExecutionSyncs = append(s.pendingExecutionSyncs, syncID)
		s.log.Debug("delaying completion of execution.sync", "session", s.id.String(), "command", syncID)
	}
}

func (s *SessionCore) sendAcceptAndCompletion() {
	if !s.accepted.Empty() {
		s.handler.Proxy().MessageAccept(s.accepted.Copy())
		s.accepted.Clear()
	}
	s.SendCompletion()
}

// SendCompletion flushes the locally-completed command ids to the peer.
func (s *SessionCore) SendCompletion() {
	if !s.cursor.HasCompletedToSend() {
		return
	}
	s.handler.SendCompletion(s.cursor.TakeCompleted())
}

// SenderCompleted records peer acknowledgement of outbound commands and
// lets the semantic layer release their resources.
func (s *SessionCore) SenderCompleted(commands *framing.SequenceSet) {
	s.cursor.SenderCompleted(commands)
	s.semantic.Completed(commands)
}

// Deliver sends one outbound delivery at the current command point and
// advances it by exactly one command. With sync set, an execution.sync
// follows the delivery.
func (s *SessionCore) Deliver(record DeliveryRecord, sync bool) error {
	point := s.cursor.CommandPoint()
	if point.Offset != 0 {
		return framing.InvariantViolation("deliver with send point %s mid-command", point)
	}
	if err := record.Deliver(s.handler, s.handler.Channel(), point.Command, s.handler.MaxFrameSize()); err != nil {
		return err
	}
	if err := s.cursor.AdvanceSendPoint(); err != nil {
		return err
	}
	if sync {
		s.handler.Proxy().ExecutionSync()
	}
	return nil
}

// ReadyToSend activates the semantic layer and issues the initial
// producer credit grant.
func (s *SessionCore) ReadyToSend() {
	s.log.Debug("ready to send, activating output", "session", s.id.String())
	s.semantic.Attached()
	if s.flow == nil {
		return
	}
	s.rateMu.Lock()
	credit := s.flow.InitialCredit()
	s.flow.SentCredit(s.now(), credit)
	s.rateMu.Unlock()
	s.log.Debug("issuing producer message credit", "session", s.id.String(), "credit", credit)
	s.handler.ClusterOrderProxy().MessageSetFlowMode("", flowModeCredit)
	s.handler.ClusterOrderProxy().MessageFlow("", flowUnitMessage, credit)
	if s.met != nil {
		s.met.AddClientCredit(float64(credit))
		s.met.IncCreditGrants()
	}
}

// processSendCredit accounts msgs inbound messages against the producer's
// credit and grants replenishment when due. It returns false when a grant
// could not be issued and a scheduled credit task is needed.
func (s *SessionCore) processSendCredit(msgs uint32) bool {
	now := s.now()
	s.rateMu.Lock()
	if msgs > 0 && s.flow.FlowStopped(now) {
		s.rateMu.Unlock()
		s.log.Warn("producer throttling violation", "session", s.id.String())
		if s.met != nil {
			s.met.IncRateViolations()
		}
		s.handler.ClusterOrderProxy().MessageStop("")
		return true
	}
	credit := s.flow.ReceivedMessage(now, msgs)
	stopped := false
	if credit > 0 {
		s.flow.SentCredit(now, credit)
	} else {
		stopped = s.flow.FlowStopped(now)
	}
	s.rateMu.Unlock()

	if s.met != nil && msgs > 0 {
		s.met.SubClientCredit(float64(msgs))
	}
	if credit > 0 {
		s.log.Debug("send producer credit", "session", s.id.String(), "credit", credit)
		s.handler.ClusterOrderProxy().MessageFlow("", flowUnitMessage, credit)
		if s.met != nil {
			s.met.AddClientCredit(float64(credit))
			s.met.IncCreditGrants()
		}
		return true
	}
	return !stopped
}

// scheduleCredit arms a deferred replenishment grant. The fire path posts
// to the I/O goroutine and re-checks attachment there, so a cancel racing
// the fire is harmless.
func (s *SessionCore) scheduleCredit() {
	task := timer.NewTask(s.flow.ScheduledCreditDelay(), func() {
		s.ioproc.RequestIOProcessing(s.scheduledCredit)
	})
	s.creditTask = task
	s.timer.Add(task)
}

func (s *SessionCore) scheduledCredit() {
	if !s.IsAttached() {
		return
	}
	if !s.processSendCredit(0) {
		s.log.Warn("reschedule sending credit", "session", s.id.String())
		s.creditTask.Restart()
	}
}

// ManagementMethod dispatches a management operation on the session.
func (s *SessionCore) ManagementMethod(op ManagementOp) error {
	switch op {
	case ManageDetach:
		if s.handler != nil {
			s.handler.SendDetach()
		}
		return nil
	default:
		return framing.NotImplemented("management method %d", op)
	}
}

// SetTimeout would set the detached lifetime. Session resume is not fully
// implemented, so a non-zero value is accepted and ignored; keeping dead
// sessions around interferes with failover.
func (s *SessionCore) SetTimeout(uint32) {}

// defaultAdapter handles the execution class; everything else is reported
// unhandled so the session raises not-implemented.
type defaultAdapter struct {
	s *SessionCore
}

func (a *defaultAdapter) Invoke(m framing.Method) (InvokeResult, error) {
	switch m.(type) {
	case *framing.ExecutionSyncBody:
		a.s.AddPendingExecutionSync()
		return InvokeResult{Handled: true}, nil
	}
	return InvokeResult{}, nil
}
