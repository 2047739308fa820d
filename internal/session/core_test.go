package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amqp-session-core/internal/framing"
	"amqp-session-core/internal/logger"
	"amqp-session-core/internal/timer"
)

// inlineIO runs posted callbacks immediately on the calling goroutine.
type inlineIO struct{}

func (inlineIO) RequestIOProcessing(fn func()) { fn() }

// recordingProxy captures every peer-bound command.
type recordingProxy struct {
	stops     []string
	flows     []uint32
	flowModes int
	accepts   []string
	results   []framing.SequenceNumber
	syncs     int
	completed []string
	detaches  []string
}

func (p *recordingProxy) MessageStop(dest string) { p.stops = append(p.stops, dest) }
func (p *recordingProxy) MessageFlow(_ string, _ uint8, v uint32) {
	p.flows = append(p.flows, v)
}
func (p *recordingProxy) MessageSetFlowMode(string, uint8) { p.flowModes++ }
func (p *recordingProxy) MessageAccept(transfers *framing.SequenceSet) {
	p.accepts = append(p.accepts, transfers.String())
}
func (p *recordingProxy) ExecutionResult(id framing.SequenceNumber, _ []byte) {
	p.results = append(p.results, id)
}
func (p *recordingProxy) ExecutionSync() { p.syncs++ }
func (p *recordingProxy) SessionCompleted(commands *framing.SequenceSet) {
	p.completed = append(p.completed, commands.String())
}
func (p *recordingProxy) SessionDetach(name string) { p.detaches = append(p.detaches, name) }

// testSemantics optionally holds an async reference on each message.
type testSemantics struct {
	async     bool
	envs      []*MessageEnvelope
	attached  int
	detached  int
	closed    int
	completed []string
}

func (s *testSemantics) Handle(env *MessageEnvelope) error {
	s.envs = append(s.envs, env)
	if s.async {
		env.Completion().AddRef()
	}
	return nil
}

func (s *testSemantics) Attached() { s.attached++ }
func (s *testSemantics) Detached() { s.detached++ }
func (s *testSemantics) Closed()   { s.closed++ }
func (s *testSemantics) Completed(commands *framing.SequenceSet) {
	s.completed = append(s.completed, commands.String())
}

// discardSink drops outbound frames.
type discardSink struct{ frames []*framing.Frame }

func (s *discardSink) Out(f *framing.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

type harness struct {
	core  *SessionCore
	proxy *recordingProxy
	sem   *testSemantics
	sink  *discardSink
}

func newHarness(t *testing.T, cfg Config, sem *testSemantics) *harness {
	t.Helper()
	proxy := &recordingProxy{}
	sink := &discardSink{}
	log := logger.Discard()
	h := NewSessionHandler(HandlerConfig{Channel: 1, ConnectionID: "conn-1", MaxFrameSize: 65535},
		sink, proxy, nil, log)
	core, err := NewSessionCore(NewSessionId("test"), cfg, h, sem, nil, nil,
		&timer.Timer{}, inlineIO{}, log, nil)
	require.NoError(t, err)
	t.Cleanup(core.Close)
	return &harness{core: core, proxy: proxy, sem: sem, sink: sink}
}

func (h *harness) sendTransfer(t *testing.T, payload string) {
	t.Helper()
	for _, f := range transferFrames(payload) {
		require.NoError(t, h.core.HandleIn(f))
	}
}

func TestSessionStateMachine(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{}, sem)
	core := h.core

	assert.Equal(t, StateAttached, core.State())

	core.Detach()
	assert.Equal(t, StateDetached, core.State())
	assert.Equal(t, 1, sem.detached)

	// re-attach resumes on a new handler
	h2 := NewSessionHandler(HandlerConfig{Channel: 2, ConnectionID: "conn-2", MaxFrameSize: 65535},
		&discardSink{}, h.proxy, nil, logger.Discard())
	require.NoError(t, core.Attach(h2))
	assert.Equal(t, StateAttached, core.State())

	core.Close()
	assert.Equal(t, StateClosed, core.State())
	assert.Equal(t, 1, sem.closed)

	err := core.Attach(h2)
	require.Error(t, err)
	assert.True(t, framing.IsCode(err, framing.ReplyInternalError))
}

func TestSessionDoubleAttachRejected(t *testing.T) {
	h := newHarness(t, Config{}, &testSemantics{})
	h2 := NewSessionHandler(HandlerConfig{Channel: 2}, &discardSink{}, h.proxy, nil, logger.Discard())
	assert.Error(t, h.core.Attach(h2))
}

// Detach followed by attach preserves the command cursor.
func TestSessionResumePreservesCursor(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{}, sem)
	h.sendTransfer(t, "one")
	require.NoError(t, h.core.Deliver(&stubDelivery{}, false))

	before := h.core.cursor
	h.core.Detach()
	h2 := NewSessionHandler(HandlerConfig{Channel: 3, ConnectionID: "conn-1", MaxFrameSize: 65535},
		&discardSink{}, h.proxy, nil, logger.Discard())
	require.NoError(t, h.core.Attach(h2))

	assert.Equal(t, before.CommandPoint(), h.core.cursor.CommandPoint())
	assert.Equal(t, before.NextReceive(), h.core.cursor.NextReceive())
}

// Scenario: a content command completing asynchronously holds back the
// completion of a following execution.sync; both flush together.
func TestExecutionSyncOrdering(t *testing.T) {
	sem := &testSemantics{async: true}
	h := newHarness(t, Config{}, sem)

	h.sendTransfer(t, "payload") // command 0, completion pending
	require.NoError(t, h.core.HandleIn(framing.NewMethodFrame(1, &framing.ExecutionSyncBody{})))

	assert.Empty(t, h.proxy.completed, "sync must not complete before earlier commands")

	// the downstream party finishes on another goroutine's behalf
	require.Len(t, sem.envs, 1)
	sem.envs[0].Completion().Finish(true)

	require.Len(t, h.proxy.completed, 1)
	assert.Equal(t, "{0-1}", h.proxy.completed[0])
	assert.Equal(t, 0, h.core.Registry().Size())
}

func TestSyncTransferEmitsAcceptAndCompletion(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{}, sem)

	frames := []*framing.Frame{
		{Flags: framing.FlagBof | framing.FlagBos | framing.FlagEos,
			Payload: &framing.MessageTransferBody{Destination: "q", Sync: true}},
		{Flags: framing.FlagBos | framing.FlagEos | framing.FlagEof,
			Payload: &framing.HeaderBody{}},
	}
	for _, f := range frames {
		require.NoError(t, h.core.HandleIn(f))
	}

	// completion was synchronous: accept and completion follow immediately
	require.Len(t, h.proxy.accepts, 1)
	assert.Equal(t, "{0}", h.proxy.accepts[0])
	require.Len(t, h.proxy.completed, 1)
	assert.Equal(t, "{0}", h.proxy.completed[0])
}

func TestUnknownCommandRaisesNotImplemented(t *testing.T) {
	h := newHarness(t, Config{}, &testSemantics{})
	err := h.core.HandleIn(framing.NewMethodFrame(1, &fakeMethod{name: "queue.declare"}))
	require.Error(t, err)
	assert.True(t, framing.IsCode(err, framing.ReplyNotImplemented))
}

func TestMultiFrameCommandSegmentRejected(t *testing.T) {
	h := newHarness(t, Config{}, &testSemantics{})
	frame := &framing.Frame{Flags: framing.FlagBof | framing.FlagBos,
		Payload: &fakeMethod{name: "execution.partial"}}
	err := h.core.HandleIn(frame)
	require.Error(t, err)
	assert.True(t, framing.IsCode(err, framing.ReplyNotImplemented))
}

func TestAdapterResultIsSentToPeer(t *testing.T) {
	sem := &testSemantics{}
	proxy := &recordingProxy{}
	log := logger.Discard()
	hd := NewSessionHandler(HandlerConfig{Channel: 1}, &discardSink{}, proxy, nil, log)
	core, err := NewSessionCore(NewSessionId("t"), Config{}, hd, sem,
		resultAdapter{}, nil, &timer.Timer{}, inlineIO{}, log, nil)
	require.NoError(t, err)
	defer core.Close()

	require.NoError(t, core.HandleIn(framing.NewMethodFrame(1, &fakeMethod{name: "exchange.query"})))
	require.Len(t, proxy.results, 1)
	assert.Equal(t, framing.SequenceNumber(0), proxy.results[0])
}

func TestDeliverAdvancesSendPoint(t *testing.T) {
	h := newHarness(t, Config{}, &testSemantics{})

	d := &stubDelivery{}
	require.NoError(t, h.core.Deliver(d, false))
	assert.Equal(t, framing.SequenceNumber(0), d.id)
	assert.Equal(t, framing.SessionPoint{Command: 1}, h.core.cursor.CommandPoint())

	require.NoError(t, h.core.Deliver(d, true))
	assert.Equal(t, framing.SequenceNumber(1), d.id)
	assert.Equal(t, 1, h.proxy.syncs)
}

func TestSenderCompletedNotifiesSemanticLayer(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{}, sem)
	require.NoError(t, h.core.Deliver(&stubDelivery{}, false))

	var acked framing.SequenceSet
	acked.Add(0)
	h.core.SenderCompleted(&acked)

	assert.True(t, h.core.cursor.SendIncomplete().Empty())
	require.Len(t, sem.completed, 1)
	assert.Equal(t, "{0}", sem.completed[0])
}

func TestReadyToSendIssuesInitialCredit(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{MaxRate: 20}, sem)

	h.core.ReadyToSend()
	assert.Equal(t, 1, sem.attached)
	assert.Equal(t, 1, h.proxy.flowModes)
	require.Len(t, h.proxy.flows, 1)
	assert.Equal(t, uint32(20), h.proxy.flows[0])
}

// Scenario: a producer that keeps sending after exhausting its credit is
// told to stop.
func TestRateViolationSendsMessageStop(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{MaxRate: 10}, sem)

	t0 := time.Unix(5000, 0)
	h.core.now = func() time.Time { return t0 }
	h.core.ReadyToSend()
	require.Len(t, h.proxy.flows, 1)

	for i := 0; i < 10; i++ {
		h.sendTransfer(t, "m")
	}
	assert.Empty(t, h.proxy.stops)
	require.Len(t, h.proxy.flows, 1, "no grant during the burst")

	h.sendTransfer(t, "extra")
	require.Len(t, h.proxy.stops, 1)
	assert.Equal(t, "", h.proxy.stops[0])
	require.Len(t, h.proxy.flows, 1, "no credit granted on violation")
}

func TestManagementMethods(t *testing.T) {
	h := newHarness(t, Config{}, &testSemantics{})

	require.NoError(t, h.core.ManagementMethod(ManageDetach))
	require.Len(t, h.proxy.detaches, 1)

	for _, op := range []ManagementOp{ManageClose, ManageSolicitAck, ManageResetLifespan} {
		err := h.core.ManagementMethod(op)
		require.Error(t, err)
		assert.True(t, framing.IsCode(err, framing.ReplyNotImplemented))
	}
}

func TestHandlerConvertsExceptionToDetach(t *testing.T) {
	sem := &testSemantics{}
	h := newHarness(t, Config{}, sem)

	handler := h.core.handler
	// a lone content frame is a protocol violation
	handler.HandleIn(&framing.Frame{Payload: &framing.ContentBody{}})

	require.Len(t, h.proxy.detaches, 1)
	assert.Equal(t, StateClosed, h.core.State())
}

// stubDelivery records the command id it was sent under.
type stubDelivery struct {
	id framing.SequenceNumber
}

func (d *stubDelivery) Deliver(sink FrameSink, channel uint16, id framing.SequenceNumber, _ uint32) error {
	d.id = id
	return sink.Out(framing.NewMethodFrame(channel, &fakeMethod{name: "message.transfer.out"}))
}

// fakeMethod is a non-content command body for dispatch tests.
type fakeMethod struct {
	name string
	sync bool
}

func (m *fakeMethod) Type() framing.SegmentType { return framing.SegmentMethod }
func (m *fakeMethod) Name() string              { return m.name }
func (m *fakeMethod) IsSync() bool              { return m.sync }
func (m *fakeMethod) IsContentBearing() bool    { return false }

// resultAdapter handles every method and returns a payload.
type resultAdapter struct{}

func (resultAdapter) Invoke(framing.Method) (InvokeResult, error) {
	return InvokeResult{Handled: true, Result: []byte("ok")}, nil
}
