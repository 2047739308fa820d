package session

import (
	"errors"

	"amqp-session-core/internal/framing"
	"amqp-session-core/internal/logger"
)

// SessionHandler associates an active channel with a session. It receives
// inbound frames, forwards outbound frames to the connection's sink and
// turns a session exception into a session.detach to the peer plus a
// local close. The exception's reply code is logged; it is not sent to
// the peer.
type SessionHandler struct {
	channel      uint16
	connectionID string
	maxFrameSize uint32

	sink         FrameSink
	proxy        PeerProxy
	clusterProxy PeerProxy

	session *SessionCore
	log     *logger.Logger
}

// HandlerConfig carries the channel-scoped parameters for a handler.
type HandlerConfig struct {
	Channel      uint16
	ConnectionID string
	MaxFrameSize uint32
}

// NewSessionHandler builds a handler for one channel. clusterProxy may be
// nil when no cluster-ordering hook is installed; the peer proxy is used
// directly then.
func NewSessionHandler(cfg HandlerConfig, sink FrameSink, proxy, clusterProxy PeerProxy, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		channel:      cfg.Channel,
		connectionID: cfg.ConnectionID,
		maxFrameSize: cfg.MaxFrameSize,
		sink:         sink,
		proxy:        proxy,
		clusterProxy: clusterProxy,
		log:          log,
	}
}

// Channel returns the channel id this handler serves.
func (h *SessionHandler) Channel() uint16 { return h.channel }

// ConnectionID identifies the owning connection; inbound messages carry
// it as their publisher reference.
func (h *SessionHandler) ConnectionID() string { return h.connectionID }

// MaxFrameSize returns the negotiated frame size cap for deliveries.
func (h *SessionHandler) MaxFrameSize() uint32 { return h.maxFrameSize }

// Session returns the attached session, or nil.
func (h *SessionHandler) Session() *SessionCore { return h.session }

// Proxy returns the peer proxy for this channel.
func (h *SessionHandler) Proxy() PeerProxy { return h.proxy }

// ClusterOrderProxy returns the proxy used for commands that must
// traverse the cluster-ordering hook before reaching the peer.
func (h *SessionHandler) ClusterOrderProxy() PeerProxy {
	if h.clusterProxy != nil {
		return h.clusterProxy
	}
	return h.proxy
}

// Out forwards one outbound frame to the connection.
func (h *SessionHandler) Out(frame *framing.Frame) error {
	frame.Channel = h.channel
	return h.sink.Out(frame)
}

// HandleIn feeds one inbound frame to the session, converting any
// session exception into a peer-visible close.
func (h *SessionHandler) HandleIn(frame *framing.Frame) {
	if h.session == nil {
		h.log.Error("frame on channel with no attached session", "channel", h.channel)
		return
	}
	if err := h.session.HandleIn(frame); err != nil {
		h.handleException(err)
	}
}

// SendCompletion tells the peer which received commands have completed.
func (h *SessionHandler) SendCompletion(commands *framing.SequenceSet) {
	h.proxy.SessionCompleted(commands)
}

// SendDetach asks the peer to detach this session.
func (h *SessionHandler) SendDetach() {
	if h.session != nil {
		h.proxy.SessionDetach(h.session.Id().Name)
	}
}

// handleException logs the exception's reply code, sends session.detach
// and closes the session. The reply code is not carried to the peer.
func (h *SessionHandler) handleException(err error) {
	code := framing.ReplyInternalError
	var se *framing.SessionError
	if errors.As(err, &se) {
		code = se.Code
	}
	h.log.Error("session exception", "channel", h.channel, "code", int(code), "error", err)
	s := h.session
	h.SendDetach()
	if s != nil {
		s.Close()
	}
	h.session = nil
}
