package framing

// Frame boundary flags. Bof/Eof delimit a frameset (one command's method,
// header and content), Bos/Eos delimit a segment within it.
const (
	FlagBof = 1 << iota // begin of frameset
	FlagEof             // end of frameset
	FlagBos             // begin of segment
	FlagEos             // end of segment
)

// SegmentType identifies the role of a frame within a frameset.
type SegmentType uint8

const (
	SegmentMethod SegmentType = iota
	SegmentHeader
	SegmentBody
)

// Body is the payload carried by a frame.
type Body interface {
	Type() SegmentType
}

// Method is a protocol command body. Content-bearing methods open a
// frameset that continues with header and content frames; the rest are
// single-frame commands dispatched directly.
type Method interface {
	Body
	Name() string
	IsSync() bool
	IsContentBearing() bool
}

// Frame is one unit of the inbound or outbound frame stream.
type Frame struct {
	Channel uint16
	Flags   uint8
	Payload Body
}

// NewMethodFrame builds a complete single-segment method frame.
func NewMethodFrame(channel uint16, m Method) *Frame {
	return &Frame{
		Channel: channel,
		Flags:   FlagBof | FlagEof | FlagBos | FlagEos,
		Payload: m,
	}
}

func (f *Frame) Bof() bool { return f.Flags&FlagBof != 0 }
func (f *Frame) Eof() bool { return f.Flags&FlagEof != 0 }
func (f *Frame) Bos() bool { return f.Flags&FlagBos != 0 }
func (f *Frame) Eos() bool { return f.Flags&FlagEos != 0 }

// Method returns the frame's method body, or nil for header/content frames.
func (f *Frame) Method() Method {
	if m, ok := f.Payload.(Method); ok {
		return m
	}
	return nil
}

// HeaderBody carries the per-message properties segment. An empty header
// is synthesized for content-bearing commands that arrive as a single
// method frame.
type HeaderBody struct {
	Properties map[string]any
}

func (h *HeaderBody) Type() SegmentType { return SegmentHeader }

// ContentBody carries a chunk of message payload.
type ContentBody struct {
	Data []byte
}

func (c *ContentBody) Type() SegmentType { return SegmentBody }

// MessageTransferBody is the content-bearing transfer command.
type MessageTransferBody struct {
	Destination string
	AcceptMode  uint8 // 0 = explicit accept required
	AcquireMode uint8
	Sync        bool
}

func (m *MessageTransferBody) Type() SegmentType      { return SegmentMethod }
func (m *MessageTransferBody) Name() string           { return "message.transfer" }
func (m *MessageTransferBody) IsSync() bool           { return m.Sync }
func (m *MessageTransferBody) IsContentBearing() bool { return true }

// RequiresAccept reports whether the transfer demands an explicit
// message.accept from the receiving peer.
func (m *MessageTransferBody) RequiresAccept() bool { return m.AcceptMode == 0 }

// ExecutionSyncBody requests completion confirmation for all commands
// issued so far. Its own completion is deferred until every earlier
// command has completed.
type ExecutionSyncBody struct{}

func (m *ExecutionSyncBody) Type() SegmentType      { return SegmentMethod }
func (m *ExecutionSyncBody) Name() string           { return "execution.sync" }
func (m *ExecutionSyncBody) IsSync() bool           { return true }
func (m *ExecutionSyncBody) IsContentBearing() bool { return false }
