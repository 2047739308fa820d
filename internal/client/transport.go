package client

// ConnectionSettings are the negotiated-parameter surface passed through
// to the transport on open. Only the fields a given transport understands
// apply.
type ConnectionSettings struct {
	Username    string
	Password    string
	Mechanism   string
	Service     string
	MinSsf      uint32
	MaxSsf      uint32
	Heartbeat   uint16
	TCPNoDelay  bool
	Locale      string
	MaxChannels uint16
	MaxFrame    uint32
	Bounds      uint32
	Protocol    string
	SSLCertName string
}

// SessionHandle is one live session on a transport.
type SessionHandle interface {
	Name() string
	Close() error
}

// Transport is the dialing surface the reconnect engine drives. Open
// blocks for the duration of one connect attempt; failures are reported
// as *TransportFailure.
type Transport interface {
	Open(url string, settings ConnectionSettings) error
	IsOpen() bool
	Close()
	NewSession(name string) (SessionHandle, error)
	// KnownHosts returns the broker-advertised failover URLs from the
	// most recent successful open.
	KnownHosts() []string
	AuthenticatedUsername() string
}
