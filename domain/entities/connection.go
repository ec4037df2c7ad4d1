package entities

// TransportKind selects how the broker connection is carried.
type TransportKind string

const (
	// TransportTCP is a raw MQTT-over-TCP connection.
	TransportTCP TransportKind = "tcp"
	// TransportWebsocket tunnels MQTT over a websocket upgrade at TunnelPath.
	TransportWebsocket TransportKind = "websocket"
)

// Valid reports whether t is a recognized transport kind.
func (t TransportKind) Valid() bool {
	return t == TransportTCP || t == TransportWebsocket
}

// ReconnectPolicy holds the automatic-retry parameters for a connection.
// MaxAttempts of zero means unlimited.
type ReconnectPolicy struct {
	Enabled        bool  `json:"enabled"`
	InitialDelayMs int64 `json:"initial_delay_ms"`
	MaxDelayMs     int64 `json:"max_delay_ms"`
	MaxAttempts    int   `json:"max_attempts"`
}

// ConnectionConfig is the immutable per-attempt snapshot of everything the
// broker connection needs. It is built once from persisted settings before
// every connect attempt and never mutated afterwards.
type ConnectionConfig struct {
	Host       string          `json:"host"`
	Port       int             `json:"port"`
	Transport  TransportKind   `json:"transport"`
	TunnelPath string          `json:"tunnel_path,omitempty"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username,omitempty"`
	Password   string          `json:"password,omitempty"`
	Secure     bool            `json:"secure"`
	Reconnect  ReconnectPolicy `json:"reconnect"`
}

// ConnectionStatus is owned exclusively by the broker connection. A fresh
// process always starts at StatusDisconnected.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// Subscription is one topic the connection listens on. Toggling Active on
// a live connection triggers a subscribe/unsubscribe protocol exchange.
type Subscription struct {
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
	Active bool   `json:"active"`
}
