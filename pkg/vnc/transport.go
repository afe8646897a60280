package vnc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Transport defines the interface for VNC transport implementations.
//
// Both native TCP and WebSocket transports implement this interface. Both
// carry the RFB byte stream; WebSocket framing uses binary messages (opcode
// 0x2) while TCP is a raw stream. The protocol engine sits on top and never
// touches the socket directly.
type Transport interface {
	// Connect establishes the connection to the VNC endpoint
	Connect(ctx context.Context, endpoint *Endpoint) error

	// Read reads the next chunk of RFB bytes from the connection
	Read(ctx context.Context) ([]byte, error)

	// Write writes RFB bytes to the connection
	Write(ctx context.Context, data []byte) error

	// StartTLS promotes an established plain connection to TLS mid-stream
	// and returns the writer for the encrypted channel. Used by VeNCrypt
	// TLS sub-types; transports that cannot upgrade return an error.
	StartTLS(ctx context.Context) (io.Writer, error)

	// Close closes the VNC connection
	Close() error

	// IsConnected returns true if the transport is currently connected
	IsConnected() bool
}

// EndpointType represents the type of VNC endpoint
type EndpointType int

const (
	// TypeUnknown - Unknown or unspecified transport type
	TypeUnknown EndpointType = iota

	// TypeNative - Native VNC TCP connection (port 5900)
	TypeNative

	// TypeWebSocket - WebSocket-carried RFB connection (websockify-style
	// proxies, BMC graphical consoles)
	TypeWebSocket
)

// String returns the string representation of EndpointType
func (t EndpointType) String() string {
	switch t {
	case TypeNative:
		return "native"
	case TypeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Endpoint represents a VNC connection endpoint configuration
type Endpoint struct {
	// Address is a URL with scheme (ws://, wss://, vnc://) or a bare
	// host:port, which defaults to native TCP
	Address string

	// Username and Password are used for HTTP Basic auth on WebSocket
	// endpoints; RFB-level credentials live in the session configuration
	Username string
	Password string
}

// NewTransport creates the appropriate VNC transport based on the endpoint
// URL scheme:
//   - ws://... or wss://... → WebSocket transport
//   - vnc://host:port or host:port → native TCP transport
func NewTransport(endpoint *Endpoint) (Transport, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("VNC endpoint configuration is nil")
	}

	if endpoint.Address == "" {
		return nil, fmt.Errorf("VNC endpoint is empty")
	}

	switch detectTransportType(endpoint.Address) {
	case TypeNative:
		return NewNativeTransport(0), nil

	case TypeWebSocket:
		return NewWebSocketTransport(0), nil

	default:
		return nil, fmt.Errorf("unable to detect transport type from endpoint: %s", endpoint.Address)
	}
}

// detectTransportType determines the transport type from the endpoint URL
// scheme
func detectTransportType(endpoint string) EndpointType {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return TypeWebSocket
	}

	if strings.HasPrefix(endpoint, "vnc://") || !strings.Contains(endpoint, "://") {
		return TypeNative
	}

	return TypeUnknown
}

// parseEndpoint parses a native VNC endpoint string to extract host and
// port. Supports "host:port", "vnc://host:port", and bare "host" (defaults
// to port 5900).
func parseEndpoint(endpoint string) (string, int, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return "", 0, fmt.Errorf("WebSocket URL provided for native VNC transport")
	}

	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", 0, fmt.Errorf("invalid URL format: %w", err)
		}
		if u.Port() == "" {
			return u.Hostname(), 5900, nil
		}
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %s: %w", u.Port(), err)
		}
		return u.Hostname(), port, nil
	}

	if strings.Contains(endpoint, ":") {
		host, portStr, found := strings.Cut(endpoint, ":")
		if !found || strings.Contains(portStr, ":") {
			return "", 0, fmt.Errorf("invalid host:port format: %s", endpoint)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %s: %w", portStr, err)
		}
		return host, port, nil
	}

	return endpoint, 5900, nil
}
