package vnc

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketTransport implements VNC transport over a WebSocket connection.
// The standard RFB byte stream is carried in binary WebSocket messages.
// Used by websockify-style proxies and BMC graphical consoles (OpenBMC KVM,
// Redfish GraphicalConsole).
type WebSocketTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// NewWebSocketTransport creates a new WebSocket VNC transport
func NewWebSocketTransport(timeout time.Duration) *WebSocketTransport {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebSocketTransport{
		timeout: timeout,
	}
}

// Connect establishes a WebSocket connection to the VNC endpoint.
// Supports formats:
//   - ws://host:port/path
//   - wss://host:port/path (TLS)
//   - OpenBMC: wss://bmc-host/kvm/0
func (t *WebSocketTransport) Connect(ctx context.Context, endpoint *Endpoint) error {
	wsURL, err := url.Parse(endpoint.Address)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL %s: %w", endpoint.Address, err)
	}

	if wsURL.Scheme != "ws" && wsURL.Scheme != "wss" {
		return fmt.Errorf("invalid WebSocket scheme %s (expected ws:// or wss://)", wsURL.Scheme)
	}

	headers := http.Header{}
	if endpoint.Username != "" && endpoint.Password != "" {
		auth := endpoint.Username + ":" + endpoint.Password
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: t.timeout,
		Subprotocols:     []string{"binary", "rfb"},
	}

	conn, _, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket VNC at %s: %w", wsURL.String(), err)
	}

	log.Debug().
		Str("endpoint", wsURL.String()).
		Str("subprotocol", conn.Subprotocol()).
		Msg("WebSocket VNC connection established")

	t.conn = conn
	return nil
}

// StartTLS is not supported over WebSocket. A wss:// endpoint is already
// encrypted end to end, and the WebSocket message framing cannot host an
// inner TLS handshake.
func (t *WebSocketTransport) StartTLS(ctx context.Context) (io.Writer, error) {
	return nil, fmt.Errorf("mid-stream TLS upgrade is not supported over WebSocket; use a wss:// endpoint")
}

// Read reads the next chunk of RFB bytes from the WebSocket connection
func (t *WebSocketTransport) Read(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("VNC connection closed: %w", err)
			}
			return nil, fmt.Errorf("WebSocket read error: %w", err)
		}

		// RFB data rides in binary messages; drop anything else
		if messageType != websocket.BinaryMessage {
			log.Debug().
				Int("message_type", messageType).
				Msg("Ignoring non-binary WebSocket message")
			continue
		}

		return data, nil
	}
}

// Write writes RFB bytes to the WebSocket connection as one binary message
func (t *WebSocketTransport) Write(ctx context.Context, data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}

	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("WebSocket write error: %w", err)
	}

	return nil
}

// Close closes the WebSocket connection
func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}

	// Best-effort close frame before tearing down the socket
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected returns true if the transport is connected
func (t *WebSocketTransport) IsConnected() bool {
	return t.conn != nil
}
