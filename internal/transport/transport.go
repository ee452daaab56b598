// Package transport owns the single WebSocket connection to a Nanit
// camera (cloud relay or LAN-local), including keepalive, server-close
// handling, and exponential-backoff reconnect.
package transport

import (
	"crypto/tls"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nanit/internal/proto"
)

// ConnectionError is a network-level failure at WebSocket handshake.
type ConnectionError struct{ msg string }

func (e *ConnectionError) Error() string { return "transport: connection error: " + e.msg }

func newConnectionError(format string, args ...any) *ConnectionError {
	return &ConnectionError{msg: fmt.Sprintf(format, args...)}
}

// TransportError is raised for a WebSocket closed unexpectedly, a send
// attempted while disconnected, or a framing failure on send.
type TransportError struct{ msg string }

func (e *TransportError) Error() string { return "transport: " + e.msg }

// NewTransportError builds a TransportError; exported so the camera
// package can cancel pending requests with the same error kind the
// transport itself raises.
func NewTransportError(format string, args ...any) *TransportError {
	return &TransportError{msg: fmt.Sprintf(format, args...)}
}

// State mirrors ConnectionInfo.state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Kind mirrors ConnectionInfo.transport.
type Kind int

const (
	KindNone Kind = iota
	KindLocal
	KindCloud
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCloud:
		return "cloud"
	default:
		return "none"
	}
}

const (
	keepaliveInterval = 25 * time.Second
	heartbeatInterval = 60 * time.Second
	handshakeTimeout  = 15 * time.Second

	backoffInitial = 1850 * time.Millisecond
	backoffFactor  = 1.618
	backoffMax     = 60 * time.Second
)

// OnMessage is invoked synchronously for every binary frame received.
type OnMessage func(data []byte)

// OnConnectionChange is invoked on every state transition.
type OnConnectionChange func(state State, kind Kind, err error)

// Transport owns at most one live WebSocket connection at a time plus its
// receive loop, keepalive ticker, and reconnect loop.
type Transport struct {
	logger *log.Logger

	onMessage          OnMessage
	onConnectionChange OnConnectionChange

	mu          sync.Mutex
	conn        *websocket.Conn
	kind        Kind
	url         string
	header      http.Header
	tlsConfig   *tls.Config
	closed      bool
	attempts    int
	gen         uint64 // bumped on every connect/close to invalidate stale loops
	dialTimeout time.Duration
}

// New creates a Transport. Both callbacks must be non-nil. logger may be
// nil, in which case transport activity is discarded. The handshake
// timeout defaults to 15 s; use NewWithHandshakeTimeout for a tighter
// budget (e.g. the local-reachability probe's 5 s).
func New(onMessage OnMessage, onConnectionChange OnConnectionChange, logger *log.Logger) *Transport {
	return NewWithHandshakeTimeout(onMessage, onConnectionChange, logger, handshakeTimeout)
}

// NewWithHandshakeTimeout is New with an overridden WebSocket dial
// timeout, used by the camera package's local-reachability probe.
func NewWithHandshakeTimeout(onMessage OnMessage, onConnectionChange OnConnectionChange, logger *log.Logger, dialTimeout time.Duration) *Transport {
	if logger == nil {
		logger = log.New(discard{}, "[transport] ", log.LstdFlags)
	}
	return &Transport{
		onMessage:          onMessage,
		onConnectionChange: onConnectionChange,
		logger:             logger,
		dialTimeout:        dialTimeout,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Connected reports whether the WebSocket is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Kind returns the transport currently in use.
func (t *Transport) Kind() Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

// ConnectCloud dials the Nanit cloud relay for camera_uid using a bearer
// access token.
func (t *Transport) ConnectCloud(cameraUID, accessToken string) error {
	url := fmt.Sprintf("wss://api.nanit.com/focus/cameras/%s/user_connect", cameraUID)
	header := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	return t.connect(url, header, KindCloud, nil)
}

// ConnectLocal dials the camera directly on the LAN. If tlsConfig is nil,
// certificate verification is disabled by default since the camera
// presents a self-signed certificate; callers may pass their own config
// to override that.
func (t *Transport) ConnectLocal(cameraIP, ucToken string, tlsConfig *tls.Config) error {
	url := fmt.Sprintf("wss://%s:442", cameraIP)
	header := http.Header{"Authorization": []string{"token " + ucToken}}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // camera uses a self-signed cert
	}
	return t.connect(url, header, KindLocal, tlsConfig)
}

// Send writes a binary frame. It fails with TransportError if not
// connected.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return NewTransportError("not connected")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return NewTransportError("send failed: %v", err)
	}
	return nil
}

// Close shuts down the connection and all background activity. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.gen++
	conn := t.conn
	t.conn = nil
	t.kind = KindNone
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.onConnectionChange(StateDisconnected, KindNone, nil)
	return nil
}

// connect performs one dial attempt and, on success, starts the receive
// and keepalive loops. It is used both for the initial connect and for
// the local-reachability probe's temporary connections.
func (t *Transport) connect(url string, header http.Header, kind Kind, tlsConfig *tls.Config) error {
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.url = url
	t.header = header
	t.tlsConfig = tlsConfig
	t.kind = kind
	t.closed = false
	t.gen++
	myGen := t.gen
	t.mu.Unlock()

	t.onConnectionChange(StateConnecting, kind, nil)

	conn, err := t.dial(url, header, tlsConfig)
	if err != nil {
		t.onConnectionChange(StateDisconnected, kind, err)
		return newConnectionError("%v", err)
	}

	t.mu.Lock()
	if t.gen != myGen {
		// A concurrent Close/connect raced us; drop this connection.
		t.mu.Unlock()
		_ = conn.Close()
		return newConnectionError("superseded by a later connect")
	}
	t.conn = conn
	t.attempts = 0
	t.mu.Unlock()

	go t.recvLoop(myGen, conn)
	go t.keepaliveLoop(myGen, conn)

	t.onConnectionChange(StateConnected, kind, nil)
	return nil
}

func (t *Transport) dial(url string, header http.Header, tlsConfig *tls.Config) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: t.dialTimeout,
		TLSClientConfig:  tlsConfig,
	}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * heartbeatInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeatInterval))
	return conn, nil
}

func (t *Transport) recvLoop(gen uint64, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Printf("read error: %v", err)
			break
		}
		if msgType == websocket.BinaryMessage {
			t.onMessage(data)
		}
		// Text frames and other payload types are ignored.
	}

	t.mu.Lock()
	stillCurrent := t.gen == gen
	explicitlyClosed := t.closed
	if stillCurrent {
		t.conn = nil
	}
	t.mu.Unlock()

	if !stillCurrent || explicitlyClosed {
		return
	}
	go t.reconnectLoop(gen)
}

func (t *Transport) keepaliveLoop(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			current := t.gen == gen && t.conn == conn
			t.mu.Unlock()
			if !current {
				return
			}
			if err := t.Send(proto.BuildKeepalive()); err != nil {
				t.logger.Printf("keepalive send failed: %v", err)
				return
			}
		case <-heartbeat.C:
			t.mu.Lock()
			current := t.gen == gen && t.conn == conn
			t.mu.Unlock()
			if !current {
				return
			}
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

// reconnectLoop retries with exponential backoff (golden-ratio factor),
// jittering only the first attempt.
func (t *Transport) reconnectLoop(gen uint64) {
	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	url, header, tlsConfig, kind := t.url, t.header, t.tlsConfig, t.kind
	t.mu.Unlock()

	backoff := backoffInitial
	jitter := time.Duration(rand.Float64() * float64(time.Second))

	for {
		t.mu.Lock()
		if t.closed || t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.attempts++
		attempt := t.attempts
		t.mu.Unlock()

		t.onConnectionChange(StateReconnecting, kind, nil)

		wait := backoff + jitter
		jitter = 0
		t.logger.Printf("reconnect attempt %d in %s", attempt, wait)
		time.Sleep(wait)

		t.mu.Lock()
		if t.closed || t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial(url, header, tlsConfig)
		if err != nil {
			t.logger.Printf("reconnect failed: %v", err)
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		t.mu.Lock()
		if t.closed || t.gen != gen {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.attempts = 0
		t.mu.Unlock()

		go t.recvLoop(gen, conn)
		go t.keepaliveLoop(gen, conn)
		t.onConnectionChange(StateConnected, kind, nil)
		return
	}
}
