package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

// Update intervals for connected clients.
const (
	LevelsInterval = 100 * time.Millisecond  // 10 fps for voice meters
	StatusInterval = 3000 * time.Millisecond // Status updates every 3s
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	// Loopback and private networks cover studio LAN setups
	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Client pushes status and levels to one WebSocket connection and runs the
// commands it sends.
type Client struct {
	conn     WebSocketConn
	commands *CommandHandler
	status   func() types.WSStatusResponse
	levels   func() types.VoiceLevels

	levelsInterval time.Duration
	statusInterval time.Duration
}

// NewClient creates a client for conn. status and levels build the periodic
// messages.
func NewClient(conn WebSocketConn, commands *CommandHandler, status func() types.WSStatusResponse, levels func() types.VoiceLevels) *Client {
	return &Client{
		conn:           conn,
		commands:       commands,
		status:         status,
		levels:         levels,
		levelsInterval: LevelsInterval,
		statusInterval: StatusInterval,
	}
}

// Run serves the connection until the client disconnects. The connection is
// closed when Run returns.
func (c *Client) Run() {
	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		c.runWriter(send)
	}()
	go c.runReader(send, done, statusUpdate)

	c.runEventLoop(send, done, statusUpdate)
	<-writerDone
}

// runWriter writes messages from the send channel to the connection. After a
// write error the connection is closed, which ends the reader, and the
// channel is drained until the event loop closes it.
func (c *Client) runWriter(send <-chan any) {
	for msg := range send {
		if err := c.conn.WriteJSON(msg); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			break
		}
	}
	if err := c.conn.Close(); err != nil {
		slog.Debug("WebSocket close error", "error", err)
	}
	for range send {
	}
}

// runReader reads commands from the connection and dispatches them.
func (c *Client) runReader(send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd WSCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		c.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runEventLoop sends periodic status and level updates until the reader stops.
func (c *Client) runEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(c.levelsInterval)
	statusTicker := time.NewTicker(c.statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()
	defer close(send)

	// push attempts to send a message, returning false if done is closed
	push := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !push(c.status()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = c.status()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: c.levels()}
		case <-statusTicker.C:
			msg = c.status()
		}
		if !push(msg) {
			return
		}
	}
}
