// Package transport carries text and binary frames between peers over WebSocket.
// Every connection, dialed or accepted, gets its own Handler and read goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"
)

const (
	maxFrameSize = 1 << 20
	writeTimeout = 10 * time.Second
)

var ErrClosed = errors.New("connection closed")

// Handler receives the events of one connection. Returning an error from any method
// closes that connection only.
type Handler interface {
	Open() error
	OnText(text string) error
	OnBinary(data []byte) error
	OnClose(err error)
}

// Factory builds the Handler for a freshly established connection.
type Factory func(c *Conn) Handler

type Conn struct {
	ws       *websocket.Conn
	remote   string
	outbound bool

	wmu    sync.Mutex // gorilla allows one concurrent writer
	closed bool
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Outbound reports whether this side dialed the connection.
func (c *Conn) Outbound() bool {
	return c.outbound
}

func (c *Conn) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(kind int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(kind, data)
}

// Close sends a close frame and tears the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

type Hub struct {
	factory  Factory
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub(factory Factory) *Hub {
	return &Hub{
		factory: factory,
		upgrader: websocket.Upgrader{
			// Peers are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[*Conn]struct{}),
	}
}

// Listen serves peer connections on addr until ctx is cancelled.
func (h *Hub) Listen(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, l)
}

// Serve accepts peer connections on l until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Closing the server unblocks Serve below; upgraded connections are not tracked by
	// net/http and are closed separately.
	go func() {
		<-ctx.Done()
		log.Infof("transport.Hub: context cancelled, shutting down listener %s", l.Addr())
		if err := srv.Close(); err != nil {
			log.Warnf("transport.Hub: error closing listener %s: %v", l.Addr(), err)
		}
		h.closeAll()
	}()

	log.Infof("transport.Hub: listening on %s", l.Addr())
	err := srv.Serve(l)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		log.Warnf("transport.Hub: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	log.Infof("transport.Hub: accepted connection from %s", r.RemoteAddr)
	h.run(&Conn{ws: ws, remote: r.RemoteAddr})
}

// Dial connects to a peer URL such as ws://localhost:3012. A bare host:port is accepted too.
// The connection's read loop runs in its own goroutine.
func (h *Hub) Dial(ctx context.Context, rawURL string) (*Conn, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	ws, _, err := h.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	log.Infof("transport.Hub: connected to %s", target)

	c := &Conn{ws: ws, remote: ws.RemoteAddr().String(), outbound: true}
	go h.run(c)
	return c, nil
}

// ParseURL normalizes a dial target to a ws:// or wss:// URL.
func ParseURL(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "ws://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid peer URL %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid peer URL %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid peer URL %q: missing host", rawURL)
	}
	return u.String(), nil
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// run drives one connection until it closes.
func (h *Hub) run(c *Conn) {
	h.track(c)
	defer h.untrack(c)

	c.ws.SetReadLimit(maxFrameSize)
	handler := h.factory(c)

	err := handler.Open()
	for err == nil {
		var kind int
		var data []byte
		kind, data, err = c.ws.ReadMessage()
		if err != nil {
			break
		}
		switch kind {
		case websocket.TextMessage:
			err = handler.OnText(string(data))
		case websocket.BinaryMessage:
			err = handler.OnBinary(data)
		}
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debugf("transport.Hub: %s closed by peer", c.remote)
	} else if !errors.Is(err, net.ErrClosed) {
		log.Debugf("transport.Hub: %s: %v", c.remote, err)
	}
	_ = c.Close()
	handler.OnClose(err)
}
