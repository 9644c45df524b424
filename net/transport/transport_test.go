package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type event struct {
	kind string
	data string
}

type chanHandler struct {
	conn   *Conn
	hello  string
	events chan event
	failOn string
}

func (h *chanHandler) Open() error {
	return h.conn.SendText(h.hello)
}

func (h *chanHandler) OnText(text string) error {
	h.events <- event{"text", text}
	return nil
}

func (h *chanHandler) OnBinary(data []byte) error {
	h.events <- event{"binary", string(data)}
	if string(data) == h.failOn {
		return errors.New("protocol error")
	}
	return nil
}

func (h *chanHandler) OnClose(error) {
	h.events <- event{kind: "close"}
}

func expect(t *testing.T, ch <-chan event, kind string, data string) {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.kind != kind || ev.data != data {
			t.Fatalf("got %s %q, want %s %q", ev.kind, ev.data, kind, data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s %q", kind, data)
	}
}

func startHub(t *testing.T, hello string, failOn string) (*Hub, chan event, string) {
	t.Helper()
	events := make(chan event, 16)
	hub := NewHub(func(c *Conn) Handler {
		return &chanHandler{conn: c, hello: hello, events: events, failOn: failOn}
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Serve(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, events, l.Addr().String()
}

func TestFrameExchange(t *testing.T) {
	_, serverEvents, addr := startHub(t, "server", "bad")

	clientEvents := make(chan event, 16)
	client := NewHub(func(c *Conn) Handler {
		return &chanHandler{conn: c, hello: "client", events: clientEvents}
	})

	conn, err := client.Dial(context.Background(), "ws://"+addr)
	if err != nil {
		t.Fatal(err)
	}
	if !conn.Outbound() {
		t.Fatal("dialed connection should be outbound")
	}

	// Both sides introduce themselves first.
	expect(t, serverEvents, "text", "client")
	expect(t, clientEvents, "text", "server")

	if err := conn.SendBinary([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	expect(t, serverEvents, "binary", "payload")

	// A handler error closes only that connection, and both sides observe it.
	if err := conn.SendBinary([]byte("bad")); err != nil {
		t.Fatal(err)
	}
	expect(t, serverEvents, "binary", "bad")
	expect(t, serverEvents, "close", "")
	expect(t, clientEvents, "close", "")

	if err := conn.SendBinary([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	hub := NewHub(func(c *Conn) Handler { return &chanHandler{conn: c, events: make(chan event, 4)} })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := hub.Dial(ctx, addr); err == nil {
		t.Fatal("expected dial to fail")
	}
}

func TestParseURL(t *testing.T) {
	for in, want := range map[string]string{
		"ws://localhost:3012": "ws://localhost:3012",
		"localhost:3013":      "ws://localhost:3013",
		"wss://example.org/p": "wss://example.org/p",
	} {
		got, err := ParseURL(in)
		if err != nil || got != want {
			t.Errorf("ParseURL(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"http://localhost:3012", "ws://"} {
		if _, err := ParseURL(in); err == nil {
			t.Errorf("ParseURL(%q): expected an error", in)
		}
	}
}
