package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

type echoArgs struct {
	Text string `cbor:"1,keyasint,omitempty"`
}

type echoReply struct {
	Text  string `cbor:"1,keyasint,omitempty"`
	Calls int    `cbor:"2,keyasint,omitempty"`
}

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(l)

	calls := 0
	err = Handle(srv, "Echo.Upper", func(req *echoArgs, res *echoReply) error {
		if req.Text == "" {
			return errors.New("nothing to echo")
		}
		calls++
		res.Text = strings.ToUpper(req.Text)
		res.Calls = calls
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := Handle(srv, "Echo.Upper", func(*echoArgs, *echoReply) error { return nil }); err == nil {
		t.Fatal("expected an error for a duplicate method")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	})
	return l.Addr().String()
}

func TestCall(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 1; i <= 2; i++ {
		res := &echoReply{}
		if err := c.Call(ctx, "Echo.Upper", &echoArgs{Text: "hi"}, res); err != nil {
			t.Fatal(err)
		}
		if res.Text != "HI" || res.Calls != i {
			t.Fatalf("unexpected reply %+v", res)
		}
	}

	// Errors from the handler and unknown methods leave the connection usable.
	var serr ServerError
	if err := c.Call(ctx, "Echo.Upper", &echoArgs{}, &echoReply{}); !errors.As(err, &serr) {
		t.Fatalf("expected a ServerError, got %v", err)
	}
	if err := c.Call(ctx, "Echo.Lower", &echoArgs{Text: "x"}, &echoReply{}); !errors.As(err, &serr) {
		t.Fatalf("expected a ServerError, got %v", err)
	}
	if err := c.Call(ctx, "Echo.Upper", &echoArgs{Text: "ok"}, &echoReply{}); err != nil {
		t.Fatalf("connection unusable after server errors: %v", err)
	}
}

func TestCallAfterClose(t *testing.T) {
	addr := startServer(t)
	c, err := Dial(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if err := c.Call(context.Background(), "Echo.Upper", &echoArgs{Text: "x"}, &echoReply{}); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
