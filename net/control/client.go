package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// Client issues one call at a time over a single connection.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex // serializes calls and protects the fields below
	seq     uint64
	enc     *cbor.Encoder
	dec     *cbor.Decoder
	closing bool
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		enc:  cbor.NewEncoder(conn),
		dec:  cbor.NewDecoder(conn),
	}
}

// Dial connects to a control server at the specified network address.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Call invokes method, waits for the reply and decodes it into reply. A ctx deadline
// bounds the whole exchange; on any transport error the client is unusable.
func (c *Client) Call(ctx context.Context, method string, args any, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrShutdown
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	c.seq++
	seq := c.seq
	if err := c.enc.Encode(&RequestHeader{Seq: seq, Method: method}); err != nil {
		return c.fail(ctx, err)
	}
	if err := c.enc.Encode(args); err != nil {
		return c.fail(ctx, err)
	}

	res := &ResponseHeader{}
	if err := c.dec.Decode(res); err != nil {
		return c.fail(ctx, err)
	}
	if res.Seq != seq {
		return c.fail(ctx, fmt.Errorf("control: reply for sequence %d, expected %d", res.Seq, seq))
	}
	if res.Err != "" {
		return ServerError(res.Err)
	}
	if err := c.dec.Decode(reply); err != nil {
		return c.fail(ctx, err)
	}
	return nil
}

// fail closes the connection: after a partial exchange the stream cannot be resynchronized.
func (c *Client) fail(ctx context.Context, err error) error {
	c.closing = true
	c.conn.Close()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrShutdown
	}
	c.closing = true
	return c.conn.Close()
}
