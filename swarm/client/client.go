package client

import (
	"context"

	"vcmesh/net/control"
	"vcmesh/swarm/protocol"
)

// Client calls the control methods of a running node.
type Client struct {
	client *control.Client
}

func Dial(ctx context.Context, address string) (*Client, error) {
	c, err := control.Dial(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Status(ctx context.Context) (*protocol.StatusReply, error) {
	res := &protocol.StatusReply{}
	err := c.client.Call(ctx, "Node.Status", &protocol.StatusRequest{}, res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Send(ctx context.Context, text string) (*protocol.SendReply, error) {
	res := &protocol.SendReply{}
	err := c.client.Call(ctx, "Node.Send", &protocol.SendRequest{Text: text}, res)
	if err != nil {
		return nil, err
	}
	return res, nil
}
