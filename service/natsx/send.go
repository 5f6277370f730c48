package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *Client) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// sendJS waits for the stream ack; a duplicate Nats-Msg-Id is acked without
// being stored again.
func (c *Client) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) (*nats.PubAck, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	ack, err := js.PublishMsg(newMsg(subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("publish failed: %w", err)
	}
	return ack, nil
}
