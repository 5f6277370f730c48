package chatclient

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Option func(*Client)

func WithMessageStore(s MessageStore) Option {
	return func(c *Client) { c.store = s }
}

// WithSink adds an observer; it may be given several times.
func WithSink(s EventSink) Option {
	return func(c *Client) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
