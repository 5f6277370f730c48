package chatclient

import (
	"context"
)

// AuthStore supplies the credentials a connection is opened with.
type AuthStore interface {
	Credentials(ctx context.Context) (Credentials, error)
}

type AuthFunc func(ctx context.Context) (Credentials, error)

func (f AuthFunc) Credentials(ctx context.Context) (Credentials, error) { return f(ctx) }

// MessageStore is the application's message history. It receives every message
// the Client appends, after the append.
type MessageStore interface {
	Append(ctx context.Context, m Message) error
}

// EventSink observes state changes. Publish is called from a single goroutine,
// in the order the changes happened.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// ChanSink forwards events to a channel; Publish blocks until the receiver takes
// the event or ctx is done.
type ChanSink chan Event

func (s ChanSink) Publish(ctx context.Context, ev Event) error {
	select {
	case s <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
