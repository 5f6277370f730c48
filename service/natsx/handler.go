package natsx

import "context"

type Message struct {
	Subject string
	Reply   string
	Data    []byte
	Header  map[string]string
	// Respond answers a request; nil when the transport cannot reply.
	Respond func(data []byte) error
}

type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a Handler (logging, idempotency, ...).
type Middleware func(Handler) Handler

// Chain applies mws so that the first one runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
