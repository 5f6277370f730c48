package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsServer is a scripted chat endpoint: it records every dial and every frame
// the client writes, and lets a test push frames or kill connections.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	wmu        sync.Mutex
	dials      int
	refuse     bool
	silent     int // next connections that are never read, so pings go unanswered
	quit       chan struct{}
	conns      []*websocket.Conn
	open       int
	maxOpen    int
	frames     []OutboundFrame
	queries    []url.Values
	closeCodes []int
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{quit: make(chan struct{})}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.quit)
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.srv.Close()
	})
	return s
}

func (s *wsServer) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws" }

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	s.queries = append(s.queries, r.URL.Query())
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	silent := s.silent > 0
	if silent {
		s.silent--
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if silent {
		<-s.quit
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				s.mu.Lock()
				s.closeCodes = append(s.closeCodes, ce.Code)
				s.mu.Unlock()
			}
			return
		}
		var f OutboundFrame
		if json.Unmarshal(raw, &f) == nil {
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()
		}
	}
}

func (s *wsServer) last() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) sendRaw(t *testing.T, raw string) {
	t.Helper()
	conn := s.last()
	require.NotNil(t, conn, "no server side connection")
	s.wmu.Lock()
	defer s.wmu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (s *wsServer) send(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	s.sendRaw(t, string(b))
}

// drop kills the TCP connection without a close frame (1006 on the client).
func (s *wsServer) drop() {
	if conn := s.last(); conn != nil {
		_ = conn.UnderlyingConn().Close()
	}
}

func (s *wsServer) closeNormal(t *testing.T) {
	t.Helper()
	conn := s.last()
	require.NotNil(t, conn)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))
}

func (s *wsServer) setSilent(n int) {
	s.mu.Lock()
	s.silent = n
	s.mu.Unlock()
}

func (s *wsServer) setRefuse(v bool) {
	s.mu.Lock()
	s.refuse = v
	s.mu.Unlock()
}

func (s *wsServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *wsServer) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *wsServer) count(t FrameType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Type == t {
			n++
		}
	}
	return n
}

func (s *wsServer) framesOf(t FrameType) []OutboundFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboundFrame
	for _, f := range s.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.ChatID = "c1"
	cfg.CharacterID = "char-1"
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectInterval = 30 * time.Millisecond
	cfg.ManualReconnectDelay = 10 * time.Millisecond
	cfg.TypingTimeout = 80 * time.Millisecond
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.PingInterval = 0
	return cfg
}

func staticAuth(userID, token string) AuthStore {
	return AuthFunc(func(context.Context) (Credentials, error) {
		return Credentials{UserID: userID, Token: token}, nil
	})
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c, err := New(cfg, staticAuth("u1", "tok"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func connected(t *testing.T, s *wsServer, c *Client) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.IsConnected() && s.last() != nil }, waitFor, tick)
	// the join frame is written before the state flips, wait until the server has read it
	require.Eventually(t, func() bool { return s.count(FrameJoin) >= 1 }, waitFor, tick)
}

type recordingStore struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recordingStore) Append(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingStore) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// errorSink keeps the text of every error event.
type errorSink struct {
	mu   sync.Mutex
	errs []string
}

func (e *errorSink) Publish(_ context.Context, ev Event) error {
	if ev.Kind != EventError || ev.Error == "" {
		return nil
	}
	e.mu.Lock()
	e.errs = append(e.errs, ev.Error)
	e.mu.Unlock()
	return nil
}

func (e *errorSink) has(prefix string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.errs {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// gateSink holds the dispatcher inside Publish until release is closed.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu  sync.Mutex
	got []Event
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSink) Publish(ctx context.Context, ev Event) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.got = append(g.got, ev)
	g.mu.Unlock()
	return nil
}

func (g *gateSink) events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Event(nil), g.got...)
}
