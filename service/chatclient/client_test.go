package chatclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"CharChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	auth := staticAuth("u1", "tok")

	cfg := testConfig("ws://localhost:1/ws")
	cfg.ChatID = " "
	_, err := New(cfg, auth)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))

	cfg = testConfig("http://localhost:1/ws")
	_, err = New(cfg, auth)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))

	_, err = New(testConfig("ws://localhost:1/ws"), nil)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))
}

func TestEndpointKeepsBaseQuery(t *testing.T) {
	cfg := testConfig("wss://chat.example.com/ws?v=2")
	got := cfg.endpoint("t k")
	assert.Contains(t, got, "v=2")
	assert.Contains(t, got, "token=t+k")
	assert.Contains(t, got, "chatId=c1")
	assert.Contains(t, got, "characterId=char-1")

	cfg.CharacterID = ""
	assert.NotContains(t, cfg.endpoint("x"), "characterId")
}

func TestConnectSendsJoinAndCredentials(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.mu.Lock()
	q := s.queries[0]
	s.mu.Unlock()
	assert.Equal(t, "tok", q.Get("token"))
	assert.Equal(t, "c1", q.Get("chatId"))
	assert.Equal(t, "char-1", q.Get("characterId"))

	join := s.framesOf(FrameJoin)[0]
	assert.Equal(t, "u1", join.UserID)
	assert.Equal(t, "c1", join.ChatID)

	// already open: no second socket
	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
	assert.Equal(t, StateConnected, c.State())
}

func TestConnectWithoutCredentials(t *testing.T) {
	s := newWSServer(t)
	c, err := New(testConfig(s.url()), staticAuth("", ""))
	require.NoError(t, err)
	defer c.Close()

	err = c.Connect(context.Background())
	assert.True(t, errors.Is(err, errs.ErrMissingCredentials))
	assert.Equal(t, StateDisconnected, c.State())
	assert.NotEmpty(t, c.LastError())
	assert.Equal(t, 0, s.dialCount())
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	for _, content := range []string{"", "   ", "\n\t"} {
		c.ClearError()
		_, err := c.SendMessage(content)
		assert.True(t, errors.Is(err, errs.ErrEmptyContent), "content %q", content)
		assert.NotEmpty(t, c.LastError(), "content %q", content)
	}
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, s.count(FrameMessage))
	assert.Empty(t, c.Messages())
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))

	_, err := c.SendMessage("hello")
	assert.True(t, errors.Is(err, errs.ErrNotConnected))
	assert.Contains(t, c.LastError(), "not connected")
	assert.Empty(t, c.Messages())
	assert.Equal(t, 0, s.dialCount())

	c.ClearError()
	assert.Empty(t, c.LastError())
	assert.NoError(t, c.Err())
}

func TestSendMessageAppendsOptimisticCopy(t *testing.T) {
	s := newWSServer(t)
	store := &recordingStore{}
	c := newTestClient(t, testConfig(s.url()), WithMessageStore(store))
	connected(t, s, c)

	m, err := c.SendMessage("hello")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, SenderUser, m.Sender)
	assert.Equal(t, "char-1", m.CharacterID)

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, m, msgs[0])
	assert.Equal(t, 1, store.len())

	require.Eventually(t, func() bool { return s.count(FrameMessage) == 1 }, waitFor, tick)
	f := s.framesOf(FrameMessage)[0]
	data, ok := f.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, "user", data["sender"])
	assert.Equal(t, "text", data["type"])
	assert.Equal(t, "u1", f.UserID)
}

func TestInboundMessageForOwnChat(t *testing.T) {
	s := newWSServer(t)
	store := &recordingStore{}
	c := newTestClient(t, testConfig(s.url()), WithMessageStore(store))
	connected(t, s, c)

	s.send(t, map[string]any{"type": "message", "chatId": "c1", "data": map[string]any{"content": "hi", "sender": "ai"}})
	s.send(t, map[string]any{"type": "message", "chatId": "c2", "data": map[string]any{"content": "elsewhere", "sender": "ai"}})
	// no chatId on the frame is accepted
	s.send(t, map[string]any{"type": "message", "data": map[string]any{"content": "marker"}, "timestamp": 1700000000000})

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, waitFor, tick)
	msgs := c.Messages()
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, SenderAI, msgs[0].Sender)
	assert.Equal(t, "c1", msgs[0].ChatID)
	assert.Equal(t, "marker", msgs[1].Content)
	assert.Equal(t, SenderAI, msgs[1].Sender, "sender defaults to ai")
	assert.Equal(t, int64(1700000000000), msgs[1].Timestamp.UnixMilli())
	assert.Empty(t, c.LastError())
	require.Eventually(t, func() bool { return store.len() == 2 }, waitFor, tick)
}

func TestPresence(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.send(t, map[string]any{"type": "user_joined", "userId": "u2"})
	s.send(t, map[string]any{"type": "user_joined", "data": map[string]any{"userId": "u3"}})
	s.send(t, map[string]any{"type": "user_left", "userId": "u9"})
	require.Eventually(t, func() bool { return len(c.OnlineUsers()) == 2 }, waitFor, tick)

	s.send(t, map[string]any{"type": "user_left", "userId": "u2"})
	require.Eventually(t, func() bool { return len(c.OnlineUsers()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"u3"}, c.OnlineUsers())
	assert.Empty(t, c.LastError(), "leaving twice or unknown users is not an error")
}

func TestRemoteTyping(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	// our own echo does not count
	s.send(t, map[string]any{"type": "typing_start", "userId": "u1"})
	s.send(t, map[string]any{"type": "user_joined", "userId": "sync"})
	require.Eventually(t, func() bool { return len(c.OnlineUsers()) == 1 }, waitFor, tick)
	assert.False(t, c.RemoteTyping())

	s.send(t, map[string]any{"type": "typing_start", "userId": "ai-1"})
	require.Eventually(t, c.RemoteTyping, waitFor, tick)
	// idle timeout clears it
	require.Eventually(t, func() bool { return !c.RemoteTyping() }, waitFor, tick)

	s.send(t, map[string]any{"type": "typing_start", "userId": "ai-1"})
	require.Eventually(t, c.RemoteTyping, waitFor, tick)
	s.send(t, map[string]any{"type": "message", "chatId": "c1", "data": map[string]any{"content": "done", "sender": "ai"}})
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, waitFor, tick)
	assert.False(t, c.RemoteTyping(), "an ai message ends remote typing")
}

func TestTypingDebounce(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	for i := 0; i < 5; i++ {
		c.StartTyping()
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, c.LocalTyping())
	require.Eventually(t, func() bool { return !c.LocalTyping() }, waitFor, tick)

	c.StopTyping()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, s.count(FrameTypingStart))
	assert.Equal(t, 1, s.count(FrameTypingStop))

	// explicit stop cancels the idle timer: still one stop per session
	c.StartTyping()
	c.StopTyping()
	c.StopTyping()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 2, s.count(FrameTypingStart))
	assert.Equal(t, 2, s.count(FrameTypingStop))
}

func TestStartTypingWhileDisconnected(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	c.StartTyping()
	assert.False(t, c.LocalTyping())
	c.StopTyping()
	assert.Equal(t, 0, s.dialCount())
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.sendRaw(t, "{not json")
	require.Eventually(t, func() bool { return c.LastError() != "" }, waitFor, tick)
	assert.True(t, errors.Is(c.Err(), errs.ErrMalformedFrame))
	assert.True(t, c.IsConnected())

	s.sendRaw(t, `{"type":"something_new","data":{}}`)
	s.send(t, map[string]any{"type": "message", "chatId": "c1", "data": map[string]any{"content": "still here"}})
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, 1, s.dialCount())
}

func TestErrorFrame(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.send(t, map[string]any{"type": "error", "data": map[string]any{"message": "rate limited"}})
	require.Eventually(t, func() bool { return c.LastError() != "" }, waitFor, tick)
	assert.Contains(t, c.LastError(), "rate limited")
	assert.True(t, c.IsConnected())

	c.ClearError()
	assert.Empty(t, c.LastError())
}

func TestReconnectAfterAbnormalClosure(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.drop()
	require.Eventually(t, func() bool { return s.dialCount() == 2 && c.IsConnected() }, waitFor, tick)
	assert.Equal(t, 0, c.ReconnectAttempts(), "a successful open resets the counter")
	assert.Empty(t, c.LastError(), "a successful open clears the error")
}

func TestKeepaliveDetectsSilentPeer(t *testing.T) {
	s := newWSServer(t)
	s.setSilent(1)
	cfg := testConfig(s.url())
	cfg.PingInterval = 50 * time.Millisecond
	sink := &errorSink{}
	c := newTestClient(t, cfg, WithSink(sink))

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return s.dialCount() == 2 && c.IsConnected()
	}, waitFor, tick, "no pong within the read deadline must drop and redial")
	require.Eventually(t, func() bool {
		return sink.has(errs.ErrAbnormalClosure.Msg)
	}, waitFor, tick)

	// the second peer answers pings, so the connection stays up
	time.Sleep(300 * time.Millisecond)
	assert.True(t, c.IsConnected())
	assert.Equal(t, 2, s.dialCount())
	assert.Equal(t, 0, c.ReconnectAttempts())
}

func TestMaxReconnectAttempts(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.setRefuse(true)
	s.drop()
	require.Eventually(t, func() bool {
		return s.dialCount() == 4 && c.State() == StateDisconnected
	}, waitFor, tick)
	assert.True(t, errors.Is(c.Err(), errs.ErrMaxReconnectAttempts))
	assert.Equal(t, 3, c.ReconnectAttempts())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 4, s.dialCount(), "no retries after the limit")
	assert.Equal(t, StateDisconnected, c.State())

	s.setRefuse(false)
	c.Reconnect()
	require.Eventually(t, c.IsConnected, waitFor, tick)
	assert.Equal(t, 5, s.dialCount())
	assert.Equal(t, 0, c.ReconnectAttempts())
}

func TestAutoReconnectDisabled(t *testing.T) {
	s := newWSServer(t)
	cfg := testConfig(s.url())
	cfg.AutoReconnect = false
	c := newTestClient(t, cfg)
	connected(t, s, c)

	s.drop()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, waitFor, tick)
	assert.True(t, errors.Is(c.Err(), errs.ErrAbnormalClosure))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
}

func TestNormalClosureDoesNotRetry(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	s.closeNormal(t)
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	require.Eventually(t, func() bool { return s.openCount() == 0 }, waitFor, tick)
	assert.Equal(t, 1, s.count(FrameLeave))
	s.mu.Lock()
	assert.Equal(t, []int{1000}, s.closeCodes)
	s.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	s := newWSServer(t)
	cfg := testConfig(s.url())
	cfg.ReconnectInterval = 80 * time.Millisecond
	c := newTestClient(t, cfg)
	connected(t, s, c)

	s.drop()
	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, waitFor, tick)
	c.Disconnect()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReconnectKeepsOneSocket(t *testing.T) {
	s := newWSServer(t)
	cfg := testConfig(s.url())
	cfg.ManualReconnectDelay = 50 * time.Millisecond
	c := newTestClient(t, cfg)
	connected(t, s, c)

	c.Reconnect()
	c.Reconnect()
	require.Eventually(t, func() bool { return c.IsConnected() && s.dialCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.openCount() == 1 }, waitFor, tick)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 1, s.maxOpen)
}

func TestEventsReachSinksInOrder(t *testing.T) {
	s := newWSServer(t)
	events := make(ChanSink, 64)
	c := newTestClient(t, testConfig(s.url()), WithSink(events))
	connected(t, s, c)
	_, err := c.SendMessage("hello")
	require.NoError(t, err)
	c.Disconnect()

	var got []Event
	timeout := time.After(waitFor)
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("got %d events", len(got))
		}
	}
	assert.Equal(t, StateConnecting, got[0].State)
	assert.Equal(t, StateConnected, got[1].State)
	assert.Equal(t, EventMessage, got[2].Kind)
	assert.Equal(t, "hello", got[2].Message.Content)
	assert.Equal(t, StateDisconnected, got[3].State)
	for _, ev := range got {
		assert.Equal(t, "c1", ev.ChatID)
	}
}

func TestDroppedPresenceIsResynced(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/ws")
	cfg.EventBuffer = 1
	gate := newGateSink()
	c := newTestClient(t, cfg, WithSink(gate))

	c.mu.Lock()
	c.emitLocked(Event{Kind: EventState, State: StateConnecting})
	c.mu.Unlock()
	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("dispatcher never reached the sink")
	}

	c.mu.Lock()
	c.emitLocked(Event{Kind: EventState, State: StateDisconnected}) // fills the queue
	c.online["u2"] = struct{}{}
	c.emitLocked(Event{Kind: EventPresence, UserID: "u2", Joined: true})
	stale := c.presenceStale
	c.mu.Unlock()
	require.True(t, stale, "a dropped presence event marks the set stale")

	close(gate.release)
	require.Eventually(t, func() bool { return len(gate.events()) == 2 }, waitFor, tick)

	c.mu.Lock()
	c.online["u3"] = struct{}{}
	c.emitLocked(Event{Kind: EventPresence, UserID: "u3", Joined: true})
	stale = c.presenceStale
	c.mu.Unlock()
	assert.False(t, stale)

	require.Eventually(t, func() bool { return len(gate.events()) == 3 }, waitFor, tick)
	last := gate.events()[2]
	assert.Equal(t, EventPresence, last.Kind)
	assert.True(t, last.Sync)
	assert.Equal(t, []string{"u2", "u3"}, last.Online)
	assert.Equal(t, "c1", last.ChatID)
}

func TestClose(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())

	_, err := c.SendMessage("late")
	assert.True(t, errors.Is(err, errs.ErrClosed))
	assert.True(t, errors.Is(c.Connect(context.Background()), errs.ErrClosed))
	c.Reconnect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, s.dialCount())
}

func TestSnapshot(t *testing.T) {
	s := newWSServer(t)
	c := newTestClient(t, testConfig(s.url()))
	connected(t, s, c)
	_, err := c.SendMessage("one")
	require.NoError(t, err)
	s.send(t, map[string]any{"type": "user_joined", "userId": "u2"})
	require.Eventually(t, func() bool { return len(c.OnlineUsers()) == 1 }, waitFor, tick)

	snap := c.Snapshot()
	assert.Equal(t, "c1", snap.ChatID)
	assert.True(t, snap.Connected)
	assert.Len(t, snap.Messages, 1)
	assert.Equal(t, []string{"u2"}, snap.OnlineUsers)
	assert.Empty(t, snap.Error)
}
