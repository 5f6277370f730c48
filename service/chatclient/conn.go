package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"CharChat/tools/errs"
	"CharChat/tools/ids"
	"CharChat/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const credentialsTimeout = 10 * time.Second

// Connect opens the connection. It is a no-op while connecting or connected.
// A failed dial is reported and handed to the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, 0)
}

// Disconnect sends a best-effort leave, closes with a normal closure and
// cancels every pending timer. Calling it again does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Reconnect drops the current connection, resets the retry counter and
// connects again after ManualReconnectDelay.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.disconnectLocked()
	c.attempts = 0
	c.armReconnectLocked(c.cfg.ManualReconnectDelay)
}

// connect dials once. timerGen is the generation a reconnect timer was armed
// under, 0 for caller initiated connects; generations start at 1.
func (c *Client) connect(ctx context.Context, timerGen uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	creds, credErr := c.credentials(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed.Wrap()
	}
	if timerGen != 0 && timerGen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if timerGen == 0 && (c.state == StateConnecting || c.state == StateConnected) {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectTimerLocked()
	if credErr != nil || !creds.Complete() {
		err := errs.ErrMissingCredentials.WrapMsg("user id or token is empty")
		if credErr != nil {
			err = errs.ErrMissingCredentials.WrapMsg(credErr.Error())
		}
		c.setErrLocked(err)
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	c.gen++
	gen := c.gen
	c.userID = creds.UserID
	c.connID = ids.ConnID()
	connID := c.connID
	c.setStateLocked(StateConnecting)
	endpoint := c.cfg.endpoint(creds.Token)
	c.mu.Unlock()

	c.log.Debug("dialing", zap.String("connId", connID), zap.Uint64("gen", gen))
	conn, resp, dialErr := c.dialer.DialContext(ctx, endpoint, nil)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		// superseded while dialing
		if conn != nil {
			_ = conn.Close()
		}
		if c.closed {
			return errs.ErrClosed.Wrap()
		}
		return nil
	}
	if dialErr != nil {
		err := errs.ErrConnectFailed.WrapMsg(dialErr.Error())
		if status != 0 && status != http.StatusSwitchingProtocols {
			err = errs.ErrConnectFailed.WrapMsg(dialErr.Error(), "status", status)
		}
		c.log.Warn("dial failed", zap.String("connId", connID), zap.Int("status", status), zap.Error(dialErr))
		c.dropLocked(err)
		return err
	}

	c.conn = conn
	c.attempts = 0
	c.clearErrLocked()
	conn.SetReadLimit(c.cfg.MaxFrameBytes)
	done := make(chan struct{})
	if c.cfg.PingInterval > 0 {
		readWait := 2 * c.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		safe.Go("chatclient.keepalive", func() { c.keepalive(conn, gen, done) })
	}
	if err := c.writeFrameLocked(FrameJoin, nil); err != nil {
		c.log.Warn("send join failed", zap.String("connId", connID), zap.Error(err))
	}
	c.setStateLocked(StateConnected)
	c.log.Info("connected", zap.String("connId", connID), zap.String("userId", c.userID))
	safe.Go("chatclient.read", func() { c.readLoop(conn, gen, done) })
	return nil
}

func (c *Client) credentials(ctx context.Context) (Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, credentialsTimeout)
	defer cancel()
	return c.auth.Credentials(ctx)
}

func (c *Client) retry(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout+credentialsTimeout)
	defer cancel()
	if err := c.connect(ctx, gen); err != nil {
		c.log.Debug("reconnect attempt failed", zap.Uint64("gen", gen), zap.Error(err))
	}
}

func (c *Client) armReconnectLocked(after time.Duration) {
	c.stopReconnectTimerLocked()
	gen := c.gen
	c.reconnectTimer = time.AfterFunc(after, func() { c.retry(gen) })
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// dropLocked handles a lost or never established connection: the fixed
// interval retry while attempts remain, disconnected otherwise.
func (c *Client) dropLocked(cause error) {
	c.conn = nil
	c.resetTypingLocked()
	c.setErrLocked(cause)

	if c.cfg.AutoReconnect && c.attempts < c.cfg.MaxReconnectAttempts {
		c.attempts++
		c.setStateLocked(StateReconnecting)
		c.armReconnectLocked(c.cfg.ReconnectInterval)
		c.log.Info("reconnect scheduled",
			zap.Int("attempt", c.attempts),
			zap.Int("max", c.cfg.MaxReconnectAttempts),
			zap.Duration("in", c.cfg.ReconnectInterval))
		return
	}
	if c.cfg.AutoReconnect {
		c.setErrLocked(errs.ErrMaxReconnectAttempts.WrapMsg(errorString(cause), "attempts", c.attempts))
		c.log.Warn("giving up reconnecting", zap.Int("attempts", c.attempts))
	}
	c.setStateLocked(StateDisconnected)
}

func (c *Client) disconnectLocked() {
	c.stopReconnectTimerLocked()
	c.stopTypingLocked()
	c.setRemoteTypingLocked(false)
	c.gen++
	if conn := c.conn; conn != nil {
		if err := c.writeFrameLocked(FrameLeave, nil); err != nil {
			c.log.Debug("send leave failed", zap.Error(err))
		}
		c.conn = nil
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait))
		c.writeMu.Unlock()
		_ = conn.Close()
		c.log.Info("disconnected", zap.String("connId", c.connID))
	}
	c.setStateLocked(StateDisconnected)
}

// currentLocked reports whether conn is still the live connection of gen.
func (c *Client) currentLocked(conn *websocket.Conn, gen uint64) bool {
	return !c.closed && c.gen == gen && c.conn == conn
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onConnError(conn, gen, err)
			return
		}
		c.handleRaw(conn, gen, raw)
	}
}

func (c *Client) onConnError(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer conn.Close()
	if !c.currentLocked(conn, gen) {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.log.Info("server closed the connection", zap.String("connId", c.connID))
		c.conn = nil
		c.resetTypingLocked()
		c.setStateLocked(StateDisconnected)
		return
	}
	c.log.Warn("connection lost", zap.String("connId", c.connID), zap.Error(err))
	c.dropLocked(errs.ErrAbnormalClosure.WrapMsg(err.Error()))
}

func (c *Client) keepalive(conn *websocket.Conn, gen uint64, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.onConnError(conn, gen, err)
				return
			}
		}
	}
}

func (c *Client) handleRaw(conn *websocket.Conn, gen uint64, raw []byte) {
	frame, perr := ParseFrame(raw)

	c.mu.Lock()
	if !c.currentLocked(conn, gen) {
		c.mu.Unlock()
		return
	}
	if perr != nil {
		c.log.Warn("malformed frame", zap.Error(perr), zap.Int("bytes", len(raw)))
		c.setErrLocked(errs.ErrMalformedFrame.WrapMsg(perr.Error()))
		c.mu.Unlock()
		return
	}
	msg, err := c.inbound.dispatch(c, frame)
	if err != nil {
		c.log.Warn("handle frame failed", zap.String("type", string(frame.Type)), zap.Error(err))
		c.setErrLocked(err)
	}
	c.mu.Unlock()

	if msg != nil {
		c.persist(*msg)
	}
}

// writeFrameLocked sends one frame on the live connection.
func (c *Client) writeFrameLocked(t FrameType, data any) error {
	if c.conn == nil {
		return errs.ErrNotConnected.Wrap()
	}
	b, err := json.Marshal(OutboundFrame{
		Type:      t,
		ChatID:    c.cfg.ChatID,
		UserID:    c.userID,
		Data:      data,
		Timestamp: c.now(),
	})
	if err != nil {
		return errs.Wrap(err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return errs.Wrap(c.conn.WriteMessage(websocket.TextMessage, b))
}
