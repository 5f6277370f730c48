package chatclient

import (
	"strings"

	"CharChat/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendMessage transmits content and appends an optimistic local copy. Empty
// content and a missing connection are rejected without touching the network;
// both also set the latest error.
func (c *Client) SendMessage(content string) (Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, errs.ErrClosed.Wrap()
	}
	if strings.TrimSpace(content) == "" {
		err := errs.ErrEmptyContent.Wrap()
		c.setErrLocked(err)
		c.mu.Unlock()
		return Message{}, err
	}
	if c.state != StateConnected || c.conn == nil {
		err := errs.ErrNotConnected.WrapMsg("cannot send message", "state", c.state)
		c.setErrLocked(err)
		c.mu.Unlock()
		return Message{}, err
	}

	m := Message{
		ID:          uuid.NewString(),
		ChatID:      c.cfg.ChatID,
		CharacterID: c.cfg.CharacterID,
		Sender:      SenderUser,
		Content:     content,
		Timestamp:   c.now(),
		Type:        MessageText,
	}
	payload := MessagePayload{
		ID:      m.ID,
		Content: m.Content,
		Sender:  m.Sender,
		Type:    m.Type,
	}
	if err := c.writeFrameLocked(FrameMessage, payload); err != nil {
		werr := errs.ErrAbnormalClosure.WrapMsg("send message", "err", err)
		c.log.Warn("send message failed", zap.Error(err))
		c.setErrLocked(werr)
		// the read loop sees the closed socket and runs the reconnect policy
		_ = c.conn.Close()
		c.mu.Unlock()
		return Message{}, werr
	}
	c.appendLocked(m)
	c.mu.Unlock()

	c.persist(m)
	return m, nil
}
