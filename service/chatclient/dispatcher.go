package chatclient

import (
	"CharChat/tools/errs"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// frameHandler applies one inbound frame under the client lock. A returned
// message has been appended and still needs persisting.
type frameHandler func(c *Client, f *InboundFrame) (*Message, error)

type dispatcher struct {
	handlers map[FrameType]frameHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[FrameType]frameHandler)}
}

func (d *dispatcher) register(t FrameType, h frameHandler) { d.handlers[t] = h }

func (d *dispatcher) dispatch(c *Client, f *InboundFrame) (*Message, error) {
	if glog.V(2) {
		glog.Infof("chat=%s inbound type=%s user=%s", c.cfg.ChatID, f.Type, f.UserID)
	}
	h, ok := d.handlers[f.Type]
	if !ok {
		glog.Infof("no handler for type=%v", f.Type)
		c.log.Debug("ignoring unknown frame", zap.String("type", string(f.Type)))
		return nil, nil
	}
	return h(c, f)
}

func registerHandlers(d *dispatcher) {
	d.register(FrameMessage, handleMessage)
	d.register(FrameTypingStart, handleTyping(true))
	d.register(FrameTypingStop, handleTyping(false))
	d.register(FrameUserJoined, handlePresence(true))
	d.register(FrameUserLeft, handlePresence(false))
	d.register(FrameError, handleError)
}

func handleMessage(c *Client, f *InboundFrame) (*Message, error) {
	if f.ChatID != "" && f.ChatID != c.cfg.ChatID {
		c.log.Debug("message for another chat", zap.String("frameChatId", f.ChatID))
		return nil, nil
	}
	p, err := decodeMessagePayload(f.Data)
	if err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg("message payload", "err", err)
	}
	m := Message{
		ID:          p.ID,
		ChatID:      c.cfg.ChatID,
		CharacterID: p.CharacterID,
		Sender:      p.Sender,
		Content:     p.Content,
		Timestamp:   f.Timestamp.Or(c.now()),
		Type:        p.Type,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CharacterID == "" {
		m.CharacterID = c.cfg.CharacterID
	}
	c.appendLocked(m)
	if m.Sender == SenderAI {
		c.setRemoteTypingLocked(false)
	}
	return &m, nil
}

func handleTyping(on bool) frameHandler {
	return func(c *Client, f *InboundFrame) (*Message, error) {
		if uid := frameUserID(f); uid != "" && uid == c.userID {
			return nil, nil
		}
		c.setRemoteTypingLocked(on)
		return nil, nil
	}
}

func handlePresence(joined bool) frameHandler {
	return func(c *Client, f *InboundFrame) (*Message, error) {
		uid := frameUserID(f)
		if uid == "" {
			return nil, errs.ErrMalformedFrame.WrapMsg("presence frame without user", "type", f.Type)
		}
		_, present := c.online[uid]
		switch {
		case joined && !present:
			c.online[uid] = struct{}{}
		case !joined && present:
			delete(c.online, uid)
		default:
			return nil, nil
		}
		c.emitLocked(Event{Kind: EventPresence, UserID: uid, Joined: joined})
		return nil, nil
	}
}

func handleError(c *Client, f *InboundFrame) (*Message, error) {
	return nil, errs.ErrServer.WrapMsg(errorText(f.Data))
}
