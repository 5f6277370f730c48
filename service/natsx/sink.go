package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"CharChat/service/chatclient"
	"CharChat/tools/ids"
)

// EventSink publishes client events on <prefix>.<chatId>.<kind>.
type EventSink struct {
	c         *Client
	prefix    string
	jetStream bool

	Retries int
	Backoff time.Duration
}

func NewEventSink(c *Client, prefix string, jetStream bool) *EventSink {
	if prefix == "" {
		prefix = "charchat"
	}
	return &EventSink{c: c, prefix: prefix, jetStream: jetStream, Retries: 2, Backoff: 200 * time.Millisecond}
}

func EventSubject(prefix, chatID string, kind chatclient.EventKind) string {
	return strings.Join([]string{prefix, subjectToken(chatID), string(kind)}, ".")
}

// subjectToken keeps a chat id from adding subject levels or wildcards.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// eventMsgID is stable for message events so a republished message dedups
// on JetStream; other events get a fresh id.
func eventMsgID(ev chatclient.Event) string {
	if ev.Kind == chatclient.EventMessage && ev.Message != nil {
		return "msg-" + ev.Message.ID
	}
	return string(ev.Kind) + "-" + ids.GenerateString()
}

func (s *EventSink) Publish(ctx context.Context, ev chatclient.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := EventSubject(s.prefix, ev.ChatID, ev.Kind)
	hdr := map[string]string{
		"Nats-Msg-Id": eventMsgID(ev),
		"Chat-Id":     ev.ChatID,
		"Event-Kind":  string(ev.Kind),
	}
	for i := 0; ; i++ {
		if s.jetStream {
			_, err = s.c.sendJS(ctx, subject, data, hdr)
		} else {
			err = s.c.sendCore(subject, data, hdr)
		}
		if err == nil || i >= s.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Backoff):
		}
	}
}
