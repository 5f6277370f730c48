package natsx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CharChat/logger"
	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Commander is the part of the chat client that can be driven remotely.
type Commander interface {
	Connect(ctx context.Context) error
	Disconnect()
	Reconnect()
	SendMessage(content string) (chatclient.Message, error)
	StartTyping()
	StopTyping()
	ClearError()
}

type Command struct {
	Action  string `json:"action"` // send|typing_start|typing_stop|connect|disconnect|reconnect|clear_error
	Content string `json:"content,omitempty"`
}

type CommandReply struct {
	OK        bool                `json:"ok"`
	Duplicate bool                `json:"duplicate,omitempty"`
	Code      int                 `json:"code,omitempty"`
	Error     string              `json:"error,omitempty"`
	Message   *chatclient.Message `json:"message,omitempty"`
}

func CommandSubject(prefix, chatID string) string {
	return prefix + "." + subjectToken(chatID) + ".commands"
}

// ServeCommands subscribes to the chat's command subject (in queue group queue
// when set) and applies each command to cmd. Requests carrying a reply
// subject get a CommandReply.
func (c *Client) ServeCommands(prefix, chatID, queue string, cmd Commander, mws ...Middleware) error {
	log := logger.Named("natsx").With(zap.String("chatId", chatID))
	h := Chain(commandHandler(c, cmd), mws...)
	cb := func(m *nats.Msg) {
		msg := Message{
			Subject: m.Subject,
			Reply:   m.Reply,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
			Respond: m.Respond,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h(ctx, msg); err != nil {
			log.Warn("command failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}

	subject := CommandSubject(prefix, chatID)
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return err
	}
	c.track(sub)
	log.Info("serving commands", zap.String("subject", subject))
	return nil
}

func commandHandler(c *Client, cmd Commander) Handler {
	return func(ctx context.Context, msg Message) error {
		reply, err := applyCommand(ctx, cmd, msg.Data)
		if msg.Reply != "" {
			b, merr := json.Marshal(reply)
			if merr != nil {
				return merr
			}
			respond := msg.Respond
			if respond == nil {
				respond = func(data []byte) error { return c.nc.Publish(msg.Reply, data) }
			}
			if perr := respond(b); perr != nil {
				return perr
			}
		}
		return err
	}
}

func applyCommand(ctx context.Context, cmd Commander, data []byte) (CommandReply, error) {
	var in Command
	if err := json.Unmarshal(data, &in); err != nil {
		err = errs.ErrMalformedFrame.WrapMsg("command", "err", err)
		return failed(err), err
	}
	var err error
	reply := CommandReply{OK: true}
	switch in.Action {
	case "send":
		var m chatclient.Message
		if m, err = cmd.SendMessage(in.Content); err == nil {
			reply.Message = &m
		}
	case "typing_start":
		cmd.StartTyping()
	case "typing_stop":
		cmd.StopTyping()
	case "connect":
		err = cmd.Connect(ctx)
	case "disconnect":
		cmd.Disconnect()
	case "reconnect":
		cmd.Reconnect()
	case "clear_error":
		cmd.ClearError()
	default:
		err = errs.ErrMalformedFrame.WrapMsg(fmt.Sprintf("unknown action %q", in.Action))
	}
	if err != nil {
		return failed(err), err
	}
	return reply, nil
}

func failed(err error) CommandReply {
	return CommandReply{Code: errs.Code(err), Error: err.Error()}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
