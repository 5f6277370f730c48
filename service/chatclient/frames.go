package chatclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"CharChat/tools/decode"
)

type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameTypingStart FrameType = "typing_start"
	FrameTypingStop  FrameType = "typing_stop"
	FrameUserJoined  FrameType = "user_joined"
	FrameUserLeft    FrameType = "user_left"
	FrameError       FrameType = "error"

	// outbound only
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
)

// OutboundFrame is what the client writes: {type, chatId, userId, data?, timestamp}.
type OutboundFrame struct {
	Type      FrameType `json:"type"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame is what the server sends: {type, data, timestamp, userId?, chatId?}.
// Data stays untyped until a handler decodes it.
type InboundFrame struct {
	Type      FrameType `json:"type"`
	Data      any       `json:"data"`
	Timestamp Timestamp `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	ChatID    string    `json:"chatId,omitempty"`
}

// MessagePayload is the data of a message frame in both directions.
type MessagePayload struct {
	ID          string      `json:"id,omitempty"`
	CharacterID string      `json:"characterId,omitempty"`
	Content     string      `json:"content"`
	Sender      Sender      `json:"sender"`
	Type        MessageType `json:"type"`
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// Timestamp accepts RFC 3339 strings (what browsers emit) as well as unix
// milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// Or returns t, or fallback when the frame carried no timestamp.
func (t Timestamp) Or(fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.Time
}

func ParseFrame(raw []byte) (*InboundFrame, error) {
	frame := &InboundFrame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame without type")
	}
	return frame, nil
}

func decodeMessagePayload(data any) (*MessagePayload, error) {
	p, err := decode.Decode[MessagePayload](data)
	if err != nil {
		return nil, err
	}
	if p.Sender == "" {
		p.Sender = SenderAI
	}
	if p.Type == "" {
		p.Type = MessageText
	}
	return p, nil
}

// errorText pulls a human readable text out of an error frame's data.
func errorText(data any) string {
	switch v := data.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if p, err := decode.Decode[errorPayload](v); err == nil {
			switch {
			case p.Message != "":
				return p.Message
			case p.Error != "":
				return p.Error
			case p.Code != "":
				return p.Code
			}
		}
	}
	return "server reported an error"
}

// frameUserID prefers the frame-level userId, then data.userId.
func frameUserID(f *InboundFrame) string {
	if f.UserID != "" {
		return f.UserID
	}
	if f.Data == nil {
		return ""
	}
	id, err := decode.ReadString(f.Data, "userId")
	if err != nil {
		return ""
	}
	return id
}
