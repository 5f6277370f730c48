package chatclient

import (
	"time"
)

// State of the one logical connection a Client owns.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type MessageType string

const MessageText MessageType = "text"

// Message is one entry of a chat's ordered sequence. It is never modified
// after it has been appended.
type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chatId"`
	CharacterID string      `json:"characterId,omitempty"`
	Sender      Sender      `json:"sender"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        MessageType `json:"type"`
}

// Credentials come from the authentication store; both fields are needed to open a connection.
type Credentials struct {
	UserID string
	Token  string
}

func (c Credentials) Complete() bool { return c.UserID != "" && c.Token != "" }

// Snapshot is a point-in-time copy of everything the UI layer renders.
type Snapshot struct {
	ChatID            string    `json:"chatId"`
	State             State     `json:"state"`
	Connected         bool      `json:"connected"`
	Messages          []Message `json:"messages"`
	OnlineUsers       []string  `json:"onlineUsers"`
	LocalTyping       bool      `json:"localTyping"`
	RemoteTyping      bool      `json:"remoteTyping"`
	Error             string    `json:"error,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

type EventKind string

const (
	EventState    EventKind = "state"
	EventMessage  EventKind = "message"
	EventTyping   EventKind = "typing"
	EventPresence EventKind = "presence"
	EventError    EventKind = "error"
)

// Event describes one state change, in the order the Client applied it.
//
//	state:    State
//	message:  Message
//	typing:   Typing, Remote (false = the local user)
//	presence: UserID, Joined; or Sync with the whole Online set
//	error:    Error ("" when cleared)
type Event struct {
	Kind    EventKind `json:"kind"`
	ChatID  string    `json:"chatId"`
	State   State     `json:"state,omitempty"`
	Message *Message  `json:"message,omitempty"`
	UserID  string    `json:"userId,omitempty"`
	Typing  bool      `json:"typing,omitempty"`
	Remote  bool      `json:"remote,omitempty"`
	Joined  bool      `json:"joined,omitempty"`
	Sync    bool      `json:"sync,omitempty"`
	Online  []string  `json:"online,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
