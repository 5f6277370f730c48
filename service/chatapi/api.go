package chatapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	mid "CharChat/middleware"
	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// Chat is the chat client surface exposed over HTTP.
type Chat interface {
	Connect(ctx context.Context) error
	Disconnect()
	Reconnect()
	SendMessage(content string) (chatclient.Message, error)
	StartTyping()
	StopTyping()
	ClearError()
	Messages() []chatclient.Message
	Snapshot() chatclient.Snapshot
}

type History interface {
	List(ctx context.Context, chatID string, limit int) ([]chatclient.Message, error)
}

type Presence interface {
	Members(ctx context.Context, chatID string) ([]string, error)
}

type Options struct {
	// Auth guards mutating routes; nil leaves them open.
	Auth           gin.HandlerFunc
	History        History
	HistoryLimit   int
	Presence       Presence
	AllowedOrigins []string
	Middlewares    *mid.MiddlewareManager
}

type handler struct {
	chat Chat
	opts Options
}

type sendRequest struct {
	Content string `json:"content"`
}

const (
	defaultHistoryLimit = 50
	connectTimeout      = 15 * time.Second
)

func NewRouter(chat Chat, opts Options) *gin.Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.Middlewares == nil {
		opts.Middlewares = mid.NewManager()
	}
	h := &handler{chat: chat, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin(opts.AllowedOrigins), opts.Middlewares.Use())

	open := mid.RouteOpt{}
	guarded := mid.RouteOpt{Auth: opts.Auth}

	g := r.Group("/chat")
	mid.GET(g, "/state", h.state, open)
	mid.GET(g, "/messages", h.messages, open)
	mid.GET(g, "/history", h.history, open)
	mid.GET(g, "/online", h.online, open)
	mid.POST(g, "/messages", h.send, guarded)
	mid.POST(g, "/typing/start", h.typingStart, guarded)
	mid.POST(g, "/typing/stop", h.typingStop, guarded)
	mid.POST(g, "/connect", h.connect, guarded)
	mid.POST(g, "/disconnect", h.disconnect, guarded)
	mid.POST(g, "/reconnect", h.reconnect, guarded)
	mid.DELETE(g, "/error", h.clearError, guarded)
	return r
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.chat.Snapshot())
}

func (h *handler) messages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.chat.Messages()})
}

func (h *handler) history(c *gin.Context) {
	if h.opts.History == nil {
		c.JSON(http.StatusNotImplemented, errs.ErrInternal.WithDetail("no history store configured"))
		return
	}
	limit := h.opts.HistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": errs.InvalidConfig, "msg": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	chatID := h.chat.Snapshot().ChatID
	items, err := h.opts.History.List(c.Request.Context(), chatID, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chatID, "items": items})
}

// online prefers the shared presence set and falls back to the client's view.
func (h *handler) online(c *gin.Context) {
	snap := h.chat.Snapshot()
	users := snap.OnlineUsers
	if h.opts.Presence != nil {
		members, err := h.opts.Presence.Members(c.Request.Context(), snap.ChatID)
		if err != nil {
			writeErr(c, err)
			return
		}
		users = members
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"chatId": snap.ChatID, "users": users})
}

func (h *handler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.EmptyContent, "msg": "invalid body", "detail": err.Error()})
		return
	}
	msg, err := h.chat.SendMessage(req.Content)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *handler) typingStart(c *gin.Context) {
	h.chat.StartTyping()
	c.Status(http.StatusNoContent)
}

func (h *handler) typingStop(c *gin.Context) {
	h.chat.StopTyping()
	c.Status(http.StatusNoContent)
}

func (h *handler) connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()
	if err := h.chat.Connect(ctx); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.chat.Snapshot())
}

func (h *handler) disconnect(c *gin.Context) {
	h.chat.Disconnect()
	c.JSON(http.StatusOK, h.chat.Snapshot())
}

func (h *handler) reconnect(c *gin.Context) {
	h.chat.Reconnect()
	c.JSON(http.StatusAccepted, h.chat.Snapshot())
}

func (h *handler) clearError(c *gin.Context) {
	h.chat.ClearError()
	c.Status(http.StatusNoContent)
}

func statusOf(err error) int {
	switch errs.Code(err) {
	case errs.EmptyContent, errs.InvalidConfig:
		return http.StatusBadRequest
	case errs.MissingCredentials:
		return http.StatusUnauthorized
	case errs.NotConnected:
		return http.StatusConflict
	case errs.Closed:
		return http.StatusServiceUnavailable
	case errs.ConnectFailed, errs.AbnormalClosure, errs.MaxReconnectAttempts:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeErr(c *gin.Context, err error) {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		c.JSON(statusOf(err), ce)
		return
	}
	c.JSON(statusOf(err), errs.ErrInternal.WithDetail(strings.TrimSpace(err.Error())))
}
