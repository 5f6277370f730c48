package errs

// chat client codes
const (
	ServerInternalError = 500

	InvalidConfig        = 1001
	MissingCredentials   = 1002
	NotConnected         = 1003
	EmptyContent         = 1004
	MalformedFrame       = 1005
	ConnectFailed        = 1006
	AbnormalClosure      = 1007
	MaxReconnectAttempts = 1008
	Closed               = 1009
	ServerError          = 1010
)

var (
	ErrInternal             = NewCodeError(ServerInternalError, "internal error")
	ErrInvalidConfig        = NewCodeError(InvalidConfig, "invalid config")
	ErrMissingCredentials   = NewCodeError(MissingCredentials, "missing credentials")
	ErrNotConnected         = NewCodeError(NotConnected, "not connected")
	ErrEmptyContent         = NewCodeError(EmptyContent, "message content is empty")
	ErrMalformedFrame       = NewCodeError(MalformedFrame, "malformed frame")
	ErrConnectFailed        = NewCodeError(ConnectFailed, "connection failed")
	ErrAbnormalClosure      = NewCodeError(AbnormalClosure, "connection closed abnormally")
	ErrMaxReconnectAttempts = NewCodeError(MaxReconnectAttempts, "max reconnect attempts reached")
	ErrClosed               = NewCodeError(Closed, "client closed")
	ErrServer               = NewCodeError(ServerError, "server error")
)

func init() {
	// abnormal closures and exhausted retries are both connection failures
	_ = DefaultCodeRelation.Add(ConnectFailed, AbnormalClosure)
	_ = DefaultCodeRelation.Add(ConnectFailed, MaxReconnectAttempts)
}
