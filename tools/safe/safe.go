package safe

import (
	"CharChat/logger"
	"CharChat/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine; a panic inside f is logged with its stack and
// reported to onPanic (if any) instead of crashing the process.
func Go(name string, f func(), onPanic ...func(error)) {
	go func() {
		defer Recover(name, onPanic...)
		f()
	}()
}

// Recover is the deferred half of Go, usable directly in long-lived loops.
func Recover(name string, onPanic ...func(error)) {
	r := recover()
	if r == nil {
		return
	}
	err := errs.ErrPanic(r)
	logger.Error("[safe] panic recovered", zap.String("goroutine", name), zap.Error(err), zap.Stack("stack"))
	for _, fn := range onPanic {
		if fn != nil {
			fn(err)
		}
	}
}
