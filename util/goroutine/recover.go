package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Name  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// RecoverInto recovers from a panic, logs it and stores it in errp as a
// *PanicError so the caller can return it. errp is left untouched when
// nothing panicked. With a nil logger the panic is written to stderr.
//
//	func work() (err error) {
//	    defer goroutine.RecoverInto("work", logger, &err)
//	    ...
//	}
func RecoverInto(name string, logger *zap.SugaredLogger, errp *error) {
	if r := recover(); r != nil {
		trace := stack()
		report(name, r, trace, logger)
		if errp != nil {
			*errp = &PanicError{Name: name, Value: r, Stack: trace}
		}
	}
}

func stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func report(name string, value interface{}, trace string, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", value,
			"stack", trace)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, value, trace)
}
