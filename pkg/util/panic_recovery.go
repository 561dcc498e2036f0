package util

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"callguard/pkg/errors"
)

// PanicHandler provides centralized panic recovery and logging
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{logger: logger}
}

func (ph *PanicHandler) log(component string, r interface{}) {
	var caller string
	if pc, file, line, ok := runtime.Caller(3); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fmt.Sprintf("%s:%d %s", file, line, fn.Name())
		} else {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	ph.logger.WithFields(logrus.Fields{
		"component":   component,
		"panic_value": r,
		"caller":      caller,
		"stack_trace": string(debug.Stack()),
	}).Error("Panic recovered")
}

// Recover recovers from panics and logs them. It must be deferred directly.
func (ph *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		ph.log(component, r)
	}
}

// SafeGo starts a goroutine with panic recovery
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go func() {
		defer ph.Recover(component)
		fn()
	}()
}

// Middleware turns a panicking handler into a 500 response
func (ph *PanicHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ph.log("http "+r.Method+" "+r.URL.Path, rec)
				errors.WriteError(w, errors.Wrap(errors.ErrInternalError, "handler panicked"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
