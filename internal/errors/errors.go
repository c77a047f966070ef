package errors

import (
	"log/slog"
	"sync"

	"gtsvmkit/internal/ui"
)

var (
	defaultHandler *ErrorHandler
	once           sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	var err error
	once.Do(func() {
		defaultHandler, err = NewErrorHandler()
	})
	return defaultHandler, err
}

// HandleError logs and prints err through the process-wide handler. When the
// log file cannot be opened the error is still printed.
func HandleError(err error) {
	handler, handlerErr := GetDefaultHandler()
	if handlerErr != nil || handler == nil {
		(&ErrorHandler{logger: slog.New(slog.DiscardHandler), console: ui.NewConsole()}).Handle(err)
		return
	}
	handler.Handle(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	once = sync.Once{}
}
