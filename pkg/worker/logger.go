package worker

import "reviewhooks/internal"

// Logger is the subset of *log.Logger the worker writes to.
type Logger interface {
	Printf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) {
	defaultWorkerLogger.Printf(format, args...)
}

var defaultWorkerLogger = internal.NewLogger("worker")
