package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const Stacktrace = "stacktrace"

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStacktrace returns a logrus.Entry with err and, if err or any error it wraps has one, the innermost stack
// trace recorded by pkg/errors as fields.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack returns the stack trace recorded closest to where err was created, or nil if there isn't one.
// Wrapped errors are followed, including those combined into a multierror.
func ExtractStack(err error) errors.StackTrace {
	var stack errors.StackTrace
	for err != nil {
		var tracer stackTracer
		if !errors.As(err, &tracer) {
			break
		}
		stack = tracer.StackTrace()
		err = cause(tracer)
	}
	return stack
}

func cause(tracer stackTracer) error {
	switch e := tracer.(type) {
	case interface{ Cause() error }:
		return e.Cause()
	case interface{ Unwrap() error }:
		return e.Unwrap()
	}
	return nil
}
