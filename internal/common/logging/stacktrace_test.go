package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
)

func TestExtractStack_NoStack(t *testing.T) {
	assert.Nil(t, ExtractStack(nil))
	assert.Nil(t, ExtractStack(fmt.Errorf("plain")))
}

func TestExtractStack_InnermostStack(t *testing.T) {
	inner := errors.New("inner")
	outer := errors.WithMessage(errors.WithStack(inner), "outer")

	stack := ExtractStack(outer)
	require.NotNil(t, stack)
	assert.Equal(t, inner.(stackTracer).StackTrace(), stack)
}

func TestExtractStack_ThroughTypedErrors(t *testing.T) {
	cause := errors.New("connection refused")
	err := multierror.Append(nil, &shippererrors.ErrSink{Sink: "mongodb", Count: 1, Err: cause})

	assert.Equal(t, cause.(stackTracer).StackTrace(), ExtractStack(err))
}

func TestWithStacktrace(t *testing.T) {
	out := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	WithStacktrace(logrus.NewEntry(logger), errors.New("boom")).Error("failed")
	assert.Contains(t, out.String(), `"error":"boom"`)
	assert.Contains(t, out.String(), `"stacktrace":`)

	out.Reset()
	WithStacktrace(logrus.NewEntry(logger), fmt.Errorf("no stack")).Error("failed")
	assert.NotContains(t, out.String(), `"stacktrace":`)
}
