package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	cause := fmt.Errorf("boom")

	assert.Equal(t, "[CODE] message", New(ErrorTypeInternal, "CODE", "message").Error())
	assert.Equal(t, "[CODE] message: extra", New(ErrorTypeInternal, "CODE", "message").WithDetails("extra").Error())
	assert.Equal(t, "[CODE] message (caused by: boom)", Wrap(cause, ErrorTypeInternal, "CODE", "message").Error())
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := fmt.Errorf("outer: %w", Wrap(cause, ErrorTypeProtocol, "INVALID_MESSAGE", "bad"))

	assert.True(t, stderrors.Is(err, New(ErrorTypeProtocol, "INVALID_MESSAGE", "")))
	assert.False(t, stderrors.Is(err, New(ErrorTypeProtocol, "OTHER", "")))
	assert.True(t, stderrors.Is(err, cause))
}

func TestError_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, New(ErrorTypeValidation, "X", "x").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, New(ErrorTypeUnavailable, "X", "x").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, New(ErrorTypeInternal, "X", "x").HTTPStatus())
}

func TestDefaultHandler_LevelByType(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewDefaultHandler(logger)

	h.Handle(context.Background(), New(ErrorTypeInternal, "INTERNAL", "broken"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error_code=INTERNAL")

	buf.Reset()
	h.Handle(context.Background(), New(ErrorTypeTransport, "WRITE", "write failed"))
	assert.Contains(t, buf.String(), "level=WARN")

	buf.Reset()
	h.Handle(context.Background(), nil)
	assert.Empty(t, buf.String())
}
