package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, targetAttempts, attempts)
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	cause := errors.New("persistent error")

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return cause
	})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, maxAttempts, attempts)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	attempts := 0
	cause := errors.New("bad request")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(cause)
	})

	require.Equal(t, cause, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, 0, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("hello", "k", 1)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"), "json logger wrote %q", buf.String())

	buf.Reset()
	NewLogger(&buf, "info", "text").Debug("hidden")
	assert.Zero(t, buf.Len(), "debug record written at info level")
}
