package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/conduit/pkg/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, log.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, log.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, log.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("verbose"))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler).With("execution_id", "abc")
	ctx := log.WithLogger(context.Background(), logger)

	assert.Same(t, logger, log.FromContext(ctx))
	assert.Same(t, slog.Default(), log.FromContext(context.Background()))
}
