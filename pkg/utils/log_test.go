package utils

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitLogging_RespectsFlags(t *testing.T) {
	SetTestFlag(t, "log_level", "debug")
	SetTestFlag(t, "log_handler_type", "text")

	InitLogging()

	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug),
		"Configured level should enable debug logging")
}
