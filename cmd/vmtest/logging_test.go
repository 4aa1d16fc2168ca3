package main

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromEnv_Default(t *testing.T) {
	os.Unsetenv("VMTEST_LOG")
	assert.Equal(t, slog.LevelInfo, levelFromEnv())
}

func TestLevelFromEnv_Debug(t *testing.T) {
	t.Setenv("VMTEST_LOG", "debug")
	assert.Equal(t, slog.LevelDebug, levelFromEnv())
}

func TestLevelFromEnv_WarnAndError(t *testing.T) {
	t.Setenv("VMTEST_LOG", "warn")
	assert.Equal(t, slog.LevelWarn, levelFromEnv())

	t.Setenv("VMTEST_LOG", "error")
	assert.Equal(t, slog.LevelError, levelFromEnv())
}

func TestLevelFromEnv_UnknownFallsBackToInfo(t *testing.T) {
	t.Setenv("VMTEST_LOG", "trace")
	assert.Equal(t, slog.LevelInfo, levelFromEnv())
}
