package cmd

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"reflect"
	"testing"
)

// TestGetLogLevel verifies string-to-level parsing for the supported
// levels, and that unknown strings are rejected.
func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"TRACE", slog.LevelInfo, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				level, err := getLogLevel(tc.input)
				if tc.expectErr {
					assert.Error(t, err)
				} else {
					require.NoError(t, err)
					assert.Equal(t, tc.expected, level)
				}
			},
		)
	}
}

// TestLevelStringToLevelVar verifies parsing into a LevelVar, including
// the offset forms slog supports.
func TestLevelStringToLevelVar(t *testing.T) {
	levelVar, err := levelStringToLevelVar("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, levelVar.Level())

	levelVar, err = levelStringToLevelVar("DEBUG-4")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug-4, levelVar.Level())

	_, err = levelStringToLevelVar("chatty")
	assert.Error(t, err)
}

// TestLevelToStringHookFunc verifies the viper decode hook converts level
// strings into *slog.LevelVar, and passes everything else through.
func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	stringType := reflect.TypeOf("")
	levelVarPtrType := reflect.TypeOf(&slog.LevelVar{})

	result, err := hook(stringType, levelVarPtrType, "ERROR")
	require.NoError(t, err)
	levelVar, ok := result.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, levelVar.Level())

	_, err = hook(stringType, levelVarPtrType, "nope")
	assert.Error(t, err)

	result, err = hook(stringType, stringType, "ERROR")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", result)

	result, err = hook(reflect.TypeOf(1), levelVarPtrType, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}
