package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"threatgate/core"
	"threatgate/resource"
)

func TestLoggerOptions_Level(t *testing.T) {
	tests := []struct {
		name string
		opts LoggerOptions
		want zapcore.Level
	}{
		{"default", LoggerOptions{}, zapcore.InfoLevel},
		{"quiet", LoggerOptions{Quiet: true}, zapcore.WarnLevel},
		{"debug", LoggerOptions{Debug: true}, zapcore.DebugLevel},
		{"debug wins over quiet", LoggerOptions{Quiet: true, Debug: true}, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.Level())
		})
	}
}

func TestInitLogger_Quiet(t *testing.T) {
	var buf bytes.Buffer
	_, sugar, err := InitLogger(LoggerOptions{Quiet: true, NoColor: true, Output: &buf})
	require.NoError(t, err)

	sugar.Info("hidden message")
	sugar.Warn("visible message")
	_ = sugar.Sync()

	assert.NotContains(t, buf.String(), "hidden message")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "visible message")
}

func TestEnsureOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	abs, err := EnsureOutputDirectory(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.DirExists(t, abs)
	assert.NoFileExists(t, filepath.Join(abs, ".threatgate_write_test"))
}

func TestEnsureOutputDirectory_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "report")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := EnsureOutputDirectory(file, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, &core.ReportWriteError{})
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"auth", fmt.Errorf("failed to fetch x: %w", resource.ErrAuthFailed), "threatsLibraryAccessUsername"},
		{"too large", resource.ErrResourceTooLarge, "size limit"},
		{"scheme", resource.ErrUnsupportedScheme, "Supported:"},
		{"timeout", fmt.Errorf("get: %w", context.DeadlineExceeded), "timed out"},
		{"not found", fmt.Errorf("open: %w", os.ErrNotExist), "does not exist"},
		{"dns", errors.New("dial tcp: lookup rules.invalid: no such host"), "Cannot resolve"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ClassifyFetchError(tt.err, "https://rules.invalid/lib.yml")
			if tt.want == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.want)
		})
	}
}

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"open: permission denied", "Permission denied"},
		{"database is locked (SQLITE_BUSY)", "locked by another process"},
		{"file is not a database: malformed", "corrupted"},
		{"attempt to write a read-only database", "read-only"},
		{"something else", "Failed to open"},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Contains(t, ClassifySQLiteError(errors.New(tt.err), "history.db"), tt.want)
		})
	}
	assert.Empty(t, ClassifySQLiteError(nil, "history.db"))
}

func TestContainsIgnoreCase(t *testing.T) {
	assert.True(t, containsIgnoreCase("Connection Refused", "connection refused"))
	assert.True(t, containsIgnoreCase("abc", ""))
	assert.False(t, containsIgnoreCase("", "abc"))
}

func TestInitHistory_Disabled(t *testing.T) {
	cfg := testConfig(t)
	history, err := InitHistory(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Nil(t, history)
}
