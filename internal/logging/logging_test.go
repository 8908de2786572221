package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "onesync.log")

	logger, closeLog, err := New(Options{Console: &console, File: file})
	require.NoError(t, err)

	logger.Info("sync job created", "job", "Docs")
	logger.Debug("scan", "files", 3)
	require.NoError(t, closeLog())

	assert.Contains(t, console.String(), "sync job created")
	assert.NotContains(t, console.String(), "scan", "debug stays off the console unless verbose")
	assert.NotContains(t, console.String(), "\x1b[", "no colors when not a terminal")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "line=1 time="))
	assert.Contains(t, lines[0], "job=Docs")
	assert.Contains(t, lines[1], "files=3")
}

func TestNew_AppendsToExistingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "onesync.log")

	for _, msg := range []string{"first run", "second run"} {
		logger, closeLog, err := New(Options{Console: &bytes.Buffer{}, File: file})
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, closeLog())
	}

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first run")
	assert.Contains(t, lines[1], "second run")
}

func TestNew_Verbose(t *testing.T) {
	var console bytes.Buffer
	logger, closeLog, err := New(Options{Console: &console, Verbose: true})
	require.NoError(t, err)
	defer closeLog()

	logger.Debug("scan")
	assert.Contains(t, console.String(), "scan")
}

func TestLineWriter_HoldsPartialLines(t *testing.T) {
	var out bytes.Buffer
	w := newLineWriter(&out)
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err := w.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	assert.Equal(t, "line=1 time=2024-01-02T03:04:05Z first\n", out.String())

	_, err = w.Write([]byte("ond\nthi"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "line=1 time=2024-01-02T03:04:05Z first\n"+
		"line=2 time=2024-01-02T03:04:05Z second\n"+
		"line=3 time=2024-01-02T03:04:05Z thi\n", out.String())
}

func TestFanout_WithAttrsReachesAllHandlers(t *testing.T) {
	var a, b bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(h).With("job", "Docs")

	logger.Info("info")
	logger.Warn("warn")

	assert.Contains(t, a.String(), "msg=info job=Docs")
	assert.Contains(t, a.String(), "msg=warn job=Docs")
	assert.NotContains(t, b.String(), "msg=info")
	assert.Contains(t, b.String(), "msg=warn job=Docs")
}
