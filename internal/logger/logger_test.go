package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer without color and
// restores the previous settings when the test ends.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	savedOut, savedColor, savedFormat := out, color, format
	out, color = buf, false
	mu.Unlock()
	savedLevel := level.Level()
	rebuild()

	t.Cleanup(func() {
		mu.Lock()
		out, color, format = savedOut, savedColor, savedFormat
		mu.Unlock()
		level.Set(savedLevel)
		rebuild()
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.Contains(t, output, "debug message")
		assert.Contains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("warning")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.Contains(t, output, "warn message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("INFO")
		SetLevel("LOUD")
		Debug("debug message")
		Info("info message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.Contains(t, output, "info message")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warning", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"LOUD", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStructuredFields(t *testing.T) {
	buf := captureOutput(t)

	Info("session closed", KeyIdentity, "alice", KeyStatus, 0)

	output := buf.String()
	assert.Contains(t, output, "INFO  session closed")
	assert.Contains(t, output, "identity=alice")
	assert.Contains(t, output, "status=0")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)

	SetFormat("json")
	Info("handshake rejected", Mechanism("kerberos"), Identity("", false))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "handshake rejected", entry["msg"])
	assert.Equal(t, "kerberos", entry[KeyMechanism])
	assert.Equal(t, "-", entry[KeyIdentity])
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)

	lc := NewLogContext("s-1", "10.0.0.1:4242").WithMechanism("x509")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "session accepted")

	output := buf.String()
	assert.Contains(t, output, "INFO  [s-1 10.0.0.1:4242] session accepted mechanism=x509")
	assert.NotContains(t, output, KeySessionID)
	assert.Nil(t, FromContext(context.Background()))
}

func TestContextFieldsJSON(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")

	lc := NewLogContext("s-2", "10.0.0.2:1").WithTrace("t-1", "sp-1")
	WarnCtx(WithContext(context.Background(), lc), "identity mapping failed", Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "s-2", entry[KeySessionID])
	assert.Equal(t, "10.0.0.2:1", entry[KeyRemoteAddr])
	assert.Equal(t, "t-1", entry[KeyTraceID])
	assert.Equal(t, "boom", entry[KeyError])
	assert.NotContains(t, entry, KeyMechanism)
}

func TestTextTraceIDsOnlyAtDebug(t *testing.T) {
	buf := captureOutput(t)
	ctx := WithContext(context.Background(), NewLogContext("s-3", "").WithTrace("abc", "def"))

	SetLevel("INFO")
	InfoCtx(ctx, "quiet")
	assert.NotContains(t, buf.String(), "trace_id")
	assert.Contains(t, buf.String(), "[s-3] quiet")

	buf.Reset()
	SetLevel("DEBUG")
	InfoCtx(ctx, "verbose")
	assert.Contains(t, buf.String(), "trace_id=abc span_id=def")
}

func TestTextHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	l := slog.New(newTextHandler(&buf, &lvl, false)).
		With(KeyRemoteAddr, "192.0.2.1:7512").
		WithGroup("kerberos")

	l.Info("ticket verified", KeySubject, "alice@EXAMPLE.COM", "skew", 1.5, "realm", "")

	line := buf.String()
	assert.Contains(t, line, "INFO  [192.0.2.1:7512] ticket verified")
	assert.Contains(t, line, "kerberos.subject=alice@EXAMPLE.COM")
	assert.Contains(t, line, "kerberos.skew=1.5")
	assert.Contains(t, line, `kerberos.realm=""`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestTextHandlerColorsErrors(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	slog.New(newTextHandler(&buf, &lvl, true)).Error("send failed", Err(errors.New("broken pipe")))

	assert.Contains(t, buf.String(), ansiRed+"ERROR"+ansiReset)
	assert.Contains(t, buf.String(), "="+ansiRed+`"broken pipe"`+ansiReset)
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)

	const goroutines = 10
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				Info("session", "id", id, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, goroutines*perGoroutine)
}

func TestSink(t *testing.T) {
	t.Run("FileSinkAppends", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "authservice.log")
		require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0644))

		sink, err := OpenSink(path)
		require.NoError(t, err)
		assert.Equal(t, path, sink.Name())
		assert.False(t, sink.IsTerminal())

		_, err = sink.Write([]byte("this run\n"))
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "previous run\nthis run\n", string(data))
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		sink, err := OpenSink(filepath.Join(t.TempDir(), "x.log"))
		require.NoError(t, err)
		require.NoError(t, sink.Close())
		require.NoError(t, sink.Close())
		require.NoError(t, sink.Sync())
	})

	t.Run("WritesAfterCloseDoNotFail", func(t *testing.T) {
		sink, err := OpenSink(filepath.Join(t.TempDir(), "x.log"))
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		_, err = sink.Write([]byte("late line\n"))
		assert.NoError(t, err)
	})

	t.Run("StdoutIsNotClosed", func(t *testing.T) {
		sink, err := OpenSink("stdout")
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		_, err = os.Stdout.Write([]byte{})
		assert.NoError(t, err)
	})

	t.Run("UnwritablePath", func(t *testing.T) {
		_, err := OpenSink(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
		assert.Error(t, err)
	})

	t.Run("InitRoutesOutputToSink", func(t *testing.T) {
		captureOutput(t)

		path := filepath.Join(t.TempDir(), "routed.log")
		sink, err := Init(Config{Level: "INFO", Format: "text", Output: path})
		require.NoError(t, err)

		Info("routed line")
		require.NoError(t, sink.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "routed line")
	})
}
