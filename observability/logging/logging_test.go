package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "poold.log")
	logger, closer := SetupWithOptions("poold", "test", Options{Output: &buf, LogFile: path, Level: "debug"})
	defer closer.Close()
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("pool operation", slog.String("op", "deposit"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "pool operation", line["message"])
	require.Equal(t, "poold", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "deposit", line["op"])
	require.Contains(t, line, "timestamp")

	require.NoError(t, closer.Close())
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(contents), "pool operation"))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("jwt_secret", "hunter2").Value.String())
	require.Equal(t, "deposit", MaskField("op", "deposit").Value.String())
	require.Equal(t, "", MaskValue(""))
	masked := MaskDSN("postgres://pool:secret@db:5432/audit")
	require.NotContains(t, masked, "secret")
	require.Contains(t, masked, "REDACTED")
	require.Equal(t, "audit.db", MaskDSN("audit.db"))
	require.Contains(t, RedactionAllowlist(), "asset")
}
