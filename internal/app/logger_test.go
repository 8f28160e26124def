package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "staging", LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Warn("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "staging", line["env"])
}
