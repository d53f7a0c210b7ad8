package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "saled", "devnet", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("sale started", MaskField("viewingKey", "secret"), MaskField("saleId", "3"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "sale started", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "saled", line["service"])
	require.Equal(t, "devnet", line["env"])
	require.Equal(t, RedactedValue, line["viewingKey"])
	require.Equal(t, "3", line["saleId"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestMaskFieldSaleKeys(t *testing.T) {
	for _, key := range []string{"caller", "Caller", "saleId", "sale_id", "action", "outcome", "request_id"} {
		require.True(t, IsAllowlisted(key), key)
		require.Equal(t, "v", MaskField(key, "v").Value.String(), key)
	}
	for _, key := range []string{"client", "viewingKey", "token"} {
		require.False(t, IsAllowlisted(key), key)
		require.Equal(t, RedactedValue, MaskField(key, "v").Value.String(), key)
	}
	require.Equal(t, " ", MaskField("client", " ").Value.String())

	keys := RedactionAllowlist()
	require.Contains(t, keys, "saleid")
	require.IsIncreasing(t, keys)
}
