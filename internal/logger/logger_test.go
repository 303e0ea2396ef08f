package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("relay", Options{Format: "json", Output: &buf})
	require.NoError(t, err)

	log.Info("client connected")
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "client connected", line["msg"])
	assert.Equal(t, "relay", line["logger"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_Verbose(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("agent", Options{Level: "error", Verbose: true, Output: &buf})
	require.NoError(t, err)

	log.Debug("shown")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("x", Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New("x", Options{Format: "xml"})
	assert.Error(t, err)
}
