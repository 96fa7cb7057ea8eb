package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, log.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, log.InfoLevel, ParseLevel("garbage"))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "debug", Format: "json"})
	logger.Debug("state changed", "component", "A", "state", "READY")

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"A"`), out)
	assert.True(t, strings.Contains(out, `"state":"READY"`), out)
}

func TestWith_ChildLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: "info", Format: "logfmt"})
	child := With(logger, "component", "B")
	child.Info("started")
	assert.Contains(t, buf.String(), "component=B")

	// Nop логгер возвращается как есть
	nop := Nop()
	assert.Equal(t, nop, With(nop, "k", "v"))
}
