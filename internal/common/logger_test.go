package common

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogger_ReturnsFallbackWhenUninitialized(t *testing.T) {
	logger := GetLogger()
	require.NotNil(t, logger)
}

func TestInitLogger_InstallsGivenLoggerAsGlobal(t *testing.T) {
	custom := arbor.NewLogger().WithConsoleWriter(consoleWriter(""))
	InitLogger(custom)
	defer InitLogger(nil)

	assert.Equal(t, custom, GetLogger())
}

func TestSetupLogger_UsesConfiguredTimeFormatAndLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug", TimeFormat: "15:04:05"}}
	logger := SetupLogger(cfg)
	require.NotNil(t, logger)
	assert.Equal(t, logger, GetLogger())
}

func TestConsoleWriter_DefaultsTimeFormatWhenEmpty(t *testing.T) {
	w := consoleWriter("")
	assert.Equal(t, "15:04:05.000", w.TimeFormat)
}

func TestConsoleWriter_KeepsExplicitTimeFormat(t *testing.T) {
	w := consoleWriter("2006-01-02")
	assert.Equal(t, "2006-01-02", w.TimeFormat)
}
