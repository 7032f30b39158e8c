package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("loud"))
}

func TestNewLoggerConfig(t *testing.T) {
	prod := newLoggerConfig("production", "warn", "json")
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, "timestamp", prod.EncoderConfig.TimeKey)
	assert.NotNil(t, prod.Sampling)
	assert.Equal(t, zapcore.WarnLevel, prod.Level.Level())

	dev := newLoggerConfig("development", "debug", "console")
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())
	assert.Equal(t, []string{"stdout"}, dev.OutputPaths)
}

func TestPhoneFieldIsMasked(t *testing.T) {
	f := Phone("9876543210")
	assert.Equal(t, "phone", f.Key)
	assert.Equal(t, "******3210", f.String)
}
