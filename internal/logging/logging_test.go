package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

func TestLogFilePath(t *testing.T) {
	tests := []struct {
		name    string
		logsDir string
		want    string
	}{
		{"basic path", "logs", filepath.Join("logs", "movements.20260212_213836.log")},
		{"relative path with dot", "./logs", filepath.Join(".", "logs", "movements.20260212_213836.log")},
		{"absolute path", filepath.Join("/var", "log", "movements"), filepath.Join("/var", "log", "movements", "movements.20260212_213836.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, "movements", testTime))
		})
	}
}

func TestNewZerolog_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "warn")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestNewZerolog_FallsBackToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, NewZerolog(&bytes.Buffer{}, "").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewZerolog(&bytes.Buffer{}, "loud").GetLevel())
}

func TestNewGraylogHandler_BadAddress(t *testing.T) {
	_, _, err := NewGraylogHandler("not-an-address", "info")
	require.Error(t, err)
}

func TestNewGraylogHandler_UDP(t *testing.T) {
	h, closer, err := NewGraylogHandler("127.0.0.1:12201", "info")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NoError(t, closer.Close())
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}
