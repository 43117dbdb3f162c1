package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, WARN)

	l.Info("dropped")
	l.Warn("kept", "region", "DE")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "DE", lines[0]["region"])
}

func TestLogger_WithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, DEBUG).With("component", "Importer")

	l.With("job_id", "j-1").Info("queued")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "Importer", lines[0]["component"])
	assert.Equal(t, "j-1", lines[0]["job_id"])
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, DEBUG)

	l.Info("fetch", "api_key", "supersecretvalue", "url", "https://api.example.com/poi?key=abc123&countrycode=DE")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "su***", lines[0]["api_key"])
	assert.Equal(t, "https://api.example.com/poi?key=***&countrycode=DE", lines[0]["url"])
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcdef", "ab***"},
		{"abcd", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := RedactSecret(tt.in); got != tt.want {
			t.Errorf("RedactSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
