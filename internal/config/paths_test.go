package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ParseConfigPath extended tests ---

func TestParseConfigPath_Extended(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "widget", []string{"widget"}, false},
		{"two segments", "gateway.port", []string{"gateway", "port"}, false},
		{"three segments", "channels.irc.nick", []string{"channels", "irc", "nick"}, false},
		{"empty", "", nil, true},
		{"empty segment", "gateway..port", nil, true},
		{"leading dot", ".gateway", nil, true},
		{"trailing dot", "gateway.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked prototype", "prototype.x", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// --- GetValueAtPath extended tests ---

func TestGetValueAtPath_Extended(t *testing.T) {
	root := map[string]any{
		"widget": map[string]any{
			"rateLimitDelay": 1000,
			"messages": map[string]any{
				"typing": "Typing...",
			},
		},
		"simple": "value",
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"nested value", []string{"widget", "rateLimitDelay"}, 1000, true},
		{"deeply nested", []string{"widget", "messages", "typing"}, "Typing...", true},
		{"top level", []string{"simple"}, "value", true},
		{"missing key", []string{"nonexistent"}, nil, false},
		{"missing nested", []string{"widget", "nonexistent"}, nil, false},
		{"non-map intermediate", []string{"simple", "sub"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

// --- SetValueAtPath / UnsetValueAtPath tests ---

func TestSetValueAtPath_Update(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 18790,
		},
	}

	SetValueAtPath(root, []string{"gateway", "port"}, 9999)
	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestSetValueAtPath_CreatesIntermediates(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"channels", "irc", "server"}, "irc.libera.chat")
	val, ok := GetValueAtPath(root, []string{"channels", "irc", "server"})
	assert.True(t, ok)
	assert.Equal(t, "irc.libera.chat", val)
}

func TestSetValueAtPath_OverwritesNonMap(t *testing.T) {
	root := map[string]any{
		"gateway": "string-not-map",
	}

	SetValueAtPath(root, []string{"gateway", "port"}, 8080)
	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 8080, val)
}

func TestUnsetValueAtPath_PreserveSiblings(t *testing.T) {
	root := map[string]any{
		"widget": map[string]any{
			"version":          "1.0.0",
			"maxMessageLength": 2000,
		},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"widget", "version"}))

	_, found := GetValueAtPath(root, []string{"widget", "version"})
	assert.False(t, found)

	val, found := GetValueAtPath(root, []string{"widget", "maxMessageLength"})
	assert.True(t, found)
	assert.Equal(t, 2000, val)
}

func TestUnsetValueAtPath_NotFound(t *testing.T) {
	root := map[string]any{"widget": map[string]any{}}
	assert.False(t, UnsetValueAtPath(root, []string{"widget", "nonexistent"}))
	assert.False(t, UnsetValueAtPath(root, []string{"a", "b", "c"}))
}

func TestUnsetValueAtPath_NonMapIntermediate(t *testing.T) {
	root := map[string]any{
		"gateway": "string",
	}
	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
}

// --- ResolvePaths tests ---

func TestResolvePaths_Default(t *testing.T) {
	t.Setenv("CHATWIDGET_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".chatwidget")
	assert.Equal(t, base, paths.Base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(base, "logs"), paths.Logs)
	assert.Equal(t, filepath.Join(base, "data"), paths.Data)
	assert.Equal(t, filepath.Join(base, "data", "transcript.db"), paths.Transcript)
}

func TestResolvePaths_CustomHome(t *testing.T) {
	t.Setenv("CHATWIDGET_HOME", "/tmp/cwtest")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cwtest", paths.Base)
	assert.Equal(t, "/tmp/cwtest/config.yaml", paths.Config)
	assert.Equal(t, "/tmp/cwtest/data/transcript.db", paths.Transcript)
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv("CHATWIDGET_HOME", t.TempDir())

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs(), "second call should succeed")

	for _, d := range []string{paths.Base, paths.Logs, paths.Data} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestTranscriptPath(t *testing.T) {
	p := Paths{Transcript: "/base/data/transcript.db"}
	assert.Equal(t, "/base/data/transcript.db", p.TranscriptPath(StoreConfig{}))
	assert.Equal(t, "/elsewhere.db", p.TranscriptPath(StoreConfig{Path: "/elsewhere.db"}))
}

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["widget"])
}
