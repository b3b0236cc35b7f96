package keymap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
  "scancode_map": {
    "KEY_ENTER": "rem_ok",
    "786924": "rem_power"
  },
  "activities": {
    "watch": {
      "rem_ok": [{ "do": "emit", "text": "ok" }],
      "rem_power": [
        { "do": "emit", "text": "power", "when": "up" },
        { "do": "ble", "usage": "keyboard", "code": "ENTER" }
      ]
    }
  }
}`

func TestParseValidDocument(t *testing.T) {
	km, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	assert.Equal(t, 2, km.ScancodeCount())
	assert.Equal(t, 1, km.ActivityCount())
	assert.Equal(t, "rem_ok", km.Scancodes()["KEY_ENTER"])
	assert.Equal(t, "rem_power", km.Scancodes()["786924"])

	actions := km.Actions("watch", "rem_power")
	require.Len(t, actions, 2)
	assert.Equal(t, ActionEmit, actions[0].Do)
	assert.Equal(t, EdgeUp, actions[0].When)
	assert.Equal(t, ActionBle, actions[1].Do)
	assert.Equal(t, "ENTER", actions[1].Code)

	assert.Nil(t, km.Actions("watch", "rem_unbound"))
	assert.Nil(t, km.Actions("listen", "rem_ok"))
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing scancode_map",
			doc:     `{"activities": {}}`,
			wantErr: "scancode_map",
		},
		{
			name:    "missing activities",
			doc:     `{"scancode_map": {}}`,
			wantErr: "activities",
		},
		{
			name:    "unknown do",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"do": "wat"}]}}}`,
			wantErr: `unknown do "wat"`,
		},
		{
			name:    "missing do",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"text": "ok"}]}}}`,
			wantErr: "unknown do",
		},
		{
			name:    "non-object action",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": ["not-an-object"]}}}`,
			wantErr: "must be an object",
		},
		{
			name:    "emit without text",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"do": "emit"}]}}}`,
			wantErr: "requires a string text",
		},
		{
			name:    "ble with bad usage",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"do": "ble", "usage": "mouse", "code": "A"}]}}}`,
			wantErr: "usage",
		},
		{
			name:    "ble without code",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"do": "ble", "usage": "keyboard"}]}}}`,
			wantErr: "code",
		},
		{
			name:    "bad when",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [{"do": "emit", "text": "ok", "when": "sideways"}]}}}`,
			wantErr: "when",
		},
		{
			name:    "bindings not a list",
			doc:     `{"scancode_map": {}, "activities": {"watch": {"rem_ok": {"do": "emit"}}}}`,
			wantErr: "must be a list",
		},
		{
			name:    "scancode value not a string",
			doc:     `{"scancode_map": {"KEY_A": 3}, "activities": {}}`,
			wantErr: "non-empty string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseErrorNamesLocation(t *testing.T) {
	doc := `{"scancode_map": {}, "activities": {"watch": {"rem_vol_up": [{"do": "nope"}]}}}`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `activity "watch"`)
	assert.Contains(t, err.Error(), `key "rem_vol_up"`)
}

func TestEmitDefaults(t *testing.T) {
	km, err := Parse([]byte(`{
	  "scancode_map": {},
	  "activities": {"watch": {"rem_ok": [{"do": "emit", "text": "ok"}]}}
	}`))
	require.NoError(t, err)

	a := km.Actions("watch", "rem_ok")[0]
	assert.Equal(t, EdgeDown, a.When, "default when is down")
	assert.False(t, a.Repeat)
	assert.Zero(t, a.MinHoldMs)
	assert.Nil(t, a.Extra)
}

func TestEmitExtraFieldsForwarded(t *testing.T) {
	km, err := Parse([]byte(`{
	  "scancode_map": {},
	  "activities": {"watch": {"rem_ok": [
	    {"do": "emit", "text": "nav", "dir": "left", "page": 2, "repeat": true}
	  ]}}
	}`))
	require.NoError(t, err)

	a := km.Actions("watch", "rem_ok")[0]
	assert.True(t, a.Repeat)
	assert.Equal(t, map[string]any{"dir": "left", "page": float64(2)}, a.Extra)
}

func TestMinHoldMs(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"integer", `50`, 50},
		{"decimal string", `"250"`, 250},
		{"garbage string falls back to zero", `"nope"`, 0},
		{"negative falls back to zero", `-5`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"scancode_map": {}, "activities": {"watch": {"rem_ok": [
			  {"do": "emit", "text": "ok", "min_hold_ms": ` + tt.value + `}
			]}}}`
			km, err := Parse([]byte(doc))
			require.NoError(t, err, "malformed timing must never fail the load")
			assert.Equal(t, tt.want, km.Actions("watch", "rem_ok")[0].MinHoldMs)
		})
	}
}

func TestLoadSearchOrder(t *testing.T) {
	dir := t.TempDir()

	explicit := filepath.Join(dir, "explicit.json")
	envPath := filepath.Join(dir, "env.json")
	require.NoError(t, os.WriteFile(explicit, []byte(validDoc), 0o644))
	require.NoError(t, os.WriteFile(envPath, []byte(`{"scancode_map": {}, "activities": {}}`), 0o644))

	t.Setenv("KEYMAP_PATH", envPath)

	t.Run("explicit path wins over env", func(t *testing.T) {
		km, err := Load(explicit)
		require.NoError(t, err)
		assert.Equal(t, 2, km.ScancodeCount())
	})

	t.Run("env used when no explicit path", func(t *testing.T) {
		km, err := Load("")
		require.NoError(t, err)
		assert.Zero(t, km.ScancodeCount())
	})
}

func TestLoadMissingEverywhere(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KEYMAP_PATH", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keymap.json not found")
}
