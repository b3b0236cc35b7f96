package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Path to the keymap document. Empty means the default search
	// order (KEYMAP_PATH env, XDG config dir, ./keymap.json).
	KeymapPath string `koanf:"keymap_path"`

	Debug bool `koanf:"debug"`

	HA     HAConfig     `koanf:"ha"`
	USB    USBConfig    `koanf:"usb"`
	Repeat RepeatConfig `koanf:"repeat"`
	BLE    BLEConfig    `koanf:"ble"`
	Health HealthConfig `koanf:"health"`
}

// HAConfig holds the Home Assistant websocket connection settings.
type HAConfig struct {
	URL            string `koanf:"url"`             // e.g. "ws://127.0.0.1:8123/api/websocket"
	Token          string `koanf:"token"`           // inline token (TokenFile preferred)
	TokenFile      string `koanf:"token_file"`      // file containing a long-lived access token
	ActivityEntity string `koanf:"activity_entity"` // entity whose state selects the binding table
	CommandEvent   string `koanf:"command_event"`   // event type used for both directions
}

// USBConfig holds the input device settings.
type USBConfig struct {
	DevicePath string `koanf:"device_path"` // empty means autodetect under /dev/input/by-id
	Grab       bool   `koanf:"grab"`        // request exclusive access (failure is non-fatal)
	QueueSize  int    `koanf:"queue_size"`  // edge queue capacity

	DebugInput   bool `koanf:"debug_input"`   // log every emitted edge
	DebugUnknown bool `koanf:"debug_unknown"` // log unmapped key events
}

// RepeatConfig holds the emit-repeat timing. Values outside the sane
// range are replaced with the 400ms defaults at load time.
type RepeatConfig struct {
	InitialMs int `koanf:"initial_ms"` // delay before the first resend
	RateMs    int `koanf:"rate_ms"`    // interval between resends
}

// BLEConfig holds the Bluetooth HID emulation settings.
type BLEConfig struct {
	Adapter    string `koanf:"adapter"`     // e.g. "hci0"
	DeviceName string `koanf:"device_name"` // advertised name
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Addr string `koanf:"addr"` // listen address, e.g. ":9123"
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{
		HA: HAConfig{
			URL:            "ws://127.0.0.1:8123/api/websocket",
			TokenFile:      "/run/secrets/ha_token",
			ActivityEntity: "input_select.activity",
			CommandEvent:   "pihub.cmd",
		},
		USB: USBConfig{
			Grab:      true,
			QueueSize: 32,
		},
		Repeat: RepeatConfig{
			InitialMs: 400,
			RateMs:    400,
		},
		BLE: BLEConfig{
			Adapter:    "hci0",
			DeviceName: "Remotehub Remote",
		},
		Health: HealthConfig{
			Addr: ":9123",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	cfg.KeymapPath = expandPath(cfg.KeymapPath)
	cfg.HA.TokenFile = expandPath(cfg.HA.TokenFile)

	if cfg.USB.QueueSize <= 0 {
		cfg.USB.QueueSize = 32
	}
	if cfg.Repeat.InitialMs <= 0 || cfg.Repeat.InitialMs > 5000 {
		cfg.Repeat.InitialMs = 400
	}
	if cfg.Repeat.RateMs <= 0 || cfg.Repeat.RateMs > 5000 {
		cfg.Repeat.RateMs = 400
	}

	return cfg, nil
}

// applyEnvOverrides keeps the deployment contract: environment
// variables (compose env) win over file values.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = parseBool(v)
		}
	}

	setString(&cfg.HA.URL, "HA_WS_URL")
	setString(&cfg.HA.Token, "HA_TOKEN")
	setString(&cfg.HA.TokenFile, "HA_TOKEN_FILE")
	setString(&cfg.HA.ActivityEntity, "HA_ACTIVITY")
	setString(&cfg.HA.CommandEvent, "HA_CMD_EVENT")

	setString(&cfg.USB.DevicePath, "USB_DEVICE")
	setBool(&cfg.USB.Grab, "USB_GRAB")
	if v := os.Getenv("EDGE_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.USB.QueueSize = n
		}
	}

	setString(&cfg.BLE.Adapter, "BLE_ADAPTER")
	setString(&cfg.BLE.DeviceName, "BLE_DEVICE_NAME")

	setString(&cfg.Health.Addr, "HEALTH_ADDR")
	setString(&cfg.KeymapPath, "KEYMAP_PATH")

	setBool(&cfg.Debug, "DEBUG")
	setBool(&cfg.USB.DebugInput, "DEBUG_INPUT")
	setBool(&cfg.USB.DebugUnknown, "DEBUG_INPUT_UNK")
}

// LoadToken returns the Home Assistant access token: the inline/env
// token wins, then the token file.
func (c *Config) LoadToken() (string, error) {
	if tok := strings.TrimSpace(c.HA.Token); tok != "" {
		return tok, nil
	}

	path := strings.TrimSpace(c.HA.TokenFile)
	if path == "" {
		return "", errTokenUnavailable
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &TokenFileError{Path: path, Err: err}
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", &TokenFileError{Path: path, Err: errTokenEmpty}
	}
	return tok, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/remotehub/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "remotehub", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
