// Package config loads the room-media hub's runtime configuration from
// environment variables, matching the names recorded in spec §6.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config holds every environment-derived setting the hub needs at startup.
type Config struct {
	HAWSURL      string
	HAToken      string
	HATokenFile  string
	HAActivity   string
	HACmdEvent   string
	HAWebhookURL string

	USBReceiver string
	USBGrab     bool

	BLEAdapter    string
	BLEDeviceName string

	KeymapPath string
	DataDir    string
	Port       string

	RepeatInitialMs int
	RepeatRateMs    int

	RoomName string

	KEFHost string
	MAURL   string
	TVHost  string

	DefWatchVolume   int
	DefListenVolume  int
	DefListenStation string

	LogLevel string

	DebugBT        bool
	DebugInput     bool
	DebugInputUnk  bool
}

// Load reads every variable named in spec §6, applying the defaults the
// spec calls out explicitly (REPEAT_INITIAL_MS=400, REPEAT_RATE_MS=400)
// and reasonable defaults for the rest. A missing HA_TOKEN and
// HA_TOKEN_FILE together with a non-empty HA_WS_URL is a fatal
// configuration error, matching spec §7's "Configuration" error kind.
func Load() (*Config, error) {
	c := &Config{
		HAWSURL:      os.Getenv("HA_WS_URL"),
		HAToken:      os.Getenv("HA_TOKEN"),
		HATokenFile:  os.Getenv("HA_TOKEN_FILE"),
		HAActivity:   os.Getenv("HA_ACTIVITY"),
		HACmdEvent:   os.Getenv("HA_CMD_EVENT"),
		HAWebhookURL: os.Getenv("HA_WEBHOOK_URL"),

		USBReceiver: os.Getenv("USB_RECEIVER"),
		USBGrab:     envBool("USB_GRAB", true),

		BLEAdapter:    envOr("BLE_ADAPTER", "hci0"),
		BLEDeviceName: envOr("BLE_DEVICE_NAME", "Room Remote"),

		KeymapPath: os.Getenv("KEYMAP_PATH"),
		DataDir:    envOr("DATA_DIR", "/var/lib/roomhub"),
		Port:       envOr("PORT", "8080"),

		RepeatInitialMs: envInt("REPEAT_INITIAL_MS", 400),
		RepeatRateMs:    envInt("REPEAT_RATE_MS", 400),

		RoomName: envOr("ROOM_NAME", "room"),

		KEFHost: os.Getenv("KEF_HOST"),
		MAURL:   os.Getenv("MA_URL"),
		TVHost:  os.Getenv("TV_HOST"),

		DefWatchVolume:   envInt("DEF_WATCH_VOL", 25),
		DefListenVolume:  envInt("DEF_LISTEN_VOL", 20),
		DefListenStation: os.Getenv("DEF_LISTEN_STATION"),

		LogLevel: envOr("LOG_LEVEL", "info"),

		DebugBT:       envBool("DEBUG_BT", false),
		DebugInput:    envBool("DEBUG_INPUT", false),
		DebugInputUnk: envBool("DEBUG_INPUT_UNK", false),
	}

	if c.HAWSURL != "" && c.HAToken == "" && c.HATokenFile == "" {
		return nil, errors.New("config: HA_WS_URL set but neither HA_TOKEN nor HA_TOKEN_FILE provided")
	}
	if c.HATokenFile != "" {
		data, err := os.ReadFile(c.HATokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "config: reading HA_TOKEN_FILE")
		}
		c.HAToken = string(data)
	}
	return c, nil
}

// RepeatInitial and RepeatRate return the configured software
// auto-repeat timings as durations (spec §4.5).
func (c *Config) RepeatInitial() time.Duration { return time.Duration(c.RepeatInitialMs) * time.Millisecond }
func (c *Config) RepeatRate() time.Duration    { return time.Duration(c.RepeatRateMs) * time.Millisecond }

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
