package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all rtpobserver configuration
type Config struct {
	// Process settings
	Server ServerConfig `json:"server" toml:"server" yaml:"server"`

	// Connection to the media worker
	Channel ChannelConfig `json:"channel" toml:"channel" yaml:"channel"`

	// Router the observer is created on
	Router RouterConfig `json:"router" toml:"router" yaml:"router"`

	// Audio-level observer options
	AudioLevelObserver AudioLevelObserverConfig `json:"audioLevelObserver" toml:"audioLevelObserver" yaml:"audioLevelObserver"`

	// Producers known to the process, added to the observer at startup
	Producers []ProducerDef `json:"producers" toml:"producers" yaml:"producers"`

	// Event journal
	Journal JournalConfig `json:"journal" toml:"journal" yaml:"journal"`
}

type ServerConfig struct {
	DataDir  string `json:"dataDir" toml:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" toml:"logLevel" yaml:"logLevel"`
}

type ChannelConfig struct {
	Transport        string          `json:"transport" toml:"transport" yaml:"transport"` // mqtt | websocket
	Codec            string          `json:"codec" toml:"codec" yaml:"codec"`             // json | cbor
	RequestTimeoutMs int             `json:"requestTimeoutMs" toml:"requestTimeoutMs" yaml:"requestTimeoutMs"`
	WorkerID         string          `json:"workerId" toml:"workerId" yaml:"workerId"`
	MQTT             MQTTConfig      `json:"mqtt" toml:"mqtt" yaml:"mqtt"`
	WebSocket        WebSocketConfig `json:"websocket" toml:"websocket" yaml:"websocket"`
}

type MQTTConfig struct {
	Host     string `json:"host" toml:"host" yaml:"host"`
	Port     int    `json:"port" toml:"port" yaml:"port"`
	Username string `json:"username,omitempty" toml:"username" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" toml:"password" yaml:"password,omitempty"`
}

type WebSocketConfig struct {
	URL             string `json:"url" toml:"url" yaml:"url"`
	TokenSecret     string `json:"tokenSecret,omitempty" toml:"tokenSecret" yaml:"tokenSecret,omitempty"`
	TokenTTLSeconds int    `json:"tokenTTLSeconds,omitempty" toml:"tokenTTLSeconds" yaml:"tokenTTLSeconds,omitempty"`
}

type RouterConfig struct {
	ID string `json:"id" toml:"id" yaml:"id"`
}

type AudioLevelObserverConfig struct {
	MaxEntries int `json:"maxEntries" toml:"maxEntries" yaml:"maxEntries"`
	Threshold  int `json:"threshold" toml:"threshold" yaml:"threshold"`
	Interval   int `json:"interval" toml:"interval" yaml:"interval"` // ms
}

type ProducerDef struct {
	ID   string `json:"id" toml:"id" yaml:"id"`
	Kind string `json:"kind" toml:"kind" yaml:"kind"` // audio | video
}

type JournalConfig struct {
	Enabled        bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Path           string `json:"path,omitempty" toml:"path" yaml:"path,omitempty"` // default: <dataDir>/journal.db
	RetentionHours int    `json:"retentionHours" toml:"retentionHours" yaml:"retentionHours"`
	PruneSchedule  string `json:"pruneSchedule" toml:"pruneSchedule" yaml:"pruneSchedule"` // cron expression
}

// RequestTimeout returns the configured request timeout.
func (c ChannelConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TokenTTL returns the configured handshake token lifetime.
func (c WebSocketConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// Retention returns how long journal entries are kept. Zero keeps them
// forever.
func (c JournalConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// JournalPath returns the journal database path.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Server.DataDir, "journal.db")
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		Channel: ChannelConfig{
			Transport:        "mqtt",
			Codec:            "json",
			RequestTimeoutMs: 10000,
			MQTT: MQTTConfig{
				Host: "127.0.0.1",
				Port: 1883,
			},
			WebSocket: WebSocketConfig{
				TokenTTLSeconds: 3600,
			},
		},
		Router: RouterConfig{
			ID: "router-1",
		},
		AudioLevelObserver: AudioLevelObserverConfig{
			MaxEntries: 1,
			Threshold:  -80,
			Interval:   1000,
		},
		Journal: JournalConfig{
			Enabled:        true,
			RetentionHours: 24,
			PruneSchedule:  "0 * * * *",
		},
	}
}

// format picks the encoding from the file extension. Unknown extensions
// are read as JSON.
func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func decode(path string, data []byte, cfg *Config) error {
	switch format(path) {
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch format(path) {
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "yaml":
		return yaml.Marshal(cfg)
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// Load reads config from a JSON, TOML or YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to path in the format its extension selects
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := encode(path, c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate checks values that would otherwise only fail at startup.
func (c *Config) Validate() error {
	switch c.Channel.Transport {
	case "mqtt":
		if c.Channel.WorkerID == "" {
			return fmt.Errorf("invalid config: channel.workerId required for mqtt transport")
		}
	case "websocket":
		if c.Channel.WebSocket.URL == "" {
			return fmt.Errorf("invalid config: channel.websocket.url required for websocket transport")
		}
	default:
		return fmt.Errorf("invalid config: unknown channel.transport %q (use mqtt or websocket)", c.Channel.Transport)
	}

	switch c.Channel.Codec {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("invalid config: unknown channel.codec %q (use json or cbor)", c.Channel.Codec)
	}

	if c.Router.ID == "" {
		return fmt.Errorf("invalid config: router.id required")
	}

	// The observer options are uint16/int8; reject values that would wrap.
	alo := c.AudioLevelObserver
	if alo.MaxEntries < 1 || alo.MaxEntries > math.MaxUint16 {
		return fmt.Errorf("invalid config: audioLevelObserver.maxEntries %d out of range 1..%d", alo.MaxEntries, math.MaxUint16)
	}
	if alo.Threshold < -127 || alo.Threshold > 0 {
		return fmt.Errorf("invalid config: audioLevelObserver.threshold %d out of range -127..0", alo.Threshold)
	}
	if alo.Interval < 1 || alo.Interval > math.MaxUint16 {
		return fmt.Errorf("invalid config: audioLevelObserver.interval %d out of range 1..%d", alo.Interval, math.MaxUint16)
	}

	seen := make(map[string]bool, len(c.Producers))
	for _, p := range c.Producers {
		if p.ID == "" {
			return fmt.Errorf("invalid config: producer without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("invalid config: duplicate producer %q", p.ID)
		}
		seen[p.ID] = true
		if p.Kind != "audio" && p.Kind != "video" {
			return fmt.Errorf("invalid config: producer %q has unknown kind %q", p.ID, p.Kind)
		}
	}

	if c.Journal.Enabled && c.Journal.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Journal.PruneSchedule); err != nil {
			return fmt.Errorf("invalid config: journal.pruneSchedule: %w", err)
		}
	}
	return nil
}
