package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/logger"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Startup mode: "mock" or "live"
	Mode string `yaml:"mode" json:"mode"`

	// Broker
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Synthetic data
	Mock MockConfig `yaml:"mock" json:"mock"`

	// Device position
	GPS GPSConfig `yaml:"gps" json:"gps"`

	// Logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type MQTTConfig struct {
	URL               string `yaml:"url" json:"url"`             // e.g. ws://broker.hivemq.com:8000/mqtt
	Topic             string `yaml:"topic" json:"topic"`         // e.g. hivemq/test
	ClientID          string `yaml:"client_id" json:"clientId"`  // empty = random mobileClient_<hex>
	QoS               int    `yaml:"qos" json:"qos"`             // 0 or 1; delivery is best-effort either way
	KeepAliveSec      int    `yaml:"keep_alive_sec" json:"keepAliveSec"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec" json:"connectTimeoutSec"`
}

type MockConfig struct {
	IntervalMs int `yaml:"interval_ms" json:"intervalMs"` // ms between synthetic readings
}

type GPSConfig struct {
	Type       string  `yaml:"type" json:"type"`          // "nmea", "static" or "disabled"
	PortPath   string  `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate   int     `yaml:"baud_rate" json:"baudRate"`
	Latitude   float64 `yaml:"latitude" json:"latitude"` // static provider only
	Longitude  float64 `yaml:"longitude" json:"longitude"`
	TimeoutSec int     `yaml:"timeout_sec" json:"timeoutSec"` // how long to wait for a fix
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode: "mock",
		MQTT: MQTTConfig{
			URL:               telemetry.DefaultBrokerURL,
			Topic:             telemetry.DefaultTopic,
			QoS:               0,
			KeepAliveSec:      60,
			ConnectTimeoutSec: 10,
		},
		Mock: MockConfig{
			IntervalMs: int(telemetry.DefaultMockInterval / time.Millisecond),
		},
		GPS: GPSConfig{
			Type:       "static",
			PortPath:   "/dev/ttyGPS",
			BaudRate:   9600,
			Latitude:   -23.55052, // São Paulo
			Longitude:  -46.633308,
			TimeoutSec: 60,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log *zap.Logger) *Config {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file, using defaults", zap.String("path", path))
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn("config parse error, using defaults", zap.String("path", path), zap.Error(err))
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info("config loaded", zap.String("path", path))
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		if loadEnvFile(ep) {
			log.Info("loaded .env", zap.String("path", ep))
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
	return true
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: MODE, MQTT_URL, MQTT_TOPIC, MQTT_CLIENT_ID, MQTT_QOS,
// MOCK_INTERVAL_MS, GPS_TYPE, GPS_PORT, GPS_BAUD, GPS_LAT, GPS_LNG,
// LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT, LOG_FILE
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		c.MQTT.URL = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_QOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MQTT.QoS = n
		}
	}
	if v := os.Getenv("MOCK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Mock.IntervalMs = n
		}
	}
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("GPS_LAT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.GPS.Latitude = n
		}
	}
	if v := os.Getenv("GPS_LNG"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.GPS.Longitude = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// ChannelConfig returns the broker settings for a new live channel. Read at
// every Live activation, so updates apply on the next toggle.
func (c *Config) ChannelConfig() telemetry.ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	qos := c.MQTT.QoS
	if qos < 0 || qos > 1 {
		qos = 0
	}
	return telemetry.ChannelConfig{
		URL:            c.MQTT.URL,
		ClientID:       c.MQTT.ClientID,
		Topic:          c.MQTT.Topic,
		QoS:            byte(qos),
		KeepAlive:      time.Duration(c.MQTT.KeepAliveSec) * time.Second,
		ConnectTimeout: time.Duration(c.MQTT.ConnectTimeoutSec) * time.Second,
	}
}

// MockInterval returns the synthetic reading period.
func (c *Config) MockInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Mock.IntervalMs) * time.Millisecond
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "/etc/bueirodash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
