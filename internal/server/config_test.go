package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if cfg.Mode != "mock" {
		t.Fatalf("expected mock default, got %s", cfg.Mode)
	}
	cc := cfg.ChannelConfig()
	if cc.URL != "ws://broker.hivemq.com:8000/mqtt" || cc.Topic != "hivemq/test" {
		t.Fatalf("unexpected broker defaults %+v", cc)
	}
	if cfg.MockInterval() != 5*time.Second {
		t.Fatalf("expected 5s mock interval, got %v", cfg.MockInterval())
	}
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "mode: live\nmqtt:\n  url: ws://localhost:9001/mqtt\n  topic: bueiro/1\n  qos: 1\nmock:\n  interval_ms: 250\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("# local\nMQTT_TOPIC=\"bueiro/env\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MQTT_TOPIC", "")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("MQTT_QOS", "7")

	cfg := LoadConfig(path, nil)
	if cfg.Mode != "live" {
		t.Fatalf("expected live from yaml, got %s", cfg.Mode)
	}
	cc := cfg.ChannelConfig()
	if cc.URL != "ws://localhost:9001/mqtt" {
		t.Fatalf("unexpected url %s", cc.URL)
	}
	if cc.Topic != "bueiro/env" {
		t.Fatalf("expected .env topic, got %s", cc.Topic)
	}
	if cc.QoS != 0 {
		t.Fatalf("out-of-range qos should clamp to 0, got %d", cc.QoS)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Fatalf("expected env listen addr, got %s", cfg.Server.ListenAddr)
	}
	if cfg.MockInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected mock interval %v", cfg.MockInterval())
	}
}

func TestUpdateFromJSONMergesAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	cfg := LoadConfig(path, nil)

	if err := cfg.UpdateFromJSON([]byte(`{"mqtt":{"topic":"bueiro/2"}}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.MQTT.Topic != "bueiro/2" {
		t.Fatalf("topic not updated: %s", cfg.MQTT.Topic)
	}
	if cfg.MQTT.URL == "" || cfg.GPS.Type != "static" {
		t.Fatalf("untouched fields lost: %+v %+v", cfg.MQTT, cfg.GPS)
	}
	if err := cfg.UpdateFromJSON([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid patch")
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	reloaded := LoadConfig(path, nil)
	if reloaded.MQTT.Topic != "bueiro/2" {
		t.Fatalf("saved topic not reloaded: %s", reloaded.MQTT.Topic)
	}
}
