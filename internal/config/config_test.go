package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OTA.Server == "" {
		t.Error("expected non-empty default ota server")
	}
	if cfg.IPC.Timeout <= 0 {
		t.Error("expected positive default ipc timeout")
	}
}

func TestLoadRequiresDeviceUUID(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when device.uuid is unset")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ota-client.yaml")
	contents := []byte("device:\n  uuid: test-device\nauth:\n  client_id: abc\n  secret: xyz\n  server: http://auth.example\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.UUID != "test-device" {
		t.Errorf("device.uuid: got %q", cfg.Device.UUID)
	}
	if cfg.Auth.ClientID != "abc" {
		t.Errorf("auth.client_id: got %q", cfg.Auth.ClientID)
	}
	if cfg.Auth.Server != "http://auth.example" {
		t.Errorf("auth.server: got %q", cfg.Auth.Server)
	}
	// unset keys should still carry their defaults
	if cfg.OTA.PackageManager != "dpkg" {
		t.Errorf("ota.package_manager default not applied: got %q", cfg.OTA.PackageManager)
	}
}
