package main

import (
	"testing"

	"github.com/leon-anavi/rvi-sota-client/internal/observability"
)

func TestNewEdgeService(t *testing.T) {
	cfg := &EdgeConfig{
		ListenAddr:       ":4434",
		MaxConnections:   100,
		StreamBufferSize: 65536,
		AuthMode:         "none",
	}
	logger := observability.NewLogger("rvi-edge-test", "0.0.0", nil)
	service := NewEdgeService(cfg, logger, observability.NewMetrics())
	if service == nil {
		t.Fatal("expected service to be created")
	}
	if service.config.ListenAddr != ":4434" {
		t.Errorf("got listen addr %q", service.config.ListenAddr)
	}
	if service.admission == nil {
		t.Error("expected an admission token bucket")
	}
}

func TestValidToken(t *testing.T) {
	if validToken("") {
		t.Error("expected empty token to fail validation")
	}
	if validToken("short") {
		t.Error("expected a short token to fail validation")
	}
	if !validToken("a-valid-looking-token") {
		t.Error("expected a long token to pass validation")
	}
}

func TestEdgeConfigFields(t *testing.T) {
	cfg := &EdgeConfig{
		ListenAddr:       ":4434",
		MaxConnections:   1000,
		StreamBufferSize: 65536,
		AuthMode:         "token",
	}
	if cfg.MaxConnections != 1000 {
		t.Errorf("got max connections %d", cfg.MaxConnections)
	}
	if cfg.AuthMode != "token" {
		t.Errorf("got auth mode %q", cfg.AuthMode)
	}
}
