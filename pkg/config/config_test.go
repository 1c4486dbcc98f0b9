package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "MIKROTIK_PORT", "INTERPRET_TIMEOUT", "WHATSAPP_MODE", "MIKROTIK_HOST"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "3000" {
		t.Errorf("expected port 3000, got %s", cfg.Port)
	}
	if cfg.RouterPort != 8728 {
		t.Errorf("expected router port 8728, got %d", cfg.RouterPort)
	}
	if cfg.InterpretTimeout != 10*time.Second {
		t.Errorf("expected 10s interpret timeout, got %v", cfg.InterpretTimeout)
	}
	if cfg.WhatsAppMode != WhatsAppModeCloud {
		t.Errorf("expected cloud mode, got %s", cfg.WhatsAppMode)
	}
	if cfg.RouterSecurityProfile != "default" || cfg.RouterWirelessIface != "wlan1" {
		t.Errorf("unexpected router targets: %s %s", cfg.RouterSecurityProfile, cfg.RouterWirelessIface)
	}
	if cfg.RouterCredentials().Complete() {
		t.Error("credentials without host should not be complete")
	}
}

func TestLoad_RouterCredentials(t *testing.T) {
	t.Setenv("MIKROTIK_HOST", "10.0.0.1")
	t.Setenv("MIKROTIK_USER", "admin")
	t.Setenv("MIKROTIK_PASSWORD", "secret")
	t.Setenv("MIKROTIK_PORT", "8729")

	creds := Load().RouterCredentials()
	if !creds.Complete() {
		t.Fatal("expected complete credentials")
	}
	if creds.Address() != "10.0.0.1:8729" {
		t.Errorf("unexpected address %s", creds.Address())
	}
}

func TestGetDuration_Formats(t *testing.T) {
	t.Setenv("X_TIMEOUT", "15s")
	if d := getDuration("X_TIMEOUT", time.Second); d != 15*time.Second {
		t.Errorf("expected 15s, got %v", d)
	}

	t.Setenv("X_TIMEOUT", "20")
	if d := getDuration("X_TIMEOUT", time.Second); d != 20*time.Second {
		t.Errorf("expected 20s, got %v", d)
	}

	t.Setenv("X_TIMEOUT", "soon")
	if d := getDuration("X_TIMEOUT", time.Second); d != time.Second {
		t.Errorf("expected default, got %v", d)
	}
}

func TestDeviceMode(t *testing.T) {
	t.Setenv("WHATSAPP_MODE", "DEVICE")
	if !Load().DeviceMode() {
		t.Error("expected device mode")
	}
}
