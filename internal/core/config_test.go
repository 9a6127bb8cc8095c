package core

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	velocity := func(secret string) *Config {
		cfg := &Config{}
		cfg.Proxy.Enabled = true
		cfg.Proxy.Velocity.Enabled = true
		cfg.Proxy.Velocity.Secret = secret
		return cfg
	}

	tests := map[string]struct {
		cfg       *Config
		wantedErr string
	}{
		"defaults_pass": {
			cfg: &Config{},
		},
		"bad_compression_level": {
			cfg: func() *Config {
				cfg := &Config{}
				cfg.Compression.Enabled = true
				cfg.Compression.Level = 12
				return cfg
			}(),
			wantedErr: "compression level",
		},
		"negative_threshold": {
			cfg: func() *Config {
				cfg := &Config{}
				cfg.Compression.Enabled = true
				cfg.Compression.Threshold = -1
				return cfg
			}(),
			wantedErr: "compression threshold",
		},
		"velocity_without_secret": {
			cfg:       velocity(""),
			wantedErr: "shared secret",
		},
		"proxy_with_online_mode": {
			cfg: func() *Config {
				cfg := velocity("hunter2")
				cfg.OnlineMode = true
				return cfg
			}(),
			wantedErr: "mutually exclusive",
		},
		"online_without_encryption": {
			cfg: func() *Config {
				cfg := &Config{}
				cfg.OnlineMode = true
				return cfg
			}(),
			wantedErr: "requires encryption",
		},
		"proxy_without_mode": {
			cfg: func() *Config {
				cfg := &Config{}
				cfg.Proxy.Enabled = true
				return cfg
			}(),
			wantedErr: "no proxy mode",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantedErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantedErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantedErr, err)
			}
		})
	}
}

func TestConfig_ProxyMode(t *testing.T) {
	cfg := &Config{}
	if cfg.ProxyMode() != ProxyModeNone {
		t.Errorf("expected ProxyModeNone, got %s", cfg.ProxyMode())
	}

	cfg.Proxy.Enabled = true
	cfg.Proxy.Velocity.Enabled = true
	if cfg.ProxyMode() != ProxyModeVelocity {
		t.Errorf("expected ProxyModeVelocity, got %s", cfg.ProxyMode())
	}

	cfg.Proxy.Velocity.Enabled = false
	cfg.Proxy.BungeeCord.Enabled = true
	if cfg.ProxyMode() != ProxyModeBungeeCord {
		t.Errorf("expected ProxyModeBungeeCord, got %s", cfg.ProxyMode())
	}
}
