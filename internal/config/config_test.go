package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8080" {
					t.Errorf("expected port 8080, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.WSReadTimeout != 60*time.Second {
					t.Errorf("expected WSReadTimeout 60s, got %v", cfg.WSReadTimeout)
				}
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":             "9000",
				"LOG_LEVEL":        "debug",
				"WS_READ_TIMEOUT":  "30",
				"WS_WRITE_TIMEOUT": "5",
				"ALLOWED_ORIGINS":  "http://example.com,http://test.com",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("expected log level debug, got %s", cfg.LogLevel)
				}
				if cfg.WSReadTimeout != 30*time.Second {
					t.Errorf("expected WSReadTimeout 30s, got %v", cfg.WSReadTimeout)
				}
				if cfg.WSWriteTimeout != 5*time.Second {
					t.Errorf("expected WSWriteTimeout 5s, got %v", cfg.WSWriteTimeout)
				}
				if len(cfg.AllowedOrigins) != 2 {
					t.Errorf("expected 2 allowed origins, got %d", len(cfg.AllowedOrigins))
				}
			},
		},
		{
			name: "invalid WS_READ_TIMEOUT",
			env: map[string]string{
				"WS_READ_TIMEOUT": "invalid",
			},
			wantErr: true,
		},
		{
			name: "invalid WS_WRITE_TIMEOUT",
			env: map[string]string{
				"WS_WRITE_TIMEOUT": "invalid",
			},
			wantErr: true,
		},
		{
			name: "routing defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.CollaboratorTimeout != 5*time.Second {
					t.Errorf("expected CollaboratorTimeout 5s, got %v", cfg.CollaboratorTimeout)
				}
				if cfg.SweepInterval != 30*time.Second {
					t.Errorf("expected SweepInterval 30s, got %v", cfg.SweepInterval)
				}
				if cfg.SweepBatch != 100 {
					t.Errorf("expected SweepBatch 100, got %d", cfg.SweepBatch)
				}
				if cfg.DirectoryMode != "memory" {
					t.Errorf("expected memory directory, got %s", cfg.DirectoryMode)
				}
				if cfg.QueueMaxRetries != 3 {
					t.Errorf("expected 3 queue retries, got %d", cfg.QueueMaxRetries)
				}
				if cfg.RespectBusinessHours {
					t.Error("expected business hours to be ignored by default")
				}
				if !cfg.WatchFiles || cfg.WatchDebounce != 250*time.Millisecond {
					t.Errorf("expected file watching on with 250ms debounce, got %v %v", cfg.WatchFiles, cfg.WatchDebounce)
				}
				if cfg.JWTSecret != "" || cfg.AuthEnabled() {
					t.Error("expected no compiled-in JWT secret")
				}
			},
		},
		{
			name: "routing overrides",
			env: map[string]string{
				"COLLABORATOR_TIMEOUT":   "750ms",
				"SWEEP_INTERVAL":         "1m",
				"SWEEP_BATCH":            "25",
				"DIRECTORY_MODE":         "sqlite",
				"DIRECTORY_DSN":          "file:test.db",
				"RESPECT_BUSINESS_HOURS": "true",
				"QUEUE_RETRY_BASE":       "1s",
				"JWT_SECRET":             "s3cr3t",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.CollaboratorTimeout != 750*time.Millisecond {
					t.Errorf("expected CollaboratorTimeout 750ms, got %v", cfg.CollaboratorTimeout)
				}
				if cfg.SweepInterval != time.Minute {
					t.Errorf("expected SweepInterval 1m, got %v", cfg.SweepInterval)
				}
				if cfg.SweepBatch != 25 {
					t.Errorf("expected SweepBatch 25, got %d", cfg.SweepBatch)
				}
				if cfg.DirectoryMode != "sqlite" || cfg.DirectoryDSN != "file:test.db" {
					t.Errorf("unexpected directory settings %s %s", cfg.DirectoryMode, cfg.DirectoryDSN)
				}
				if !cfg.RespectBusinessHours {
					t.Error("expected business hours to be respected")
				}
				if cfg.QueueRetryBase != time.Second {
					t.Errorf("expected QueueRetryBase 1s, got %v", cfg.QueueRetryBase)
				}
				if !cfg.AuthEnabled() {
					t.Error("expected auth to be enabled")
				}
			},
		},
		{
			name:    "invalid COLLABORATOR_TIMEOUT",
			env:     map[string]string{"COLLABORATOR_TIMEOUT": "5"},
			wantErr: true,
		},
		{
			name:    "negative SWEEP_BATCH",
			env:     map[string]string{"SWEEP_BATCH": "-1"},
			wantErr: true,
		},
		{
			name:    "invalid QUEUE_WORKERS",
			env:     map[string]string{"QUEUE_WORKERS": "many"},
			wantErr: true,
		},
		{
			name:    "invalid RESPECT_BUSINESS_HOURS",
			env:     map[string]string{"RESPECT_BUSINESS_HOURS": "sometimes"},
			wantErr: true,
		},
		{
			name: "file watching",
			env:  map[string]string{"WATCH_FILES": "false", "WATCH_DEBOUNCE": "1s"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.WatchFiles {
					t.Error("expected file watching to be disabled")
				}
				if cfg.WatchDebounce != time.Second {
					t.Errorf("expected WatchDebounce 1s, got %v", cfg.WatchDebounce)
				}
			},
		},
		{
			name:    "invalid WATCH_FILES",
			env:     map[string]string{"WATCH_FILES": "maybe"},
			wantErr: true,
		},
		{
			name:    "unknown DIRECTORY_MODE",
			env:     map[string]string{"DIRECTORY_MODE": "ldap"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			// Load config
			cfg, err := Load()

			// Check error
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Run custom checks
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestWebSocketConstants(t *testing.T) {
	// Clear environment and set clean defaults
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// PongWait should equal WSReadTimeout
	if cfg.PongWait != cfg.WSReadTimeout {
		t.Errorf("PongWait (%v) should equal WSReadTimeout (%v)", cfg.PongWait, cfg.WSReadTimeout)
	}

	// PingPeriod should be less than PongWait
	if cfg.PingPeriod >= cfg.PongWait {
		t.Errorf("PingPeriod (%v) should be less than PongWait (%v)", cfg.PingPeriod, cfg.PongWait)
	}

	// WriteWait should equal WSWriteTimeout
	if cfg.WriteWait != cfg.WSWriteTimeout {
		t.Errorf("WriteWait (%v) should equal WSWriteTimeout (%v)", cfg.WriteWait, cfg.WSWriteTimeout)
	}

	// MaxMessageSize should be set
	if cfg.MaxMessageSize <= 0 {
		t.Errorf("MaxMessageSize should be positive, got %d", cfg.MaxMessageSize)
	}
}
