package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CACHE_KYC_STATUS_TTL", "45s")
	t.Setenv("KYC_AUTO_APPROVE", "false")
	t.Setenv("ORDERS_BASE_URL", "https://orders.example.com/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Cache.KYCStatusTTL != 45*time.Second {
		t.Errorf("Cache.KYCStatusTTL = %v, want %v", cfg.Cache.KYCStatusTTL, 45*time.Second)
	}
	if cfg.KYC.AutoApprove {
		t.Errorf("KYC.AutoApprove = true, want false")
	}
	if cfg.Orders.BaseURL != "https://orders.example.com" {
		t.Errorf("Orders.BaseURL = %q, trailing slash should be trimmed", cfg.Orders.BaseURL)
	}
	if cfg.Storage.ImagesBucket != "project_images" || cfg.Storage.KYCBucket != "kycdocument" {
		t.Errorf("unexpected bucket defaults: %q %q", cfg.Storage.ImagesBucket, cfg.Storage.KYCBucket)
	}
	if cfg.Storage.PublicBaseURL != "http://localhost:9090/storage" {
		t.Errorf("Storage.PublicBaseURL = %q", cfg.Storage.PublicBaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		ttl     time.Duration
		wantErr bool
	}{
		{name: "missing secret", secret: "", ttl: time.Hour, wantErr: true},
		{name: "short secret", secret: "short", ttl: time.Hour, wantErr: true},
		{name: "zero ttl", secret: "0123456789abcdef", ttl: 0, wantErr: true},
		{name: "valid", secret: "0123456789abcdef", ttl: time.Hour, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Auth: AuthConfig{JWTSecret: tt.secret, TokenTTL: tt.ttl}}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: "5432", Database: "market", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/market?sslmode=disable"
	if got := c.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %q, want %q", got, want)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{name: "returns integer when valid", envValue: "200", want: 200},
		{name: "returns default when invalid", envValue: "invalid", want: 100},
		{name: "returns default when not set", envValue: "", want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getEnvAsInt("TEST_INT", 100); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		want     bool
	}{
		{name: "true literal", envValue: "true", def: false, want: true},
		{name: "numeric false", envValue: "0", def: true, want: false},
		{name: "invalid keeps default", envValue: "maybe", def: true, want: true},
		{name: "unset keeps default", envValue: "", def: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvAsBool("TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getEnvAsBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "returns duration when valid", envValue: "30s", want: 30 * time.Second},
		{name: "returns default when invalid", envValue: "invalid", want: 10 * time.Second},
		{name: "returns default when not set", envValue: "", want: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			if got := getEnvAsDuration("TEST_DURATION", 10*time.Second); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
