package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Load()
	cfg.GatewaySourceAccount = "2323230000000000"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.PayoutSchedule != "0 2 * * *" {
		t.Errorf("expected default schedule, got: %s", cfg.PayoutSchedule)
	}
	if cfg.PayoutTimezone != "Asia/Kolkata" {
		t.Errorf("expected default timezone, got: %s", cfg.PayoutTimezone)
	}
	if cfg.PayoutBatchSize != 50 {
		t.Errorf("expected default batch size 50, got: %d", cfg.PayoutBatchSize)
	}
	if cfg.GatewayTimeout != 20*time.Second {
		t.Errorf("expected default timeout 20s, got: %s", cfg.GatewayTimeout)
	}
	if cfg.StoreType != "redis" {
		t.Errorf("expected redis store, got: %s", cfg.StoreType)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PAYOUT_BATCH_SIZE", "10")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("PAYOUT_TIMEZONE", "UTC")

	cfg := Load()

	if cfg.PayoutBatchSize != 10 {
		t.Errorf("expected batch size 10, got: %d", cfg.PayoutBatchSize)
	}
	if cfg.GatewayTimeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got: %s", cfg.GatewayTimeout)
	}
	if cfg.SchedulerEnabled {
		t.Error("expected scheduler disabled")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC location, got: %s", cfg.Location())
	}
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("PAYOUT_BATCH_SIZE", "lots")

	if got := Load().PayoutBatchSize; got != 50 {
		t.Errorf("expected fallback to 50, got: %d", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.PayoutTimezone = "Mars/Olympus" }, wantErr: "PAYOUT_TIMEZONE"},
		{name: "bad schedule", mutate: func(c *Config) { c.PayoutSchedule = "every day" }, wantErr: "PAYOUT_SCHEDULE"},
		{name: "bad batch size", mutate: func(c *Config) { c.PayoutBatchSize = 0 }, wantErr: "PAYOUT_BATCH_SIZE"},
		{name: "unknown store", mutate: func(c *Config) { c.StoreType = "mongo" }, wantErr: "STORE_TYPE"},
		{name: "http gateway without keys", mutate: func(c *Config) { c.GatewayType = "http" }, wantErr: "GATEWAY_KEY_ID"},
		{name: "missing source account", mutate: func(c *Config) { c.GatewaySourceAccount = "" }, wantErr: "GATEWAY_SOURCE_ACCOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "a:9092, b:9092,,"}

	brokers := cfg.KafkaBrokerList()
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers: %v", brokers)
	}
}

func TestIsProduction(t *testing.T) {
	if !(&Config{Environment: "prod"}).IsProduction() {
		t.Error("expected prod to be production")
	}
	if (&Config{Environment: "development"}).IsProduction() {
		t.Error("expected development not to be production")
	}
}
