package config

import (
	"testing"
	"time"
)

func TestServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":3001" {
		t.Errorf("HTTPAddr: %q", cfg.HTTPAddr)
	}
	if cfg.OfferTTL != 30*time.Second {
		t.Errorf("OfferTTL: %v", cfg.OfferTTL)
	}
	if cfg.FeeBase != 1.5 || cfg.FeePerKm != 0.5 || cfg.FeeMin != 1.5 || cfg.FeeMax != 10.0 {
		t.Errorf("fee defaults: %+v", cfg)
	}
}

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("OFFER_TTL", "45s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DISPATCH_TOP_N", "3")
	t.Setenv("FEE_MAX", "12.5")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.OfferTTL != 45*time.Second || cfg.DispatchTopN != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.FeeMax != 12.5 {
		t.Errorf("FeeMax: %v", cfg.FeeMax)
	}
}

func TestServerConfigAccumulatesErrors(t *testing.T) {
	t.Setenv("OFFER_TTL", "soon")
	t.Setenv("DISPATCH_TOP_N", "many")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected errors for malformed values")
	}
}

func TestServerConfigValidation(t *testing.T) {
	t.Setenv("FEE_MIN", "11")
	t.Setenv("FEE_MAX", "10")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("FEE_MIN above FEE_MAX must fail validation")
	}
}

func TestClientConfigDefaults(t *testing.T) {
	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReconnectAttempts != 10 || cfg.ReconnectDelay != time.Second {
		t.Errorf("reconnect defaults: %+v", cfg)
	}
	if cfg.DialTimeout != 10*time.Second || cfg.PollInterval != 15*time.Second {
		t.Errorf("timing defaults: %+v", cfg)
	}
}

func TestClientConfigRejectsSubSecondDelay(t *testing.T) {
	t.Setenv("RECONNECT_DELAY", "100ms")
	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("sub-second reconnect delay must be rejected")
	}
}
