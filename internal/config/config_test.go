package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agents.Defaults.MaxToolIterations != 20 {
		t.Errorf("expected MaxToolIterations=20, got %d", cfg.Agents.Defaults.MaxToolIterations)
	}
	if cfg.Agents.Defaults.Temperature != 0.7 {
		t.Errorf("expected Temperature=0.7, got %f", cfg.Agents.Defaults.Temperature)
	}
	if cfg.Gateway.Port != 18890 {
		t.Errorf("expected Port=18890, got %d", cfg.Gateway.Port)
	}
	if cfg.Guard.Threshold != "L2" {
		t.Errorf("expected guard threshold L2, got %s", cfg.Guard.Threshold)
	}
	if cfg.Guard.ApprovalTTL != "15m" {
		t.Errorf("expected approval ttl 15m, got %s", cfg.Guard.ApprovalTTL)
	}
}

func TestValidate_GuardThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Guard.Threshold = "l1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected lowercase threshold to normalize, got %v", err)
	}
	if cfg.Guard.Threshold != "L1" {
		t.Fatalf("expected normalized L1, got %s", cfg.Guard.Threshold)
	}

	cfg.Guard.Threshold = "L5"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for undefined threshold")
	}
}

func TestValidate_EmptyThresholdDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Guard.Threshold = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Guard.Threshold != "L2" {
		t.Fatalf("expected default threshold L2, got %s", cfg.Guard.Threshold)
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
