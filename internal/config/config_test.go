package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadWithFile(t *testing.T, content string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gpuctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithFile(t, "image_id: ami-0123456789abcdef0\n")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Provider != ProviderAWS {
		t.Errorf("Provider = %s, want aws", cfg.Provider)
	}
	if cfg.AWS.Region != "us-west-2" {
		t.Errorf("Region = %s, want us-west-2", cfg.AWS.Region)
	}
	if cfg.InstanceType != "g4dn.xlarge" {
		t.Errorf("InstanceType = %s, want g4dn.xlarge", cfg.InstanceType)
	}
	if cfg.NamePrefix != "rnnt" {
		t.Errorf("NamePrefix = %s, want rnnt", cfg.NamePrefix)
	}
	if cfg.HourlyRate <= 0 {
		t.Errorf("HourlyRate = %v, want positive default", cfg.HourlyRate)
	}
}

func TestLoadMissingImage(t *testing.T) {
	cfg, err := loadWithFile(t, "name_prefix: rnnt\n")
	if err == nil {
		t.Error("expected error for missing image_id, but got none")
	}
	if cfg != nil {
		t.Error("expected config to be nil when validation fails")
	}
}

func TestLoadUnknownProvider(t *testing.T) {
	_, err := loadWithFile(t, "provider: azure\nimage_id: img-1\n")
	if err == nil {
		t.Error("expected error for unsupported provider, but got none")
	}
}

func TestLoadDigitalOceanRequiresToken(t *testing.T) {
	_, err := loadWithFile(t, `provider: digitalocean
digitalocean:
  region: nyc3
image_id: gpu-h100x1-base
`)
	if err == nil {
		t.Error("expected error for missing token, but got none")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("GPUCTL_STATE_DIR", "/tmp/gpuctl-test-state")

	cfg, err := loadWithFile(t, "image_id: ami-0123456789abcdef0\n")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AWS.Region != "us-east-1" {
		t.Errorf("Region = %s, want env override us-east-1", cfg.AWS.Region)
	}
	if cfg.StateDir != "/tmp/gpuctl-test-state" {
		t.Errorf("StateDir = %s, want env override", cfg.StateDir)
	}
}

func TestLoadNegativeRate(t *testing.T) {
	_, err := loadWithFile(t, "image_id: ami-1\nhourly_rate: -1\n")
	if err == nil {
		t.Error("expected error for negative hourly_rate, but got none")
	}
}
