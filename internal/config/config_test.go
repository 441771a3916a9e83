package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != BackendLocal {
		t.Errorf("Backend = %q, want %q", cfg.Storage.Backend, BackendLocal)
	}
	if cfg.Storage.Name != "default" {
		t.Errorf("Name = %q, want default", cfg.Storage.Name)
	}
	if cfg.Storage.Blob.BlockSize != 64*1024 {
		t.Errorf("BlockSize = %d, want 65536", cfg.Storage.Blob.BlockSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := writeFile(t, dir, "rastore.yaml", `
logging:
  level: debug
  format: json
storage:
  backend: s3
  name: volume-1
  blob:
    block_size: 4096
  aws:
    bucket: my-bucket
    region: eu-west-1
    use_path_style: true
  azure:
    account: acct
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Backend != BackendS3 || cfg.Storage.Name != "volume-1" {
		t.Errorf("Storage = %q/%q", cfg.Storage.Backend, cfg.Storage.Name)
	}
	if cfg.Storage.Blob.BlockSize != 4096 {
		t.Errorf("BlockSize = %d", cfg.Storage.Blob.BlockSize)
	}
	if cfg.Storage.AWS.Bucket != "my-bucket" || cfg.Storage.AWS.Region != "eu-west-1" || !cfg.Storage.AWS.UsePathStyle {
		t.Errorf("AWS = %+v", cfg.Storage.AWS)
	}
	if cfg.Storage.Azure.AccountURL != "https://acct.blob.core.windows.net" {
		t.Errorf("AccountURL = %q", cfg.Storage.Azure.AccountURL)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false")
	}
	if cfg.Storage.Local.Path == "" {
		t.Error("unset fields should still get defaults")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, t.TempDir(), "bad.yaml", "storage: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on invalid YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RASTORE_BACKEND", "memory")
	t.Setenv("RASTORE_LOG_LEVEL", "warn")
	t.Setenv("RASTORE_MEMORY_MAX_SIZE", "1024")
	t.Setenv("RASTORE_METRICS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Memory.MaxSize != 1024 {
		t.Errorf("MaxSize = %d", cfg.Storage.Memory.MaxSize)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false")
	}
}

func TestEnvironmentBadNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RASTORE_BLOCK_SIZE", "large")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "RASTORE_BLOCK_SIZE") {
		t.Errorf("Load = %v, want a RASTORE_BLOCK_SIZE parse error", err)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "RASTORE_BACKEND=pebble\nRASTORE_PEBBLE_DIR=/var/lib/pebble\nRASTORE_NAME=from-dotenv\n")
	t.Setenv("RASTORE_NAME", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != BackendPebble || cfg.Storage.Pebble.Dir != "/var/lib/pebble" {
		t.Errorf("dotenv values not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.Name != "from-env" {
		t.Errorf("Name = %q, process environment should win over .env", cfg.Storage.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"memory", func(c *Config) { c.Storage.Backend = BackendMemory }, ""},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "floppy" }, "unknown storage backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = BackendS3 }, "storage.aws.bucket"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcp.bucket"},
		{"azure without account", func(c *Config) {
			c.Storage.Backend = BackendAzure
			c.Storage.Azure.Container = "c"
		}, "account_url"},
		{"dynamodb without table", func(c *Config) { c.Storage.Backend = BackendDynamoDB }, "storage.dynamodb.table"},
		{"firestore without project", func(c *Config) { c.Storage.Backend = BackendFirestore }, "storage.firestore.project_id"},
		{"cosmos without container", func(c *Config) {
			c.Storage.Backend = BackendCosmos
			c.Storage.Cosmos.Endpoint = "https://acct.documents.azure.com:443/"
			c.Storage.Cosmos.Database = "db"
		}, "database and container"},
		{"badger in memory", func(c *Config) {
			c.Storage.Backend = BackendBadger
			c.Storage.Badger = BadgerConfig{InMemory: true}
		}, ""},
		{"empty name", func(c *Config) { c.Storage.Name = "" }, "storage.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
