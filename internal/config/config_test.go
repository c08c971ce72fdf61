package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		InstanceID: "test-instance-abc",
		BaseDir:    "/home/user/.local/share/cvc",
		LogDir:     "/home/user/.local/share/cvc/log",
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
			{Type: "s3", Name: "offsite", S3Bucket: "snapshots", S3Prefix: "cvc/", S3Region: "eu-west-1", S3Endpoint: "http://localhost:9000"},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/cvc/keys/cvc.pub",
			PrivateKeyPath: "/home/user/.local/share/cvc/keys/cvc.key",
		},
		Database: DatabaseConfig{Type: "postgres", URL: "postgres://localhost/cvc", AutoMigrate: true},
		Locking:  LockingConfig{Type: "redis", RedisURL: "redis://localhost:6379/0", TTLSeconds: 15},
		History:  HistoryConfig{MaxAncestryDepth: 500, MaxCheckoutRetries: 2, ProtectMainBranch: true},
		Log:      LogConfig{MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 7},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if len(got.Vaults) != 2 {
		t.Fatalf("len(Vaults) = %d, want 2", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Vaults[1].S3Endpoint != "http://localhost:9000" {
		t.Errorf("Vault.S3Endpoint = %q, want %q", got.Vaults[1].S3Endpoint, "http://localhost:9000")
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Locking != original.Locking {
		t.Errorf("Locking = %+v, want %+v", got.Locking, original.Locking)
	}
	if got.History != original.History {
		t.Errorf("History = %+v, want %+v", got.History, original.History)
	}
	if got.Log != original.Log {
		t.Errorf("Log = %+v, want %+v", got.Log, original.Log)
	}
}

func TestManager_Read_HandWritten(t *testing.T) {
	input := `
instance_id = "abc"
base_dir = "/srv/cvc"

[database]
type = "memory"

[locking]
type = "local"

[[vaults]]
type = "memory"
name = "scratch"
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Database.Type != "memory" {
		t.Errorf("Database.Type = %q, want memory", got.Database.Type)
	}
	if got.Database.AutoMigrate {
		t.Error("Database.AutoMigrate = true, want false when omitted")
	}
	if got.Locking.Type != "local" {
		t.Errorf("Locking.Type = %q, want local", got.Locking.Type)
	}
	if len(got.Vaults) != 1 || got.Vaults[0].Name != "scratch" {
		t.Errorf("Vaults = %+v, want one vault named scratch", got.Vaults)
	}
	if got.History.MaxAncestryDepth != 0 {
		t.Errorf("History.MaxAncestryDepth = %d, want 0", got.History.MaxAncestryDepth)
	}
}

func TestManager_Read_Invalid(t *testing.T) {
	if _, err := (&Manager{}).Read(strings.NewReader("instance_id = ")); err == nil {
		t.Fatal("Read() expected error for malformed TOML")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("inst-1", "/data/cvc")

	if cfg.InstanceID != "inst-1" {
		t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "inst-1")
	}
	if cfg.LogDir != "/data/cvc/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/cvc/log")
	}
	if cfg.Encryption.PublicKeyPath != "/data/cvc/keys/cvc.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/cvc/keys/cvc.pub")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/cvc/keys/cvc.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", cfg.Encryption.PrivateKeyPath, "/data/cvc/keys/cvc.key")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/cvc/db" || !cfg.Database.AutoMigrate {
		t.Errorf("Database = %+v, want migrated sqlite under /data/cvc/db", cfg.Database)
	}
	if cfg.Locking.Type != "none" {
		t.Errorf("Locking.Type = %q, want none", cfg.Locking.Type)
	}
	if cfg.History.MaxAncestryDepth != 10000 || cfg.History.MaxCheckoutRetries != 5 {
		t.Errorf("History = %+v, want depth 10000 and 5 retries", cfg.History)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cvc.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cvc.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cvc.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.InstanceID != "read-test" {
			t.Errorf("InstanceID = %q, want %q", got.InstanceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/cvc.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
