package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
	"cvc-go/internal/database"
	"cvc-go/internal/encryption"
	"cvc-go/internal/vault"
)

// ErrDatabaseExists is returned by RestoreSnapshot when a local database
// would be overwritten without force.
var ErrDatabaseExists = errors.New("local database already exists")

// uploadSnapshot copies the database, encrypts the copy and uploads it to
// the vault with the operation ID as its version.
func (a *CVCApp) uploadSnapshot() error {
	tmpDir, err := os.MkdirTemp("", "cvc-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "snapshot.db")
	if err := a.db.BackupTo(plainPath); err != nil {
		if errors.Is(err, cvc.ErrSnapshotUnsupported) {
			a.logger.Debug("skipping snapshot", "reason", err)
			return nil
		}
		return fmt.Errorf("snapshotting database: %w", err)
	}

	encPath, size, err := encryption.EncryptFile(a.encryptor, plainPath)
	if err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}

	f, err := os.Open(encPath)
	if err != nil {
		return fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()

	if err := a.vault.PutMetadata(a.cfg.InstanceID, snapshotName, f, size, a.op.ID); err != nil {
		return fmt.Errorf("uploading snapshot to vault: %w", err)
	}

	a.logger.Info("snapshot uploaded", "version", a.op.ID, "bytes", size)
	return nil
}

// RestoreSnapshot downloads the newest snapshot from the first vault,
// decrypts it with the passphrase-unlocked key and writes it as the local
// sqlite database. It returns the restored snapshot version.
func RestoreSnapshot(ctx context.Context, cfg *config.Config, passphrase string, force bool) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("snapshot restore needs a sqlite database, have %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}

	dbPath := database.SQLitePath(cfg.Database, cfg.InstanceID)
	if _, err := os.Stat(dbPath); err == nil && !force {
		return 0, fmt.Errorf("%w: %s", ErrDatabaseExists, dbPath)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}

	version, err := v.GetMetadataVersion(cfg.InstanceID, snapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault holds no snapshot for instance %s", cfg.InstanceID)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	encFile, err := os.CreateTemp(cfg.Database.DataDir, ".snapshot-*")
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(encFile.Name())
	defer encFile.Close()

	if err := v.GetMetadata(cfg.InstanceID, snapshotName, encFile); err != nil {
		return 0, fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := encFile.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("rewinding snapshot: %w", err)
	}

	// Stale WAL files would be replayed over the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("removing %s: %w", dbPath+suffix, err)
		}
	}

	if err := encryption.DecryptToFile(dc, encFile, dbPath); err != nil {
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}
	return version, nil
}
