package encryption

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cvc-go/internal/cvc"
)

// EncryptFile encrypts srcPath into a new temp file next to it and returns
// the temp file's path and size. The caller removes the file.
func EncryptFile(enc cvc.Encryptor, srcPath string) (string, int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(srcPath), ".enc-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating encrypted file: %w", err)
	}

	if err := enc.Encrypt(src, dst); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", 0, err
	}

	size, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", 0, fmt.Errorf("sizing encrypted file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", 0, fmt.Errorf("closing encrypted file: %w", err)
	}

	return dst.Name(), size, nil
}

// DecryptToFile decrypts r into dstPath, replacing it atomically.
func DecryptToFile(dc cvc.DecryptionContext, r io.Reader, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".dec-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := dc.Decrypt(r, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return fmt.Errorf("replacing %s: %w", dstPath, err)
	}
	return nil
}
