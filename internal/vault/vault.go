package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"memberportal/internal/util"
)

var ErrNotFound = errors.New("vault: secret not found")

// Vault stores per-user MFA secrets outside the primary database.
type Vault interface {
	Get(ctx context.Context, userID string) (string, error)
	Put(ctx context.Context, userID, secret string) error
	Delete(ctx context.Context, userID string) error
}

// FileVault keeps AES-GCM sealed secrets in a single JSON document. Writes go
// through a temp file and rename so a crash never leaves a torn file.
type FileVault struct {
	path string
	key  []byte

	mu sync.Mutex
}

func NewFileVault(path, secretsKey string) (*FileVault, error) {
	if path == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir vault dir: %w", err)
	}
	return &FileVault{path: path, key: util.DeriveKey(secretsKey, "mfa")}, nil
}

func (v *FileVault) Get(_ context.Context, userID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entries, err := v.load()
	if err != nil {
		return "", err
	}
	sealed, ok := entries[userID]
	if !ok {
		return "", ErrNotFound
	}
	secret, err := util.Open(v.key, sealed, userID)
	if err != nil {
		return "", fmt.Errorf("decrypt mfa secret: %w", err)
	}
	return secret, nil
}

func (v *FileVault) Put(_ context.Context, userID, secret string) error {
	sealed, err := util.Seal(v.key, secret, userID)
	if err != nil {
		return fmt.Errorf("encrypt mfa secret: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	entries, err := v.load()
	if err != nil {
		return err
	}
	entries[userID] = sealed
	return v.save(entries)
}

func (v *FileVault) Delete(_ context.Context, userID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	entries, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := entries[userID]; !ok {
		return nil
	}
	delete(entries, userID)
	return v.save(entries)
}

func (v *FileVault) load() (map[string]string, error) {
	b, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	entries := map[string]string{}
	if len(b) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	return entries, nil
}

func (v *FileVault) save(entries map[string]string) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}
