// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// FileBackendPriority places the encrypted file after the keychain.
	FileBackendPriority = 25

	// MasterKeyEnv supplies the file backend's master key.
	MasterKeyEnv = "MCPHUB_MASTER_KEY"

	// MasterKeyFileName is read from the config dir when MasterKeyEnv is unset.
	MasterKeyFileName = "master.key"

	// SecretsFileName is the encrypted store in the config dir.
	SecretsFileName = "secrets.enc"

	fileFormatVersion = 1
	saltSize          = 16
	keySize           = 32
)

// kdfParams are the argon2id cost parameters.
type kdfParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

var defaultKDF = kdfParams{time: 3, memory: 64 * 1024, threads: 4}

// sealedFile is the on-disk layout. Every save uses a fresh salt and nonce.
type sealedFile struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// FileBackend keeps secrets in one AES-256-GCM sealed JSON file, for
// machines without a usable keychain.
type FileBackend struct {
	path      string
	masterKey []byte
	kdf       kdfParams
	mu        sync.RWMutex
}

// NewFileBackend opens the store at path (default: <config dir>/secrets.enc).
// An empty masterKey falls back to MCPHUB_MASTER_KEY, then to master.key next
// to the store. Without a key the backend reports itself unavailable.
func NewFileBackend(path, masterKey string) *FileBackend {
	key := []byte(masterKey)
	if len(key) == 0 {
		key = lookupMasterKey(filepath.Dir(path))
	}
	return &FileBackend{path: path, masterKey: key, kdf: defaultKDF}
}

func lookupMasterKey(dir string) []byte {
	if v := os.Getenv(MasterKeyEnv); v != "" {
		return []byte(v)
	}
	keyPath := filepath.Join(dir, MasterKeyFileName)
	info, err := os.Stat(keyPath)
	if err != nil || info.Mode().Perm()&0o077 != 0 {
		return nil
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil
	}
	return []byte(strings.TrimSpace(string(data)))
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Available() bool { return len(f.masterKey) > 0 }

func (f *FileBackend) Priority() int { return FileBackendPriority }

func (f *FileBackend) Get(_ context.Context, key string) (string, error) {
	if !f.Available() {
		return "", fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	delete(values, key)
	return f.save(values)
}

// load returns the decrypted map; a missing file is an empty store.
func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var sealed sealedFile
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if sealed.Version != fileFormatVersion {
		return nil, fmt.Errorf("unsupported secrets file version %d", sealed.Version)
	}

	gcm, err := f.cipher(sealed.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed.Nonce, sealed.Data, []byte(f.path))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: wrong master key or corrupted file", f.path)
	}
	defer clear(plain)

	values := map[string]string{}
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) save(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return err
	}
	defer clear(plain)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	gcm, err := f.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	out, err := json.Marshal(sealedFile{
		Version: fileFormatVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    gcm.Seal(nil, nonce, plain, []byte(f.path)),
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, out)
}

// cipher derives the file key from the master key and salt.
func (f *FileBackend) cipher(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.masterKey, salt, f.kdf.time, f.kdf.memory, f.kdf.threads, keySize)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
