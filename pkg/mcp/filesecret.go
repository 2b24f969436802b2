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

package mcp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

// envSecretsFile names the encrypted secrets file a "file:" reference is
// resolved against. envMasterKey names the passphrase the file is
// encrypted with; both are read once per process and cached.
const (
	envSecretsFile = "STEPWISE_SECRETS_FILE"
	envMasterKey   = "STEPWISE_MASTER_KEY"
)

const (
	argon2Time        = 3
	argon2MemoryKiB   = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLength   = 32
	gcmNonceSize      = 12
)

// encryptedSecretsFile is the on-disk shape of a file: secret store: a
// per-file random salt for Argon2id key derivation, and a map of name to
// AES-256-GCM ciphertext (nonce prefixed).
type encryptedSecretsFile struct {
	Salt    []byte            `json:"salt"`
	Secrets map[string][]byte `json:"secrets"`
}

var (
	fileSecretsOnce  sync.Once
	fileSecretsCache map[string]string
	fileSecretsErr   error
)

// resolveFileSecretRef resolves "file:<name>" against the encrypted
// secrets file named by STEPWISE_SECRETS_FILE, decrypted with the key
// derived from STEPWISE_MASTER_KEY. The decrypted file contents are
// cached for the life of the process; a missing file, missing master
// key, or missing entry all resolve to ok=false rather than an error, to
// match resolveSecretRef's contract.
func resolveFileSecretRef(name string) (string, bool) {
	fileSecretsOnce.Do(func() {
		fileSecretsCache, fileSecretsErr = loadEncryptedSecretsFile()
	})
	if fileSecretsErr != nil {
		return "", false
	}
	value, ok := fileSecretsCache[name]
	return value, ok
}

func loadEncryptedSecretsFile() (map[string]string, error) {
	path := os.Getenv(envSecretsFile)
	masterKey := os.Getenv(envMasterKey)
	if path == "" || masterKey == "" {
		return nil, fmt.Errorf("file secret store not configured")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var doc encryptedSecretsFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	key := argon2.IDKey([]byte(masterKey), doc.Salt, argon2Time, argon2MemoryKiB, argon2Parallelism, argon2KeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build AEAD: %w", err)
	}

	out := make(map[string]string, len(doc.Secrets))
	for name, ciphertext := range doc.Secrets {
		if len(ciphertext) < gcmNonceSize {
			continue
		}
		nonce, sealed := ciphertext[:gcmNonceSize], ciphertext[gcmNonceSize:]
		plain, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			continue
		}
		out[name] = string(plain)
	}
	return out, nil
}
