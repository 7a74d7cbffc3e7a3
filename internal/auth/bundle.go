package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	bundleKeyLength   = 32
	bundleIterations  = 100_000
	bundleIdentifier  = "pbkdf2"
	bundleHashVariant = "sha256"
)

// encryptedBundle is the on-disk shape of a passphrase-protected token seed
// file: a PBKDF2 salt, an AES-GCM nonce, and the ciphertext of a JSON
// token->username map.
type encryptedBundle struct {
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// LoadEncryptedTokenBundle decrypts a passphrase-protected token seed file
// and provisions a fresh MemoryVerifier from its contents. Operators use
// this to ship bearer-token bundles that are not readable at rest without
// the deployment passphrase.
func LoadEncryptedTokenBundle(path, passphrase string) (*MemoryVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token bundle: %w", err)
	}
	var bundle encryptedBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parse token bundle: %w", err)
	}
	if !strings.EqualFold(bundle.KDF, bundleIdentifier+"-"+bundleHashVariant) {
		return nil, fmt.Errorf("unsupported token bundle kdf %q", bundle.KDF)
	}
	iterations := bundle.Iterations
	if iterations <= 0 {
		iterations = bundleIterations
	}
	salt, err := base64.StdEncoding.DecodeString(bundle.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode token bundle salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(bundle.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode token bundle nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(bundle.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode token bundle ciphertext: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, bundleKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct token bundle cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("construct token bundle aead: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt token bundle: wrong passphrase or corrupt file")
	}

	var tokens map[string]string
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("parse decrypted token bundle: %w", err)
	}

	verifier := NewMemoryVerifier()
	for token, username := range tokens {
		if err := verifier.Provision(token, username); err != nil {
			return nil, fmt.Errorf("provision bundled token for %q: %w", username, err)
		}
	}
	return verifier, nil
}
