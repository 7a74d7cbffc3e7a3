package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func writeEncryptedBundle(t *testing.T, passphrase string, tokens map[string]string) string {
	t.Helper()

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, bundleIterations, bundleKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm: %v", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("generate nonce: %v", err)
	}

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		t.Fatalf("marshal tokens: %v", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	bundle := encryptedBundle{
		KDF:        bundleIdentifier + "-" + bundleHashVariant,
		Iterations: bundleIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestLoadEncryptedTokenBundle(t *testing.T) {
	path := writeEncryptedBundle(t, "correct horse", map[string]string{"tok-1": "alice"})

	v, err := LoadEncryptedTokenBundle(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadEncryptedTokenBundle: %v", err)
	}
	if username, ok := v.Verify(context.Background(), "tok-1"); !ok || username != "alice" {
		t.Fatalf("expected alice/true, got %q/%v", username, ok)
	}
}

func TestLoadEncryptedTokenBundleWrongPassphrase(t *testing.T) {
	path := writeEncryptedBundle(t, "correct horse", map[string]string{"tok-1": "alice"})

	if _, err := LoadEncryptedTokenBundle(path, "wrong passphrase"); err == nil {
		t.Fatalf("expected error for wrong passphrase")
	}
}
