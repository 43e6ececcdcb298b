package canon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AlgAESGCM256 is the only encryption algorithm CORTEX writes. An empty Alg
// on a read Envelope marks a legacy plaintext row written before encryption
// was enabled for that tenant.
const AlgAESGCM256 = "AES-256-GCM"

// Envelope is the at-rest encrypted form of a fact's sensitive fields.
type Envelope struct {
	Alg        string
	Nonce      []byte
	Ciphertext []byte
}

// Seal encrypts plaintext under a key derived from the process master key
// and tenantID via HKDF-SHA256, with tenantID as the HKDF info parameter so
// every tenant gets an independent key from one master secret.
func Seal(tenantID string, plaintext []byte) (Envelope, error) {
	key, err := deriveTenantKey(tenantID)
	if err != nil {
		return Envelope{}, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("seal: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("seal: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(tenantID))
	return Envelope{Alg: AlgAESGCM256, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts an Envelope sealed by Seal for the same tenantID. An
// Envelope with an empty Alg is treated as a legacy plaintext passthrough:
// Ciphertext is returned unmodified, with no key material touched.
func Open(tenantID string, env Envelope) ([]byte, error) {
	if env.Alg == "" {
		return env.Ciphertext, nil
	}
	if env.Alg != AlgAESGCM256 {
		return nil, fmt.Errorf("open: unsupported envelope algorithm %q", env.Alg)
	}
	key, err := deriveTenantKey(tenantID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("open: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("open: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(tenantID))
	if err != nil {
		return nil, fmt.Errorf("open: decrypt: %w", err)
	}
	return plaintext, nil
}

func deriveTenantKey(tenantID string) ([32]byte, error) {
	master, err := currentMasterKey()
	if err != nil {
		return [32]byte{}, err
	}
	reader := hkdf.New(sha256.New, master[:], nil, []byte(tenantID))
	var derived [32]byte
	if _, err := io.ReadFull(reader, derived[:]); err != nil {
		return [32]byte{}, fmt.Errorf("derive tenant key: %w", err)
	}
	return derived, nil
}
