package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// ErrCredential is returned when a ciphertext cannot be authenticated: wrong
// secret, truncated box, or tampered payload. It is never silent and never
// yields partially decrypted key material.
var ErrCredential = errors.New("vault: credential decrypt failed")

const (
	// SaltSize is the per-user salt length stored next to the ciphertext.
	SaltSize = 16

	keySize   = 32
	nonceSize = 12

	// scrypt parameters. N=2^15 keeps a single derivation well under 100ms
	// on commodity hardware while staying memory-hard.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Keyring derives per-user encryption secrets from a service master secret
// plus a per-user random salt. The master secret is never persisted; the
// salt is stored alongside the ciphertext and is useless without it.
type Keyring struct {
	master []byte
}

func NewKeyring(master []byte) (*Keyring, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("vault: master secret too short (%d bytes, want >=16)", len(master))
	}
	k := &Keyring{master: make([]byte, len(master))}
	copy(k.master, master)
	return k, nil
}

// NewSalt returns a fresh random per-user salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: salt: %w", err)
	}
	return salt, nil
}

func (k *Keyring) derive(salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("vault: bad salt length %d", len(salt))
	}
	return scrypt.Key(k.master, salt, scryptN, scryptR, scryptP, keySize)
}

// Encrypt seals plaintext under the secret derived from salt. The returned
// box is nonce||ciphertext||tag.
func (k *Keyring) Encrypt(plaintext, salt []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("vault: empty plaintext")
	}
	secret, err := k.derive(salt)
	if err != nil {
		return nil, err
	}
	return Encrypt(plaintext, secret)
}

// Decrypt opens a box produced by Encrypt with the same salt.
// Authentication failure yields ErrCredential.
func (k *Keyring) Decrypt(box, salt []byte) ([]byte, error) {
	secret, err := k.derive(salt)
	if err != nil {
		return nil, err
	}
	return Decrypt(box, secret)
}

// DecryptSigningKey opens a box holding a raw 32-byte secp256k1 private key.
// The caller owns the returned key for the duration of a single signing
// operation and must not cache it.
func (k *Keyring) DecryptSigningKey(box, salt []byte) (*ecdsa.PrivateKey, error) {
	raw, err := k.Decrypt(box, salt)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid signing key", ErrCredential)
	}
	return pk, nil
}

// Encrypt seals plaintext with AES-256-GCM under a 32-byte secret.
func Encrypt(plaintext, secret []byte) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext||tag box. GCM authentication runs in
// time independent of where the mismatch occurs, so a wrong secret and a
// corrupt box are indistinguishable to the caller (both ErrCredential).
func Decrypt(box, secret []byte) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	if len(box) < nonceSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: box too short", ErrCredential)
	}
	nonce, ct := box[:nonceSize], box[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrCredential
	}
	return plaintext, nil
}

func newAEAD(secret []byte) (cipher.AEAD, error) {
	if len(secret) != keySize {
		return nil, fmt.Errorf("vault: secret must be %d bytes, got %d", keySize, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
