package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// sealMagic prefixes every sealed artifact.
// Format: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16)
var sealMagic = []byte("GCM3NCR0")

const (
	saltLen    = 16
	nonceLen   = 12
	pbkdf2Iter = 100000
	keyLen     = 32
)

var ErrNotSealed = errors.New("data is not sealed")

// Sealer encrypts artifacts with AES-256-GCM using a PBKDF2-derived key.
// A fresh salt and nonce are drawn for every Seal.
type Sealer struct {
	passphrase []byte
}

func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase)}
}

func (s *Sealer) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, pbkdf2Iter, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+saltLen+nonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, sealMagic) {
		return nil, ErrNotSealed
	}
	min := len(sealMagic) + saltLen + nonceLen + 16
	if len(data) < min {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(data))
	}
	salt := data[len(sealMagic) : len(sealMagic)+saltLen]
	nonce := data[len(sealMagic)+saltLen : len(sealMagic)+saltLen+nonceLen]
	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[len(sealMagic)+saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}
