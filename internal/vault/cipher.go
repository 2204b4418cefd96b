package vault

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	cipherName = "xchacha20-poly1305"
	kdfName    = "argon2id"
	saltSize   = 16
	nonceSize  = chacha20poly1305.NonceSizeX

	// Overhead is the number of bytes encryption adds to a file.
	Overhead = chacha20poly1305.Overhead
)

// KDFParams are the argon2id cost parameters used for new encryptions.
// Existing files keep the parameters recorded in their Metadata.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

var DefaultKDF = KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}

var (
	errAuth      = errors.New("message authentication failed")
	errTruncated = errors.New("ciphertext length does not match the recorded size")
)

var fileAADPrefix = []byte("gdrive-vault.file.v1")

// fileAAD binds ciphertext to the file it was produced for.
func fileAAD(fileID int32) []byte {
	aad := make([]byte, len(fileAADPrefix)+4)
	copy(aad, fileAADPrefix)
	binary.BigEndian.PutUint32(aad[len(fileAADPrefix):], uint32(fileID))
	return aad
}

func deriveKey(password string, salt []byte, memory, iterations uint32, parallelism uint8) []byte {
	return argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, chacha20poly1305.KeySize)
}

// seal encrypts plaintext under a key derived from password with a fresh
// salt and nonce.
func seal(fileID int32, plaintext []byte, password string, params KDFParams) ([]byte, *Metadata, error) {
	meta := &Metadata{
		Cipher:      cipherName,
		KDF:         kdfName,
		Salt:        make([]byte, saltSize),
		Nonce:       make([]byte, nonceSize),
		Memory:      params.Memory,
		Iterations:  params.Iterations,
		Parallelism: params.Parallelism,
	}
	if _, err := io.ReadFull(rand.Reader, meta.Salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, meta.Nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := deriveKey(password, meta.Salt, meta.Memory, meta.Iterations, meta.Parallelism)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, meta.Nonce, plaintext, fileAAD(fileID)), meta, nil
}

// open reverses seal. The key is always derived before any length check on
// the ciphertext is reported, so a wrong password and a tampered file cost
// the same up to the tag comparison.
func open(fileID int32, ciphertext []byte, plainSize int64, password string, meta *Metadata) ([]byte, error) {
	key := deriveKey(password, meta.Salt, meta.Memory, meta.Iterations, meta.Parallelism)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if int64(len(ciphertext)) != plainSize+Overhead {
		return nil, errTruncated
	}
	plaintext, err := aead.Open(make([]byte, 0, plainSize), meta.Nonce, ciphertext, fileAAD(fileID))
	if err != nil {
		return nil, errAuth
	}
	return plaintext, nil
}
