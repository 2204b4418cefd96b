package mfa

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealVersion byte = 0x01

var hkdfInfoTOTPSecret = []byte("gdrive-vault.mfa.totp-secret.v1")

var ErrSealedSecret = errors.New("sealed secret is malformed or was tampered with")

// Sealer encrypts TOTP secrets at rest with a key derived from the server
// secret. Output format:
//
//	[version: 1] [nonce: 24] [ciphertext+tag]
//
// The version byte and the owning user id are bound as AAD so a sealed
// secret cannot be moved to another user.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(serverKey []byte) (*Sealer, error) {
	if len(serverKey) == 0 {
		return nil, errors.New("empty MFA secret key")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, serverKey, nil, hkdfInfoTOTPSecret), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func sealAAD(userID int32) []byte {
	aad := make([]byte, 5)
	aad[0] = sealVersion
	binary.BigEndian.PutUint32(aad[1:], uint32(userID))
	return aad
}

func (s *Sealer) Seal(userID int32, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	out[0] = sealVersion
	copy(out[1:], nonce[:])
	return s.aead.Seal(out, nonce[:], plaintext, sealAAD(userID)), nil
}

func (s *Sealer) Open(userID int32, sealed []byte) ([]byte, error) {
	if len(sealed) < 1+chacha20poly1305.NonceSizeX+s.aead.Overhead() || sealed[0] != sealVersion {
		return nil, ErrSealedSecret
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := s.aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], sealAAD(userID))
	if err != nil {
		return nil, ErrSealedSecret
	}
	return plaintext, nil
}
