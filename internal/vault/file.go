package vault

import (
	"context"
	"time"
)

// Metadata is everything needed to re-derive the key and open a file's
// ciphertext, given the password. The password and key are never stored.
type Metadata struct {
	Cipher      string `json:"cipher"`
	KDF         string `json:"kdf"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

func (m *Metadata) valid() bool {
	return m != nil && m.Cipher == cipherName && m.KDF == kdfName &&
		len(m.Salt) == saltSize && len(m.Nonce) == nonceSize &&
		m.Memory > 0 && m.Iterations > 0 && m.Parallelism > 0
}

// File is one stored object. Size is always the plaintext size; the blob
// at Location holds Size+Overhead bytes while Encrypted is set.
type File struct {
	ID             int32
	OwnerID        int32
	Name           string
	Folder         string
	Size           int64
	MimeType       string
	Location       string
	Encrypted      bool
	Encryption     *Metadata
	Version        int64
	DownloadCount  int64
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// Content is the part of a File rewritten by encrypt and decrypt.
type Content struct {
	Location   string
	Size       int64
	Encrypted  bool
	Encryption *Metadata
}

type Store interface {
	GetFile(ctx context.Context, id int32) (*File, error)
	// UpdateContent applies c if the file is still at version and bumps the
	// version. It reports false when another writer got there first.
	UpdateContent(ctx context.Context, id int32, version int64, c Content) (bool, error)
}
