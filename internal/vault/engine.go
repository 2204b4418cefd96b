// Package vault encrypts and decrypts stored files with a key derived from a
// per-file password (argon2id + XChaCha20-Poly1305).
//
// Writes never touch the current blob: the new content goes to a fresh
// location, the file record is switched over with a version check, and only
// then is the old blob removed. A failure at any step leaves the file as it
// was.
package vault

import (
	"bytes"
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"gorinidrive.com/vault/internal/blob"
	"gorinidrive.com/vault/internal/errs"
)

type Engine struct {
	store  Store
	blobs  blob.Store
	logger *logrus.Logger
	kdf    KDFParams
	locks  *fileLocks
}

// NewEngine builds an Engine using DefaultKDF for new encryptions.
func NewEngine(store Store, blobs blob.Store, logger *logrus.Logger) *Engine {
	return NewEngineWithKDF(store, blobs, logger, DefaultKDF)
}

func NewEngineWithKDF(store Store, blobs blob.Store, logger *logrus.Logger, kdf KDFParams) *Engine {
	return &Engine{
		store:  store,
		blobs:  blobs,
		logger: logger,
		kdf:    kdf,
		locks:  newFileLocks(),
	}
}

// Encrypt replaces the plaintext of fileID with its ciphertext under
// password.
func (e *Engine) Encrypt(ctx context.Context, fileID int32, password string) (*File, error) {
	if password == "" {
		return nil, errs.Validation("password is required")
	}
	unlock := e.locks.Lock(fileID)
	defer unlock()

	f, err := e.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Encrypted {
		return nil, errs.ErrAlreadyEncrypted
	}

	plaintext, err := blob.ReadAll(ctx, e.blobs, f.Location)
	if err != nil {
		return nil, errs.ErrEncryption.Wrap(err)
	}
	defer clear(plaintext)
	if int64(len(plaintext)) != f.Size {
		return nil, errs.ErrEncryption.Wrap(errTruncated)
	}

	ciphertext, meta, err := seal(f.ID, plaintext, password, e.kdf)
	if err != nil {
		return nil, errs.ErrEncryption.Wrap(err)
	}

	next := Content{Size: f.Size, Encrypted: true, Encryption: meta}
	if err := e.replace(ctx, f, ciphertext, next); err != nil {
		return nil, err
	}
	e.logger.Infof("Encrypted file %d", f.ID)
	return e.store.GetFile(ctx, f.ID)
}

// Decrypt opens fileID with password. With permanent set the stored
// ciphertext is replaced by plaintext and the encryption metadata cleared;
// otherwise nothing is written.
func (e *Engine) Decrypt(ctx context.Context, fileID int32, password string, permanent bool) ([]byte, error) {
	if !permanent {
		f, err := e.ReadFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if !f.Encrypted {
			return nil, errs.ErrNotEncrypted
		}
		return e.ReadWithPassword(ctx, fileID, password)
	}

	if password == "" {
		return nil, errs.Validation("password is required")
	}
	unlock := e.locks.Lock(fileID)
	defer unlock()

	f, err := e.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !f.Encrypted {
		return nil, errs.ErrNotEncrypted
	}
	plaintext, err := e.openFile(ctx, f, password)
	if err != nil {
		return nil, err
	}

	next := Content{Size: int64(len(plaintext)), Encrypted: false, Encryption: nil}
	if err := e.replace(ctx, f, plaintext, next); err != nil {
		return nil, err
	}
	e.logger.Infof("Decrypted file %d", f.ID)
	return plaintext, nil
}

// ReadWithPassword returns the plaintext of fileID without changing any
// stored state. Files that are not encrypted are returned as is.
func (e *Engine) ReadWithPassword(ctx context.Context, fileID int32, password string) ([]byte, error) {
	unlock := e.locks.RLock(fileID)
	defer unlock()

	f, err := e.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !f.Encrypted {
		data, err := blob.ReadAll(ctx, e.blobs, f.Location)
		if err != nil {
			return nil, errs.Internal(err)
		}
		return data, nil
	}
	if password == "" {
		return nil, errs.Validation("password is required for encrypted files")
	}
	return e.openFile(ctx, f, password)
}

// ReadFile returns the current record of fileID under the shared lock, so
// it never observes a half finished encrypt or decrypt.
func (e *Engine) ReadFile(ctx context.Context, fileID int32) (*File, error) {
	unlock := e.locks.RLock(fileID)
	defer unlock()
	return e.store.GetFile(ctx, fileID)
}

func (e *Engine) openFile(ctx context.Context, f *File, password string) ([]byte, error) {
	if !f.Encryption.valid() {
		return nil, errs.ErrEncryption.WithMessage("encryption metadata missing or invalid")
	}
	ciphertext, err := blob.ReadAll(ctx, e.blobs, f.Location)
	if err != nil {
		return nil, errs.ErrEncryption.Wrap(err)
	}
	plaintext, err := open(f.ID, ciphertext, f.Size, password, f.Encryption)
	switch {
	case errors.Is(err, errAuth):
		return nil, errs.ErrInvalidPassword
	case err != nil:
		return nil, errs.ErrEncryption.Wrap(err)
	}
	return plaintext, nil
}

// replace writes data to a new blob and switches f over to it.
func (e *Engine) replace(ctx context.Context, f *File, data []byte, next Content) error {
	key, err := blob.NewKey()
	if err != nil {
		return errs.ErrEncryption.Wrap(err)
	}
	if err := e.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), f.MimeType); err != nil {
		return errs.ErrEncryption.Wrap(err)
	}
	next.Location = key

	ok, err := e.store.UpdateContent(ctx, f.ID, f.Version, next)
	if err != nil || !ok {
		// use a fresh context so a cancelled request still cleans up
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			e.logger.Warnf("Failed to remove orphaned blob %s: %s", key, derr)
		}
		if err != nil {
			return err
		}
		return errs.ErrVersionConflict
	}

	if err := e.blobs.Delete(context.WithoutCancel(ctx), f.Location); err != nil {
		e.logger.Warnf("Failed to remove previous blob of file %d: %s", f.ID, err)
	}
	return nil
}
