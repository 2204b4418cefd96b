package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

const BackupCodeCount = 10

var backupEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newBackupCodes returns BackupCodeCount codes shaped XXXX-XXXX-XXXX
// (60 random bits each) and their hashes, index aligned.
func newBackupCodes() (codes, hashes []string, err error) {
	codes = make([]string, BackupCodeCount)
	hashes = make([]string, BackupCodeCount)
	for i := range codes {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			return nil, nil, err
		}
		s := backupEncoding.EncodeToString(b)[:12]
		codes[i] = s[0:4] + "-" + s[4:8] + "-" + s[8:12]
		hashes[i] = HashBackupCode(codes[i])
	}
	return codes, hashes, nil
}

func normalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(code)))
}

// HashBackupCode is the stored form of a backup code. Dashes, spaces and
// case are ignored.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}
