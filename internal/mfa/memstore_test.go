package mfa

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"gorinidrive.com/vault/internal/errs"
)

type memBackupCode struct {
	hash string
	used bool
}

// memStore is an in-memory Store whose conditional updates run under one
// mutex, mirroring the single-statement updates of the Postgres store.
type memStore struct {
	mu         sync.Mutex
	accounts   map[int32]*Account
	codes      map[int32][]*memBackupCode
	challenges map[uuid.UUID]*Challenge
}

func newMemStore() *memStore {
	return &memStore{
		accounts:   map[int32]*Account{},
		codes:      map[int32][]*memBackupCode{},
		challenges: map[uuid.UUID]*Challenge{},
	}
}

func (s *memStore) addUser(id int32, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &Account{UserID: id, Email: email, State: StateDisabled}
}

func (s *memStore) GetAccount(_ context.Context, userID int32) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, errs.NotFound("user")
	}
	cp := *a
	cp.PendingBackupHashes = slices.Clone(a.PendingBackupHashes)
	return &cp, nil
}

func (s *memStore) StartEnrollment(_ context.Context, userID int32, sealed []byte, hashes []string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID]
	if a.State == StateEnabled || (a.State == StatePending && !a.PendingAt.Before(staleBefore)) {
		return false, nil
	}
	a.State = StatePending
	a.PendingSecret = sealed
	a.PendingBackupHashes = hashes
	a.PendingAt = now
	return true, nil
}

func (s *memStore) CompleteEnrollment(_ context.Context, userID int32, sealed []byte, hashes []string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID]
	if a.State != StatePending || !bytes.Equal(a.PendingSecret, sealed) {
		return false, nil
	}
	a.State = StateEnabled
	a.Secret = sealed
	a.LastStep = step
	a.PendingSecret, a.PendingBackupHashes, a.PendingAt = nil, nil, time.Time{}
	s.codes[userID] = nil
	for _, h := range hashes {
		s.codes[userID] = append(s.codes[userID], &memBackupCode{hash: h})
	}
	return true, nil
}

func (s *memStore) CancelEnrollment(_ context.Context, userID int32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID]
	if a.State != StatePending {
		return false, nil
	}
	a.State = StateDisabled
	a.PendingSecret, a.PendingBackupHashes, a.PendingAt = nil, nil, time.Time{}
	return true, nil
}

func (s *memStore) DisableMFA(_ context.Context, userID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID]
	a.State = StateDisabled
	a.Secret = nil
	a.LastStep = 0
	delete(s.codes, userID)
	return nil
}

func (s *memStore) AdvanceTOTPStep(_ context.Context, userID int32, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[userID]
	if a.State != StateEnabled || a.LastStep >= step {
		return false, nil
	}
	a.LastStep = step
	return true, nil
}

func (s *memStore) ConsumeBackupCode(_ context.Context, userID int32, hash string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes[userID] {
		if c.hash == hash && !c.used {
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ReplaceBackupCodes(_ context.Context, userID int32, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[userID] = nil
	for _, h := range hashes {
		s.codes[userID] = append(s.codes[userID], &memBackupCode{hash: h})
	}
	return nil
}

func (s *memStore) CountBackupCodes(_ context.Context, userID int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes[userID] {
		if !c.used {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateChallenge(_ context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	s.challenges[ch.ID] = &cp
	return nil
}

func (s *memStore) ConsumeChallenge(_ context.Context, id uuid.UUID, userID int32, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.UserID != userID || ch.ConsumedAt != nil || !now.Before(ch.ExpiresAt) {
		return false, nil
	}
	ch.ConsumedAt = &now
	return true, nil
}

func (s *memStore) GetChallenge(_ context.Context, id uuid.UUID, userID int32) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.UserID != userID {
		return nil, errs.NotFound("challenge")
	}
	cp := *ch
	return &cp, nil
}
