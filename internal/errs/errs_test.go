package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("verify: %w", ErrInvalidBackupCode.Wrap(errors.New("no rows")))

	assert.True(t, errors.Is(err, ErrInvalidBackupCode))
	assert.False(t, errors.Is(err, ErrInvalidCode))
}

func TestIs_CustomMessageKeepsCode(t *testing.T) {
	err := ErrAlreadyEncrypted.WithMessage("file %d is already encrypted", 7)

	assert.True(t, errors.Is(err, ErrAlreadyEncrypted))
	assert.Equal(t, "file 7 is already encrypted", err.Message)
	// the sentinel itself is untouched
	assert.Equal(t, "file is already encrypted", ErrAlreadyEncrypted.Message)
}

func TestKindOfAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{ErrMissingCredential, KindValidation, http.StatusBadRequest},
		{ErrChallengeExpired, KindChallengeExpired, http.StatusUnauthorized},
		{AccessDenied("expired"), KindAccessDenied, http.StatusForbidden},
		{ErrInvalidPassword, KindInvalidPassword, http.StatusForbidden},
		{NotFound("file"), KindNotFound, http.StatusNotFound},
		{ErrAlreadyPending, KindConflict, http.StatusConflict},
		{errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), tt.err.Error())
		assert.Equal(t, tt.status, Status(tt.err), tt.err.Error())
	}
}

func TestAccessDenied_CarriesReason(t *testing.T) {
	e, ok := As(fmt.Errorf("download: %w", AccessDenied("outside_time_window")))
	require.True(t, ok)
	assert.Equal(t, "outside_time_window", e.Reason)
}

func TestInternal_HidesCauseFromMessage(t *testing.T) {
	e := Internal(errors.New("pq: connection refused"))
	assert.Equal(t, "internal error", e.Message)
	assert.Contains(t, e.Error(), "connection refused")
}
