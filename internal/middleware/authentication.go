package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"gorinidrive.com/vault/internal/auth"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/mfa"
)

const (
	userIDKey    = "user_id"
	challengeKey = "mfa_challenge"
	// ChallengeHeader carries the id of an MFA challenge on sensitive routes.
	ChallengeHeader = "X-MFA-Challenge"
)

// Protected returns a wrapper that only lets authenticated callers through.
// A bearer token is tried first, then the session cookie.
func Protected(jwtSecret []byte) func(gin.HandlerFunc) gin.HandlerFunc {
	return func(next gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			userID, ok := bearerUser(c, jwtSecret)
			if !ok {
				// Check if user has a cookie (authenticated)
				session := sessions.Default(c)
				userID, ok = session.Get("id").(int32)
			}
			if !ok {
				Abort(c, errs.ErrAuthentication)
				return
			}
			// Populate request with session values
			c.Set(userIDKey, userID)

			next(c)
		}
	}
}

func bearerUser(c *gin.Context, secret []byte) (int32, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return 0, false
	}
	userID, err := auth.ParseToken(strings.TrimSpace(token), secret)
	if err != nil {
		return 0, false
	}
	return userID, true
}

// UserID returns the caller set by Protected.
func UserID(c *gin.Context) int32 {
	return c.MustGet(userIDKey).(int32)
}

// StepUp is the part of the MFA manager needed to guard sensitive routes.
type StepUp interface {
	Status(ctx context.Context, userID int32) (*mfa.Status, error)
	CheckChallenge(ctx context.Context, userID int32, rawID string) error
	ConsumeChallenge(ctx context.Context, userID int32, rawID string) error
}

type pendingChallenge struct {
	spend func(ctx context.Context) error
	spent bool
}

// RequireMFA wraps a protected handler so callers with MFA enabled must
// present a fresh challenge (header X-MFA-Challenge) on every call. The
// challenge is only checked here; the handler spends it with SpendChallenge
// once the request has passed its own checks. A handler that succeeds
// without spending it has it spent on return.
func RequireMFA(stepUp StepUp) func(gin.HandlerFunc) gin.HandlerFunc {
	return func(next gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			userID := UserID(c)
			st, err := stepUp.Status(c.Request.Context(), userID)
			if err != nil {
				Abort(c, err)
				return
			}
			if !st.Enabled() {
				next(c)
				return
			}

			rawID := c.GetHeader(ChallengeHeader)
			if err := stepUp.CheckChallenge(c.Request.Context(), userID, rawID); err != nil {
				Abort(c, err)
				return
			}
			pending := &pendingChallenge{spend: func(ctx context.Context) error {
				return stepUp.ConsumeChallenge(ctx, userID, rawID)
			}}
			c.Set(challengeKey, pending)

			next(c)

			if !pending.spent && len(c.Errors) == 0 && c.Writer.Status() < http.StatusBadRequest {
				if err := SpendChallenge(c); err != nil {
					_ = c.Error(err)
				}
			}
		}
	}
}

// SpendChallenge consumes the challenge RequireMFA admitted the request
// with. It does nothing for callers without MFA or on unguarded routes.
func SpendChallenge(c *gin.Context) error {
	v, ok := c.Get(challengeKey)
	if !ok {
		return nil
	}
	pending := v.(*pendingChallenge)
	if pending.spent {
		return nil
	}
	pending.spent = true
	return pending.spend(context.WithoutCancel(c.Request.Context()))
}
