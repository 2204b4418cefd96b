// Package audit records an append-only trail of sensitive actions.
//
// Record never blocks and never fails the caller: entries go through a
// bounded queue to worker goroutines that persist them with retries. Entries
// that cannot be queued or persisted are logged and counted, not returned as
// errors.
package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Action names are "<category>.<verb>".
type Action string

const (
	ActionSignup         Action = "auth.signup"
	ActionLogin          Action = "auth.login"
	ActionLogout         Action = "auth.logout"
	ActionPasswordChange Action = "auth.password_change"
	ActionPasswordReset  Action = "auth.password_reset"
	ActionAccountDelete  Action = "auth.account_delete"

	ActionMFAEnrollBegin      Action = "mfa.enroll_begin"
	ActionMFAEnrollComplete   Action = "mfa.enroll_complete"
	ActionMFAEnrollCancel     Action = "mfa.enroll_cancel"
	ActionMFAVerify           Action = "mfa.verify"
	ActionMFADisable          Action = "mfa.disable"
	ActionMFABackupRegenerate Action = "mfa.backup_regenerate"

	ActionFileUpload   Action = "file.upload"
	ActionFileDownload Action = "file.download"
	ActionFilePreview  Action = "file.preview"
	ActionFileUpdate   Action = "file.update"
	ActionFileDelete   Action = "file.delete"
	ActionFileEncrypt  Action = "file.encrypt"
	ActionFileDecrypt  Action = "file.decrypt"
	ActionFilePurge    Action = "file.purge"

	ActionShareCreate Action = "share.create"
	ActionShareDelete Action = "share.delete"
	ActionShareAccess Action = "share.access"

	ActionRuleCreate Action = "access.rule_create"
	ActionRuleToggle Action = "access.rule_toggle"
	ActionRuleDelete Action = "access.rule_delete"
	ActionDenied     Action = "access.denied"
)

// Category is the part of the action before the first dot.
func (a Action) Category() string {
	c, _, _ := strings.Cut(string(a), ".")
	return c
}

// Entry is one immutable audit record. UserID is the account whose trail
// the entry belongs to; ActorID is who acted, 0 for anonymous share access.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	UserID     int32          `json:"user_id"`
	ActorID    int32          `json:"actor_id"`
	Action     Action         `json:"action"`
	Resource   string         `json:"resource"`
	Outcome    Outcome        `json:"outcome"`
	SourceAddr string         `json:"source_addr"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
