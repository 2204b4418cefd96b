package internal

import (
	"context"
	"errors"
	"time"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/errs"
)

const (
	PURGE_EVERY = time.Hour
	PURGE_BATCH = 100
)

// PurgeDeleted removes files deleted longer than the retention window and
// expired MFA challenges, once per PURGE_EVERY until ctx is done.
func (h *Handler) PurgeDeleted(ctx context.Context) {
	ticker := time.NewTicker(PURGE_EVERY)
	defer ticker.Stop()
	for {
		h.purgeOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) purgeOnce(ctx context.Context) {
	now := h.now()
	cutoff := now.Add(-h.Config.FileRetention)

	files, err := h.Database.ListPurgeable(ctx, cutoff, PURGE_BATCH)
	if err != nil {
		h.Logger.Errorf("Failed to list purgeable files: %s", err)
		return
	}
	purged := 0
	for _, f := range files {
		// Row before blob: a file restored since listing keeps its content
		if err := h.Database.PurgeFile(ctx, f.ID, cutoff); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				h.Logger.Infof("File %d was restored before it could be purged", f.ID)
			} else {
				h.Logger.Warnf("Failed to purge file %d: %s", f.ID, err)
			}
			continue
		}
		if err := h.Blobs.Delete(ctx, f.Location); err != nil {
			h.Logger.Warnf("Failed to remove blob %s of purged file %d: %s", f.Location, f.ID, err)
		}
		h.Audit.Record(audit.Entry{
			UserID:   f.OwnerID,
			Action:   audit.ActionFilePurge,
			Resource: fileResource(f.ID),
			Outcome:  audit.Success,
			Detail:   map[string]any{"name": f.Name},
		})
		purged++
	}

	expired, err := h.Database.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		h.Logger.Warnf("Failed to delete expired challenges: %s", err)
	}
	if purged > 0 || expired > 0 {
		h.Logger.Infof("Purged %d deleted files and %d expired challenges", purged, expired)
	}
}
