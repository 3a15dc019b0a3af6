// Copyright 2025-2026 Roberto Szek

package publish

import (
	"context"
	"fmt"
)

// SyncPin drives the pin state machine toward the given source pinned post.
// States: Unpinned → Pinned(id) → Unpinned.
//
// Pinning a new id first unpins whatever is currently pinned: the persisted
// target-side pin record when present, otherwise a bounded scan of recent
// posts for a pinned flag (giving up with a warning if none is found). An
// empty sourcePinnedID transitions to Unpinned and clears both records.
func (e *Engine) SyncPin(ctx context.Context, sourcePinnedID string) error {
	prevSource, err := e.pinSource.Read()
	if err != nil {
		return err
	}

	if sourcePinnedID == "" {
		if prevSource == "" {
			return nil
		}
		return e.unpinCurrent(ctx)
	}

	if prevSource == sourcePinnedID {
		return nil
	}

	targetID, ok := e.MappedTargetID(sourcePinnedID)
	if !ok {
		e.log.Warn().Str("source_id", sourcePinnedID).Msg("Pinned post is not mirrored yet, leaving pin unchanged")
		return nil
	}

	if err := e.unpinCurrent(ctx); err != nil {
		return err
	}
	if err := e.api.Pin(ctx, targetID); err != nil {
		return fmt.Errorf("pin failed: %w", err)
	}
	if err := e.pinSource.Write(sourcePinnedID); err != nil {
		return err
	}
	if err := e.pinTarget.Write(targetID); err != nil {
		return err
	}
	e.log.Info().Str("source_id", sourcePinnedID).Str("target_id", targetID).Msg("Pinned post")
	return nil
}

// unpinCurrent unpins whatever the records (or, failing that, a bounded scan
// of recent posts) say is pinned, then clears both records.
func (e *Engine) unpinCurrent(ctx context.Context) error {
	targetID, err := e.pinTarget.Read()
	if err != nil {
		return err
	}
	if targetID == "" {
		targetID = e.findPinnedByScan(ctx)
	}
	if targetID != "" {
		if err := e.api.Unpin(ctx, targetID); err != nil {
			return fmt.Errorf("unpin failed: %w", err)
		}
		e.log.Info().Str("target_id", targetID).Msg("Unpinned post")
	}
	if err := e.pinSource.Clear(); err != nil {
		return err
	}
	return e.pinTarget.Clear()
}

// findPinnedByScan looks for a pinned flag in the account's recent posts,
// paging backwards through the last id of each page. The scan is bounded;
// not finding one is a warning, never an error.
func (e *Engine) findPinnedByScan(ctx context.Context) string {
	maxID := ""
	for page := 0; page < e.opts.PinFallbackPages; page++ {
		statuses, err := e.api.AccountStatuses(ctx, true, e.opts.PinFallbackPageSize, maxID)
		if err != nil {
			e.log.Warn().Err(err).Msg("Pinned post scan failed, giving up")
			return ""
		}
		for _, st := range statuses {
			if st.Pinned {
				return st.ID
			}
		}
		if len(statuses) < e.opts.PinFallbackPageSize {
			break
		}
		maxID = statuses[len(statuses)-1].ID
	}
	e.log.Warn().Msg("No pinned post found in recent posts, giving up")
	return ""
}
