package tracker

import (
	"context"
	"sync"
	"sync/atomic"

	"quotabot/core/logger"

	"log/slog"
)

// CleanupStats summarizes one cleanup pass.
type CleanupStats struct {
	// Deleted counts messages removed from the chat.
	Deleted int
	// Preserved counts messages kept because of the is_last flag (0 or 1).
	Preserved int
	// Failed counts transport deletions that were rejected; their tracking
	// rows are consumed anyway.
	Failed int
}

// Cleanup deletes the session's tracked chat messages through the provided
// transport delete function, optionally keeping the message flagged is_last.
// Transport failures (already-deleted messages, missing permissions) are
// logged and counted, never fatal. Deletions run concurrently bounded by
// workers; there is no ordering requirement between them.
func Cleanup(ctx context.Context, tr Tracker, del func(context.Context, int) error, sessionID string, preserveLast bool, workers int) (CleanupStats, error) {
	var stats CleanupStats

	msgs, err := tr.List(ctx, sessionID)
	if err != nil {
		return stats, err
	}
	if workers <= 0 {
		workers = 1
	}

	var toDelete []Message
	for _, m := range msgs {
		if preserveLast && m.IsLast {
			stats.Preserved++
			continue
		}
		toDelete = append(toDelete, m)
	}

	var (
		failed uint32
		sem    = make(chan struct{}, workers)
		wg     sync.WaitGroup
	)
	for _, m := range toDelete {
		wg.Add(1)
		sem <- struct{}{}
		go func(m Message) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := del(ctx, m.MessageID); err != nil {
				atomic.AddUint32(&failed, 1)
				logger.Warn(ctx, "tracker", "cleanup.delete.failed",
					slog.String("session_id", sessionID),
					slog.Int("message_id", m.MessageID),
					slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
				)
			}
		}(m)
	}
	wg.Wait()

	for _, m := range toDelete {
		if err := tr.Remove(ctx, sessionID, m.MessageID); err != nil {
			return stats, err
		}
	}

	stats.Failed = int(failed)
	stats.Deleted = len(toDelete) - stats.Failed
	return stats, nil
}
