package jobs

import (
	"context"
	"log"
	"time"

	"parley/internal/services"
)

// SpeechCleanupJob deletes synthesized audio older than the retention window.
// Audio payloads dominate storage, so they are expired while the text
// messages that reference them are kept.
type SpeechCleanupJob struct {
	store     services.MessageStore
	retention time.Duration
}

// NewSpeechCleanupJob creates a new speech cleanup job
func NewSpeechCleanupJob(store services.MessageStore, retention time.Duration) *SpeechCleanupJob {
	return &SpeechCleanupJob{
		store:     store,
		retention: retention,
	}
}

// Run deletes speech records older than the retention window
func (j *SpeechCleanupJob) Run(ctx context.Context) error {
	if j.store == nil || j.retention <= 0 {
		log.Println("[SPEECH-CLEANUP] Cleanup disabled")
		return nil
	}

	cutoff := time.Now().UTC().Add(-j.retention)
	log.Printf("[SPEECH-CLEANUP] Deleting speeches created before %s", cutoff.Format(time.RFC3339))

	deleted, err := j.store.DeleteSpeechesBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[SPEECH-CLEANUP] Cleanup failed: %v", err)
		return err
	}

	log.Printf("[SPEECH-CLEANUP] Deleted %d expired speeches", deleted)
	return nil
}

// GetNextRunTime returns the next 03:00 UTC
func (j *SpeechCleanupJob) GetNextRunTime() time.Time {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
