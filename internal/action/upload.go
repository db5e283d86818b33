// SPDX-License-Identifier: MIT

package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qingrang/stream-rec/internal/model"
)

// UploadConfig carries the destination and extra arguments forwarded
// to the Upload Service for one UploadAction.
type UploadConfig struct {
	RemotePath string
	ExtraArgs  []string
}

// UploadJob is submitted to the Upload Service. ID is always 0
// ("not yet persisted") per the data model; JobID is a
// process-local idempotency key a real Upload Service implementation
// can use to deduplicate retried submissions.
type UploadJob struct {
	ID             int
	JobID          uuid.UUID
	CreatedAtMillis int64
	Items          []model.StreamData
	Config         UploadConfig
}

// NewUploadJob builds the job for one UploadAction firing against
// items, stamping CreatedAtMillis with now.
func NewUploadJob(cfg UploadConfig, items []model.StreamData, now time.Time) UploadJob {
	return UploadJob{
		ID:              0,
		JobID:           uuid.New(),
		CreatedAtMillis: now.UnixMilli(),
		Items:           items,
		Config:          cfg,
	}
}

// UploadService accepts an UploadJob and returns only once it has
// completed, successfully or not. A real deployment wires in the
// actual sync-tool executor; it is an external collaborator per the
// spec's scope, not implemented by this package.
type UploadService interface {
	Submit(ctx context.Context, job UploadJob) error
}

// RetryingUploadService wraps an UploadService with the package's
// Backoff policy, retrying a failed Submit up to the backoff's
// MaxAttempts before giving up. Backoff is a template: each Submit
// counts its attempts on its own copy of it.
type RetryingUploadService struct {
	Inner   UploadService
	Backoff *Backoff
}

// NewRetryingUploadService wraps inner with a fresh Backoff built from
// initialDelay/maxDelay/maxAttempts.
func NewRetryingUploadService(inner UploadService, initialDelay, maxDelay time.Duration, maxAttempts int) *RetryingUploadService {
	return &RetryingUploadService{
		Inner:   inner,
		Backoff: NewBackoff(initialDelay, maxDelay, maxAttempts),
	}
}

func (s *RetryingUploadService) Submit(ctx context.Context, job UploadJob) error {
	var lastErr error
	b := NewBackoffWithThreshold(s.Backoff.initialDelay, s.Backoff.maxDelay, s.Backoff.successThreshold, s.Backoff.maxAttempts)
	for {
		start := time.Now()
		err := s.Inner.Submit(ctx, job)
		if err == nil {
			b.RecordSuccess(time.Since(start))
			return nil
		}
		lastErr = err
		b.RecordFailure()
		if b.ShouldStop() {
			return fmt.Errorf("upload job %s: giving up after %d attempts: %w", job.JobID, b.Attempts(), lastErr)
		}
		if waitErr := b.WaitContext(ctx); waitErr != nil {
			return waitErr
		}
	}
}
