package printqueue

import (
	"context"
	"fmt"

	"github.com/example/tableorder/pkg/models"
	"go.uber.org/zap"
)

// JobStore is the consumer side of the print job table.
type JobStore interface {
	PendingPrintJobs(ctx context.Context, limit int) ([]models.PrintJob, error)
	PrintJob(ctx context.Context, id uint) (*models.PrintJob, error)
	MarkPrintJobPrinted(ctx context.Context, id uint) (*models.PrintJob, error)
}

// Queue exposes pending jobs to printer agents. Jobs are produced by the
// ledger inside its own transactions; Queue never creates them.
type Queue struct {
	store  JobStore
	logger *zap.Logger
}

func NewQueue(store JobStore, logger *zap.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Pending returns up to limit unprinted jobs in creation order. A
// non-positive limit returns all of them.
func (q *Queue) Pending(ctx context.Context, limit int) ([]models.PrintJob, error) {
	jobs, err := q.store.PendingPrintJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

func (q *Queue) Job(ctx context.Context, id uint) (*models.PrintJob, error) {
	return q.store.PrintJob(ctx, id)
}

// MarkPrinted acknowledges a job. Acknowledging twice is not an error.
func (q *Queue) MarkPrinted(ctx context.Context, id uint) (*models.PrintJob, error) {
	job, err := q.store.MarkPrintJobPrinted(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %d printed: %w", id, err)
	}
	q.logger.Debug("Print job acknowledged", zap.Uint("job_id", id), zap.String("type", string(job.Type)))
	return job, nil
}
