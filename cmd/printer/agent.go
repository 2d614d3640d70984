package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/example/tableorder/pkg/eventbus"
	printerfeed "github.com/example/tableorder/pkg/grpc"
	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/printqueue"
	"go.uber.org/zap"
)

type eventStream interface {
	Recv() (*printerfeed.FeedEvent, error)
}

type FeedClient interface {
	ListPending(ctx context.Context, limit int) ([]models.PrintJob, error)
	MarkPrinted(ctx context.Context, id uint) (*models.PrintJob, error)
	Watch(ctx context.Context) (*printerfeed.WatchStream, error)
}

// Agent drains the print queue onto a ticket printer. The watch stream
// only wakes it up early; polling alone is enough to print every job.
type Agent struct {
	client FeedClient
	out    io.Writer
	logger *zap.Logger
	batch  int
	poll   time.Duration
}

func NewAgent(client FeedClient, out io.Writer, logger *zap.Logger, batch int, poll time.Duration) *Agent {
	if batch <= 0 {
		batch = 20
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Agent{client: client, out: out, logger: logger, batch: batch, poll: poll}
}

// Run prints until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	go a.watch(ctx, wake)

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		if _, err := a.Drain(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("Drain failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Drain prints every pending job in queue order and returns how many
// were handled.
func (a *Agent) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		jobs, err := a.client.ListPending(ctx, a.batch)
		if err != nil {
			return handled, err
		}
		if len(jobs) == 0 {
			return handled, nil
		}

		for i := range jobs {
			if err := a.print(ctx, &jobs[i]); err != nil {
				return handled, err
			}
			handled++
		}
		if len(jobs) < a.batch {
			return handled, nil
		}
	}
}

func (a *Agent) print(ctx context.Context, job *models.PrintJob) error {
	text, err := printqueue.Render(job)
	if err != nil {
		// An unreadable job can never print; acknowledge it so it does
		// not block the queue.
		a.logger.Error("Skipping unprintable job", zap.Uint("job_id", job.ID), zap.Error(err))
	} else if _, err := io.WriteString(a.out, text+"\n"); err != nil {
		return fmt.Errorf("failed to print job %d: %w", job.ID, err)
	}

	if _, err := a.client.MarkPrinted(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to acknowledge job %d: %w", job.ID, err)
	}
	a.logger.Info("Printed ticket", zap.Uint("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// watch keeps a printer room stream open and signals wake on every
// print_order event, reconnecting after failures.
func (a *Agent) watch(ctx context.Context, wake chan<- struct{}) {
	for ctx.Err() == nil {
		stream, err := a.client.Watch(ctx)
		if err == nil {
			err = a.consume(stream, wake)
		}
		if ctx.Err() != nil {
			return
		}
		a.logger.Debug("Watch stream ended, falling back to polling", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.poll):
		}
	}
}

func (a *Agent) consume(stream eventStream, wake chan<- struct{}) error {
	for {
		event, err := stream.Recv()
		if err != nil {
			if printerfeed.IsStreamEnd(err) {
				return errors.New("stream closed by server")
			}
			return err
		}
		if event.Event != string(eventbus.EventPrintOrder) {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
