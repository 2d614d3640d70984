package printqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/tableorder/pkg/eventbus"
	"github.com/example/tableorder/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const forwarderID = "amqp-forwarder"

type Publisher interface {
	Publish(ctx context.Context, body []byte, headers amqp.Table) error
}

type JobSource interface {
	Job(ctx context.Context, id uint) (*models.PrintJob, error)
}

// Forwarder sits in the printer room like any printer connection and
// republishes every announced job to the message broker, so agents that
// cannot hold a socket open can consume tickets from a queue instead.
type Forwarder struct {
	jobs      JobSource
	publisher Publisher
	logger    *zap.Logger
	notices   chan Notice
	timeout   time.Duration
}

func NewForwarder(jobs JobSource, publisher Publisher, logger *zap.Logger, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 64
	}
	return &Forwarder{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		notices:   make(chan Notice, buffer),
		timeout:   5 * time.Second,
	}
}

func (f *Forwarder) ID() string {
	return forwarderID
}

// Deliver never blocks the publisher. Dropped notices are still in the
// queue and reach agents through polling.
func (f *Forwarder) Deliver(msg eventbus.Message) {
	if msg.Event != eventbus.EventPrintOrder {
		return
	}

	var notice Notice
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		f.logger.Warn("Ignoring malformed print notice", zap.Error(err))
		return
	}

	select {
	case f.notices <- notice:
	default:
		f.logger.Warn("Forwarder buffer full, dropping notice", zap.Uint("job_id", notice.JobID))
	}
}

// Run forwards notices until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case notice := <-f.notices:
			if err := f.forward(ctx, notice); err != nil {
				f.logger.Error("Failed to forward print job",
					zap.Uint("job_id", notice.JobID),
					zap.Error(err))
			}
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, notice Notice) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	job, err := f.jobs.Job(ctx, notice.JobID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	headers := amqp.Table{
		"job_type":   string(job.Type),
		"table_name": notice.TableName,
	}
	if err := f.publisher.Publish(ctx, body, headers); err != nil {
		return err
	}

	f.logger.Debug("Forwarded print job", zap.Uint("job_id", job.ID))
	return nil
}
