package printqueue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/tableorder/pkg/models"
)

var ErrUnknownJobType = errors.New("unknown print job type")

// TicketLine is one item line on an ORDER ticket.
type TicketLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// OrderTicket is the payload of an ORDER job.
type OrderTicket struct {
	TableName string       `json:"tableName"`
	Items     []TicketLine `json:"items"`
}

// BillTicket is the payload of a BILL job.
type BillTicket struct {
	TableName  string `json:"tableName"`
	OrderCount int    `json:"orderCount"`
}

// Notice is the print_order event payload. It only points at the job;
// consumers load the job itself from the queue.
type Notice struct {
	JobID     uint                `json:"jobId"`
	Type      models.PrintJobType `json:"type"`
	TableName string              `json:"tableName"`
}

func NoticeFor(job *models.PrintJob, tableName string) Notice {
	return Notice{JobID: job.ID, Type: job.Type, TableName: tableName}
}

func NewOrderJob(tableName string, lines []TicketLine) (*models.PrintJob, error) {
	return newJob(models.PrintJobOrder, OrderTicket{TableName: tableName, Items: lines})
}

func NewBillJob(tableName string, orderCount int) (*models.PrintJob, error) {
	return newJob(models.PrintJobBill, BillTicket{TableName: tableName, OrderCount: orderCount})
}

func newJob(typ models.PrintJobType, ticket interface{}) (*models.PrintJob, error) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s ticket: %w", typ, err)
	}
	return &models.PrintJob{Type: typ, Payload: string(payload)}, nil
}

func DecodeOrderTicket(job *models.PrintJob) (*OrderTicket, error) {
	if job.Type != models.PrintJobOrder {
		return nil, fmt.Errorf("job %d is %s: %w", job.ID, job.Type, ErrUnknownJobType)
	}
	var ticket OrderTicket
	if err := json.Unmarshal([]byte(job.Payload), &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode job %d: %w", job.ID, err)
	}
	return &ticket, nil
}

func DecodeBillTicket(job *models.PrintJob) (*BillTicket, error) {
	if job.Type != models.PrintJobBill {
		return nil, fmt.Errorf("job %d is %s: %w", job.ID, job.Type, ErrUnknownJobType)
	}
	var ticket BillTicket
	if err := json.Unmarshal([]byte(job.Payload), &ticket); err != nil {
		return nil, fmt.Errorf("failed to decode job %d: %w", job.ID, err)
	}
	return &ticket, nil
}
