package models

import (
	"time"
)

type PrintJobType string

const (
	PrintJobOrder PrintJobType = "ORDER"
	PrintJobBill  PrintJobType = "BILL"
)

// PrintJob is a write-once ticket instruction. Payload is the JSON
// encoded ticket body; only the printer agent interprets it.
type PrintJob struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Type      PrintJobType `gorm:"type:varchar(10);not null" json:"type"`
	Payload   string       `gorm:"type:text;not null" json:"payload"`
	IsPrinted bool         `gorm:"not null;default:false;index" json:"isPrinted"`
	PrintedAt *time.Time   `json:"printedAt,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (PrintJob) TableName() string {
	return "print_jobs"
}
