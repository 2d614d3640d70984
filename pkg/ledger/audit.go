package ledger

import (
	"context"
	"time"

	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const (
	ActionOrderPlaced    = "order_placed"
	ActionItemToggled    = "item_toggled"
	ActionBillRequested  = "bill_requested"
	ActionOrderDelivered = "order_delivered"
	ActionOrderPaid      = "order_paid"
	ActionOrderCompleted = "order_completed"
)

type Auditor interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

type transition struct {
	action string
	order  *models.Order
	from   models.OrderStatus
	data   bson.M
}

// audit writes entries in the background so the caller only waits for
// its own transaction.
func (l *Ledger) audit(entries ...transition) {
	if l.auditor == nil || len(entries) == 0 {
		return
	}

	logs := make([]*repository.AuditLog, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, &repository.AuditLog{
			Action:     e.action,
			OrderID:    repository.AuditID(e.order.ID),
			TableID:    repository.AuditID(e.order.TableID),
			FromStatus: string(e.from),
			ToStatus:   string(e.order.Status),
			Data:       e.data,
			CreatedAt:  time.Now(),
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, log := range logs {
			if err := l.auditor.CreateAuditLog(ctx, log); err != nil {
				l.logger.Warn("Failed to write audit log",
					zap.String("action", log.Action),
					zap.String("order_id", log.OrderID),
					zap.Error(err))
			}
		}
	}()
}
