package ledger

import (
	"context"

	"github.com/example/tableorder/pkg/eventbus"
	"github.com/example/tableorder/pkg/models"
	"go.uber.org/zap"
)

// OrderEvent is the payload of new_order and of order-level
// refresh_admin / update_triggered events.
type OrderEvent struct {
	OrderID     uint               `json:"orderId"`
	TableID     uint               `json:"tableId"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount int64              `json:"totalAmount,omitempty"`
}

// ItemEvent is the payload sent when a single item is toggled.
type ItemEvent struct {
	OrderID     uint               `json:"orderId"`
	ItemID      uint               `json:"itemId"`
	TableID     uint               `json:"tableId"`
	IsDelivered bool               `json:"isDelivered"`
	Status      models.OrderStatus `json:"status"`
}

// TableEvent is the payload of table-wide transitions.
type TableEvent struct {
	TableID    uint `json:"tableId"`
	OrderCount int  `json:"orderCount"`
}

func orderEvent(order *models.Order) OrderEvent {
	return OrderEvent{
		OrderID:     order.ID,
		TableID:     order.TableID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}
}

type notification struct {
	room    eventbus.Room
	event   eventbus.Event
	payload interface{}
}

// notify publishes after commit. A failed publish is logged: the state
// change is already durable and clients recover by refetching.
func (l *Ledger) notify(ctx context.Context, notes ...notification) {
	// The change is committed; a caller giving up must not silence it.
	ctx = context.WithoutCancel(ctx)
	for _, n := range notes {
		if err := l.notifier.Publish(ctx, n.room, n.event, n.payload); err != nil {
			l.logger.Warn("Failed to publish event",
				zap.String("room", string(n.room)),
				zap.String("event", string(n.event)),
				zap.Error(err))
		}
	}
}
