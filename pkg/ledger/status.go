package ledger

import "github.com/example/tableorder/pkg/models"

// DeriveStatus returns the status order must have given its items.
// PENDING and DELIVERED follow the items; every later status is sticky.
func DeriveStatus(order *models.Order) models.OrderStatus {
	if !order.Status.Derived() {
		return order.Status
	}
	if order.AllDelivered() {
		return models.StatusDelivered
	}
	return models.StatusPending
}
