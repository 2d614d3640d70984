package ledger

import (
	"context"

	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/repository"
)

func (l *Ledger) Tables(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	err := l.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		tables, err = tx.Tables()
		return err
	})
	return tables, err
}

func (l *Ledger) Order(ctx context.Context, orderID uint) (*models.Order, error) {
	var order *models.Order
	err := l.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		order, err = tx.Order(orderID)
		return err
	})
	return order, err
}

// TableHistory is what a seated customer sees: orders still being
// served, newest first.
func (l *Ledger) TableHistory(ctx context.Context, tableID uint) ([]models.Order, error) {
	return l.tableOrders(ctx, tableID, models.StatusPending, models.StatusDelivered)
}

// TableOrders returns every order the table ever placed, newest first.
func (l *Ledger) TableOrders(ctx context.Context, tableID uint) ([]models.Order, error) {
	return l.tableOrders(ctx, tableID)
}

func (l *Ledger) tableOrders(ctx context.Context, tableID uint, statuses ...models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	err := l.store.View(ctx, func(tx *repository.Tx) error {
		if _, err := tx.Table(tableID); err != nil {
			return err
		}
		var err error
		orders, err = tx.OrdersByTable(tableID, statuses...)
		return err
	})
	return orders, err
}

// OpenOrders feeds the staff dashboard: unpaid orders of every table,
// oldest first.
func (l *Ledger) OpenOrders(ctx context.Context) ([]models.Order, error) {
	return l.ordersByStatus(ctx, models.OpenStatuses...)
}

func (l *Ledger) ClosedOrders(ctx context.Context) ([]models.Order, error) {
	return l.ordersByStatus(ctx, models.StatusPaid, models.StatusCompleted)
}

// OrdersByStatus lists orders in the given statuses across all tables.
func (l *Ledger) OrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	return l.ordersByStatus(ctx, statuses...)
}

func (l *Ledger) ordersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	err := l.store.View(ctx, func(tx *repository.Tx) error {
		var err error
		orders, err = tx.OrdersByStatus(statuses...)
		return err
	})
	return orders, err
}
