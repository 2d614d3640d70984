package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/tableorder/pkg/eventbus"
	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/printqueue"
	"github.com/example/tableorder/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 5

type Store interface {
	View(ctx context.Context, fn func(tx *repository.Tx) error) error
	Update(ctx context.Context, fn func(tx *repository.Tx) error) error
}

type Catalog interface {
	LookupProducts(ctx context.Context, ids []uint) (map[uint]models.Product, error)
}

// Notifier is satisfied by *eventbus.Hub and *eventbus.Relay.
type Notifier interface {
	Publish(ctx context.Context, room eventbus.Room, event eventbus.Event, payload any) error
}

// Line is one cart line submitted by a customer.
type Line struct {
	ProductID uint `json:"productId"`
	Quantity  int  `json:"quantity"`
}

// Ledger owns every order state transition. Each operation commits in a
// single transaction and only then notifies rooms.
type Ledger struct {
	store       Store
	catalog     Catalog
	notifier    Notifier
	auditor     Auditor
	logger      *zap.Logger
	maxAttempts int
}

type Option func(*Ledger)

func WithAuditor(auditor Auditor) Option {
	return func(l *Ledger) { l.auditor = auditor }
}

// WithMaxAttempts bounds how often an operation is retried after losing
// a version race.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func New(store Store, catalog Catalog, notifier Notifier, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		catalog:     catalog,
		notifier:    notifier,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// update runs fn in a transaction, retrying when a compare-and-set lost
// against a concurrent writer. fn must not keep state across attempts.
func (l *Ledger) update(ctx context.Context, fn func(tx *repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.store.Update(ctx, fn)
		if !errors.Is(err, models.ErrVersionConflict) {
			return err
		}
		l.logger.Debug("Order version conflict, retrying", zap.Int("attempt", attempt))
	}
	return err
}

// PlaceOrder creates a new PENDING order for the table and queues its
// kitchen ticket. An empty cart is a no-op and returns a nil order.
func (l *Ledger) PlaceOrder(ctx context.Context, tableID uint, lines []Line) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("product %d quantity %d: %w", line.ProductID, line.Quantity, models.ErrInvalidQuantity)
		}
		ids = append(ids, line.ProductID)
	}

	products, err := l.catalog.LookupProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(lines))
	ticket := make([]printqueue.TicketLine, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, models.ErrNotFound)
		}
		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			Price:       product.Price,
		})
		ticket = append(ticket, printqueue.TicketLine{Name: product.Name, Quantity: line.Quantity})
	}

	var (
		order *models.Order
		job   *models.PrintJob
		table *models.Table
	)
	err = l.update(ctx, func(tx *repository.Tx) error {
		var err error
		if table, err = tx.Table(tableID); err != nil {
			return err
		}

		order = &models.Order{
			TableID: table.ID,
			Status:  models.StatusPending,
			Items:   append([]models.OrderItem(nil), items...),
		}
		order.TotalAmount = order.Total()
		if err := tx.CreateOrder(order); err != nil {
			return err
		}

		if job, err = printqueue.NewOrderJob(table.Name, ticket); err != nil {
			return err
		}
		return tx.CreatePrintJob(job)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Order placed",
		zap.Uint("order_id", order.ID),
		zap.Uint("table_id", tableID),
		zap.Int64("total_amount", order.TotalAmount))

	l.notify(ctx,
		notification{eventbus.AdminRoom, eventbus.EventNewOrder, orderEvent(order)},
		notification{eventbus.PrinterRoom, eventbus.EventPrintOrder, printqueue.NoticeFor(job, table.Name)},
	)
	l.audit(transition{action: ActionOrderPlaced, order: order, data: bson.M{"items": len(order.Items), "print_job_id": job.ID}})
	return order, nil
}

// ToggleItemDelivery sets one item's delivered flag and re-derives the
// status of its order in the same transaction. Only PENDING and
// DELIVERED orders accept item changes.
func (l *Ledger) ToggleItemDelivery(ctx context.Context, itemID uint, delivered bool) (*models.Order, error) {
	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := l.update(ctx, func(tx *repository.Tx) error {
		item, err := tx.OrderItem(itemID)
		if err != nil {
			return err
		}
		if order, err = tx.Order(item.OrderID); err != nil {
			return err
		}
		if !order.Status.Derived() {
			return fmt.Errorf("order %d is %s: %w", order.ID, order.Status, models.ErrInvalidState)
		}

		if err := tx.SetItemDelivered(itemID, delivered); err != nil {
			return err
		}
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				order.Items[i].IsDelivered = delivered
			}
		}

		from = order.Status
		return tx.CompareAndSetStatus(order, DeriveStatus(order))
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Item delivery toggled",
		zap.Uint("item_id", itemID),
		zap.Bool("delivered", delivered),
		zap.Uint("order_id", order.ID),
		zap.String("status", string(order.Status)))

	l.notify(ctx,
		notification{eventbus.TableRoom(order.TableID), eventbus.EventUpdateTriggered, ItemEvent{
			OrderID:     order.ID,
			ItemID:      itemID,
			TableID:     order.TableID,
			IsDelivered: delivered,
			Status:      order.Status,
		}},
		notification{eventbus.AdminRoom, eventbus.EventRefreshAdmin, orderEvent(order)},
	)
	l.audit(transition{action: ActionItemToggled, order: order, from: from, data: bson.M{"item_id": itemID, "delivered": delivered}})
	return order, nil
}

// RequestBill closes out every PENDING or DELIVERED order of the table
// and queues a single bill ticket for them. It returns how many orders
// were billed; with none open nothing happens.
func (l *Ledger) RequestBill(ctx context.Context, tableID uint) (int, error) {
	var (
		billed []transition
		job    *models.PrintJob
		table  *models.Table
	)
	err := l.update(ctx, func(tx *repository.Tx) error {
		billed, job = nil, nil

		var err error
		if table, err = tx.Table(tableID); err != nil {
			return err
		}
		orders, err := tx.OrdersByTable(tableID, models.StatusPending, models.StatusDelivered)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}

		for i := range orders {
			order := &orders[i]
			from := order.Status
			if err := tx.CompareAndSetStatus(order, models.StatusBillRequested); err != nil {
				return err
			}
			billed = append(billed, transition{action: ActionBillRequested, order: order, from: from})
		}

		if job, err = printqueue.NewBillJob(table.Name, len(orders)); err != nil {
			return err
		}
		return tx.CreatePrintJob(job)
	})
	if err != nil {
		return 0, err
	}
	if len(billed) == 0 {
		return 0, nil
	}

	l.logger.Info("Bill requested", zap.Uint("table_id", tableID), zap.Int("order_count", len(billed)))

	l.notify(ctx,
		notification{eventbus.AdminRoom, eventbus.EventRefreshAdmin, TableEvent{TableID: tableID, OrderCount: len(billed)}},
		notification{eventbus.PrinterRoom, eventbus.EventPrintOrder, printqueue.NoticeFor(job, table.Name)},
	)
	l.audit(billed...)
	return len(billed), nil
}

// MarkAllDelivered forces every item of the order to delivered and moves
// the order to DELIVERED. Marking a DELIVERED order again is a no-op.
func (l *Ledger) MarkAllDelivered(ctx context.Context, orderID uint) (*models.Order, error) {
	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := l.update(ctx, func(tx *repository.Tx) error {
		var err error
		if order, err = tx.Order(orderID); err != nil {
			return err
		}
		switch order.Status {
		case models.StatusPending, models.StatusDelivered, models.StatusBillRequested:
		default:
			return fmt.Errorf("order %d is %s: %w", order.ID, order.Status, models.ErrInvalidState)
		}

		if err := tx.SetAllItemsDelivered(orderID); err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].IsDelivered = true
		}

		from = order.Status
		return tx.CompareAndSetStatus(order, models.StatusDelivered)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Order delivered", zap.Uint("order_id", orderID), zap.String("from", string(from)))

	l.notify(ctx,
		notification{eventbus.AdminRoom, eventbus.EventRefreshAdmin, orderEvent(order)},
		notification{eventbus.TableRoom(order.TableID), eventbus.EventUpdateTriggered, orderEvent(order)},
	)
	l.audit(transition{action: ActionOrderDelivered, order: order, from: from})
	return order, nil
}

// MarkPaid settles an open order.
func (l *Ledger) MarkPaid(ctx context.Context, orderID uint) (*models.Order, error) {
	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := l.update(ctx, func(tx *repository.Tx) error {
		var err error
		if order, err = tx.Order(orderID); err != nil {
			return err
		}
		if !order.Status.Open() {
			return fmt.Errorf("order %d is %s: %w", order.ID, order.Status, models.ErrInvalidState)
		}
		from = order.Status
		return tx.CompareAndSetStatus(order, models.StatusPaid)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Order paid", zap.Uint("order_id", orderID), zap.Int64("total_amount", order.TotalAmount))

	l.notify(ctx, notification{eventbus.AdminRoom, eventbus.EventRefreshAdmin, orderEvent(order)})
	l.audit(transition{action: ActionOrderPaid, order: order, from: from})
	return order, nil
}

// FinishSession archives the table's paid orders and sends the table's
// devices back to a fresh menu. It refuses while the table still has
// unpaid orders and returns how many orders were completed.
func (l *Ledger) FinishSession(ctx context.Context, tableID uint) (int, error) {
	var completed []transition
	err := l.update(ctx, func(tx *repository.Tx) error {
		completed = nil

		if _, err := tx.Table(tableID); err != nil {
			return err
		}
		open, err := tx.OrdersByTable(tableID, models.OpenStatuses...)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("table %d has %d unpaid orders: %w", tableID, len(open), models.ErrInvalidState)
		}

		paid, err := tx.OrdersByTable(tableID, models.StatusPaid)
		if err != nil {
			return err
		}
		for i := range paid {
			order := &paid[i]
			if err := tx.CompareAndSetStatus(order, models.StatusCompleted); err != nil {
				return err
			}
			completed = append(completed, transition{action: ActionOrderCompleted, order: order, from: models.StatusPaid})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(completed) == 0 {
		return 0, nil
	}

	l.logger.Info("Session finished", zap.Uint("table_id", tableID), zap.Int("order_count", len(completed)))

	payload := TableEvent{TableID: tableID, OrderCount: len(completed)}
	l.notify(ctx,
		notification{eventbus.TableRoom(tableID), eventbus.EventForceRefresh, payload},
		notification{eventbus.AdminRoom, eventbus.EventRefreshAdmin, payload},
	)
	l.audit(completed...)
	return len(completed), nil
}
