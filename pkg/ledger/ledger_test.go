package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/eventbus"
	"github.com/example/tableorder/pkg/models"
	"github.com/example/tableorder/pkg/printqueue"
	"github.com/example/tableorder/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	id   string
	mu   sync.Mutex
	msgs []eventbus.Message
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(msg eventbus.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]eventbus.Event, 0, len(r.msgs))
	for _, m := range r.msgs {
		events = append(events, m.Event)
	}
	return events
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *recorder) last() eventbus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

type memoryAuditor struct {
	mu   sync.Mutex
	logs []*repository.AuditLog
}

func (a *memoryAuditor) CreateAuditLog(_ context.Context, log *repository.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var actions []string
	for _, log := range a.logs {
		actions = append(actions, log.Action)
	}
	return actions
}

type fixture struct {
	store   *repository.Store
	hub     *eventbus.Hub
	ledger  *Ledger
	auditor *memoryAuditor
	admin   *recorder
	printer *recorder
	table1  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := repository.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Seed(ctx))

	hub := eventbus.NewHub(zap.NewNop())
	f := &fixture{
		store:   store,
		hub:     hub,
		auditor: &memoryAuditor{},
		admin:   &recorder{id: "admin-1"},
		printer: &recorder{id: "printer-1"},
		table1:  &recorder{id: "table-1"},
	}
	hub.Join(f.admin, eventbus.AdminRoom)
	hub.Join(f.printer, eventbus.PrinterRoom)
	hub.Join(f.table1, eventbus.TableRoom(1))

	f.ledger = New(store, store, hub, zap.NewNop(), WithAuditor(f.auditor))
	return f
}

// over builds a second ledger on the fixture's rooms and catalog that
// writes through store.
func (f *fixture) over(store Store, opts ...Option) *Ledger {
	return New(store, f.store, f.hub, zap.NewNop(), opts...)
}

// faultyStore runs every update for real and then fails it before
// commit: conflicts times with a version conflict, or always with an
// unavailable store when failCommit is set.
type faultyStore struct {
	*repository.Store
	conflicts   int
	failCommit  bool
	afterCommit func()
	attempts    int
}

func (s *faultyStore) Update(ctx context.Context, fn func(tx *repository.Tx) error) error {
	s.attempts++
	err := s.Store.Update(ctx, func(tx *repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.conflicts > 0 {
			s.conflicts--
			return fmt.Errorf("stale order: %w", models.ErrVersionConflict)
		}
		if s.failCommit {
			return fmt.Errorf("commit: %w", models.ErrStorageUnavailable)
		}
		return nil
	})
	if err == nil && s.afterCommit != nil {
		s.afterCommit()
	}
	return err
}

func (f *fixture) setPrice(t *testing.T, productID uint, price int64) {
	t.Helper()
	ctx := context.Background()
	products, err := f.store.LookupProducts(ctx, []uint{productID})
	require.NoError(t, err)
	product := products[productID]
	product.Price = price
	require.NoError(t, f.store.SaveProduct(ctx, &product))
}

func (f *fixture) pendingJobs(t *testing.T) []models.PrintJob {
	t.Helper()
	jobs, err := f.store.PendingPrintJobs(context.Background(), 0)
	require.NoError(t, err)
	return jobs
}

func (f *fixture) place(t *testing.T, tableID uint, lines ...Line) *models.Order {
	t.Helper()
	order, err := f.ledger.PlaceOrder(context.Background(), tableID, lines)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func assertConsistent(t *testing.T, order *models.Order) {
	t.Helper()
	if order.Status.Derived() {
		assert.Equal(t, order.AllDelivered(), order.Status == models.StatusDelivered,
			"order %d status %s does not match its items", order.ID, order.Status)
	}
}

func TestPlaceOrderSnapshotsPricesAndQueuesTicket(t *testing.T) {
	f := newFixture(t)
	f.setPrice(t, 5, 300)
	f.setPrice(t, 9, 700)

	order := f.place(t, 1, Line{ProductID: 5, Quantity: 2}, Line{ProductID: 9, Quantity: 1})

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, int64(1300), order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(300), order.Items[0].Price)
	assert.Equal(t, "Karaage", order.Items[0].ProductName)

	jobs := f.pendingJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.PrintJobOrder, jobs[0].Type)
	ticket, err := printqueue.DecodeOrderTicket(&jobs[0])
	require.NoError(t, err)
	assert.Equal(t, "Table 1", ticket.TableName)
	assert.Equal(t, []printqueue.TicketLine{
		{Name: "Karaage", Quantity: 2},
		{Name: "Chocolate Parfait", Quantity: 1},
	}, ticket.Items)

	assert.Equal(t, []eventbus.Event{eventbus.EventNewOrder}, f.admin.events())
	assert.Equal(t, []eventbus.Event{eventbus.EventPrintOrder}, f.printer.events())
	assert.Empty(t, f.table1.events())

	var notice printqueue.Notice
	require.NoError(t, json.Unmarshal(f.printer.last().Data, &notice))
	assert.Equal(t, jobs[0].ID, notice.JobID)
	assert.Equal(t, "Table 1", notice.TableName)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{ActionOrderPlaced}, f.auditor.actions())
	}, time.Second, 10*time.Millisecond)
}

func TestPlaceOrderEmptyCartIsNoop(t *testing.T) {
	f := newFixture(t)

	order, err := f.ledger.PlaceOrder(context.Background(), 1, nil)
	assert.NoError(t, err)
	assert.Nil(t, order)
	assert.Empty(t, f.pendingJobs(t))
	assert.Empty(t, f.admin.events())
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.PlaceOrder(ctx, 1, []Line{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = f.ledger.PlaceOrder(ctx, 1, []Line{{ProductID: 1, Quantity: 1}, {ProductID: 404, Quantity: 1}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.ledger.PlaceOrder(ctx, 42, []Line{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	orders, err := f.ledger.TableOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.pendingJobs(t))
	assert.Empty(t, f.admin.events())
	assert.Empty(t, f.printer.events())
}

func TestEverySubmissionCreatesANewOrder(t *testing.T) {
	f := newFixture(t)

	first := f.place(t, 1, Line{ProductID: 1, Quantity: 1})
	second := f.place(t, 1, Line{ProductID: 1, Quantity: 1})
	assert.NotEqual(t, first.ID, second.ID)

	history, err := f.ledger.TableHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
}

func TestToggleKeepsStatusConsistentWithItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1,
		Line{ProductID: 1, Quantity: 1},
		Line{ProductID: 2, Quantity: 2},
		Line{ProductID: 3, Quantity: 1},
	)
	ids := []uint{order.Items[0].ID, order.Items[1].ID, order.Items[2].ID}

	steps := []struct {
		item      uint
		delivered bool
		want      models.OrderStatus
	}{
		{ids[0], true, models.StatusPending},
		{ids[1], true, models.StatusPending},
		{ids[2], true, models.StatusDelivered},
		{ids[1], false, models.StatusPending},
		{ids[1], true, models.StatusDelivered},
		{ids[1], true, models.StatusDelivered},
		{ids[0], false, models.StatusPending},
	}
	for i, step := range steps {
		updated, err := f.ledger.ToggleItemDelivery(ctx, step.item, step.delivered)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.want, updated.Status, "step %d", i)
		assertConsistent(t, updated)

		stored, err := f.ledger.Order(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, stored.Status, "step %d", i)
		assertConsistent(t, stored)
	}

	assert.Len(t, f.table1.events(), len(steps))
	msg := f.table1.last()
	assert.Equal(t, eventbus.EventUpdateTriggered, msg.Event)
	var payload ItemEvent
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, ids[0], payload.ItemID)
	assert.False(t, payload.IsDelivered)
}

func TestRetoggleRestoresDerivedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1, Line{ProductID: 4, Quantity: 1})
	item := order.Items[0].ID

	delivered, err := f.ledger.ToggleItemDelivery(ctx, item, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)

	_, err = f.ledger.ToggleItemDelivery(ctx, item, false)
	require.NoError(t, err)
	again, err := f.ledger.ToggleItemDelivery(ctx, item, true)
	require.NoError(t, err)
	assert.Equal(t, delivered.Status, again.Status)
}

func TestToggleRejectedOnceOrderLeavesService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1, Line{ProductID: 1, Quantity: 1}, Line{ProductID: 2, Quantity: 1})

	_, err := f.ledger.RequestBill(ctx, 1)
	require.NoError(t, err)
	_, err = f.ledger.ToggleItemDelivery(ctx, order.Items[0].ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = f.ledger.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.FinishSession(ctx, 1)
	require.NoError(t, err)

	_, err = f.ledger.ToggleItemDelivery(ctx, order.Items[0].ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	stored, err := f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.False(t, stored.Items[0].IsDelivered)
}

func TestToggleUnknownItemIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.ToggleItemDelivery(context.Background(), 999, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.admin.events())
}

func TestRequestBillClosesOutOpenOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.place(t, 1, Line{ProductID: 1, Quantity: 1})
	delivered := f.place(t, 1, Line{ProductID: 6, Quantity: 1})
	_, err := f.ledger.ToggleItemDelivery(ctx, delivered.Items[0].ID, true)
	require.NoError(t, err)
	other := f.place(t, 2, Line{ProductID: 2, Quantity: 1})

	count, err := f.ledger.RequestBill(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []uint{pending.ID, delivered.ID} {
		order, err := f.ledger.Order(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusBillRequested, order.Status)
	}
	untouched, err := f.ledger.Order(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, untouched.Status)

	var bills []models.PrintJob
	for _, job := range f.pendingJobs(t) {
		if job.Type == models.PrintJobBill {
			bills = append(bills, job)
		}
	}
	require.Len(t, bills, 1)
	ticket, err := printqueue.DecodeBillTicket(&bills[0])
	require.NoError(t, err)
	assert.Equal(t, 2, ticket.OrderCount)
	assert.Equal(t, "Table 1", ticket.TableName)

	again, err := f.ledger.RequestBill(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.pendingJobs(t), 4)
}

func TestRequestBillWithoutOpenOrders(t *testing.T) {
	f := newFixture(t)

	count, err := f.ledger.RequestBill(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.pendingJobs(t))
	assert.Empty(t, f.admin.events())

	_, err = f.ledger.RequestBill(context.Background(), 77)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkAllDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1, Line{ProductID: 1, Quantity: 1}, Line{ProductID: 7, Quantity: 1})
	_, err := f.ledger.RequestBill(ctx, 1)
	require.NoError(t, err)

	updated, err := f.ledger.MarkAllDelivered(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	assert.True(t, updated.AllDelivered())

	again, err := f.ledger.MarkAllDelivered(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, again.Status)

	stored, err := f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.AllDelivered())

	_, err = f.ledger.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.ledger.MarkAllDelivered(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestMarkPaidOnlyFromOpenStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1, Line{ProductID: 1, Quantity: 3})
	paid, err := f.ledger.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, paid.Status)

	_, err = f.ledger.MarkPaid(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = f.ledger.MarkPaid(ctx, 4040)
	assert.ErrorIs(t, err, models.ErrNotFound)

	closed, err := f.ledger.ClosedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, order.ID, closed[0].ID)
}

func TestFinishSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.place(t, 1, Line{ProductID: 1, Quantity: 1})
	second := f.place(t, 1, Line{ProductID: 2, Quantity: 1})
	_, err := f.ledger.MarkPaid(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.ledger.FinishSession(ctx, 1)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.NotContains(t, f.table1.events(), eventbus.EventForceRefresh)

	_, err = f.ledger.MarkPaid(ctx, second.ID)
	require.NoError(t, err)

	count, err := f.ledger.FinishSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, eventbus.EventForceRefresh, f.table1.last().Event)
	assert.Equal(t, eventbus.EventRefreshAdmin, f.admin.last().Event)

	orders, err := f.ledger.TableOrders(ctx, 1)
	require.NoError(t, err)
	for _, order := range orders {
		assert.Equal(t, models.StatusCompleted, order.Status)
	}

	open, err := f.ledger.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	again, err := f.ledger.FinishSession(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSnapshotSurvivesCatalogChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, 1, Line{ProductID: 3, Quantity: 2})
	f.setPrice(t, 3, 9999)

	stored, err := f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, stored.TotalAmount)
	assert.Equal(t, order.Items[0].Price, stored.Items[0].Price)
	assert.Equal(t, stored.Total(), stored.TotalAmount)
}

func TestConcurrentTogglesOnOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lines := make([]Line, 0, 6)
	for id := uint(1); id <= 6; id++ {
		lines = append(lines, Line{ProductID: id, Quantity: 1})
	}
	order := f.place(t, 1, lines...)

	var wg sync.WaitGroup
	for _, item := range order.Items {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.ledger.ToggleItemDelivery(ctx, id, true)
			assert.NoError(t, err)
		}(item.ID)
	}
	wg.Wait()

	stored, err := f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.AllDelivered())
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Equal(t, 1+len(order.Items), stored.Version)
}

func TestCommittedOrderIsAnnouncedAfterCallerGivesUp(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orders := f.over(&faultyStore{Store: f.store, afterCommit: cancel})

	order, err := orders.PlaceOrder(ctx, 1, []Line{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	jobs := f.pendingJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, []eventbus.Event{eventbus.EventNewOrder}, f.admin.events())
	assert.Equal(t, []eventbus.Event{eventbus.EventPrintOrder}, f.printer.events())

	var event OrderEvent
	require.NoError(t, json.Unmarshal(f.admin.last().Data, &event))
	assert.Equal(t, order.ID, event.OrderID)
}

func TestFailedCommitQueuesAndAnnouncesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orders := f.over(&faultyStore{Store: f.store, failCommit: true})

	order, err := orders.PlaceOrder(ctx, 1, []Line{{ProductID: 1, Quantity: 2}})
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.Nil(t, order)

	placed := f.place(t, 1, Line{ProductID: 2, Quantity: 1})
	f.admin.reset()
	f.printer.reset()
	jobsBefore := f.pendingJobs(t)

	billed, err := orders.RequestBill(ctx, 1)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.Zero(t, billed)

	assert.Equal(t, jobsBefore, f.pendingJobs(t))
	assert.Empty(t, f.admin.events())
	assert.Empty(t, f.printer.events())

	stored, err := f.ledger.TableOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, placed.ID, stored[0].ID)
	assert.Equal(t, models.StatusPending, stored[0].Status)
}

func TestVersionConflictsAreRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := &faultyStore{Store: f.store, conflicts: 2}
	order, err := f.over(store).PlaceOrder(ctx, 1, []Line{{ProductID: 3, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, store.attempts)

	stored, err := f.ledger.TableOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, order.ID, stored[0].ID)
	assert.Len(t, f.pendingJobs(t), 1)
	assert.Equal(t, []eventbus.Event{eventbus.EventNewOrder}, f.admin.events())
	assert.Equal(t, []eventbus.Event{eventbus.EventPrintOrder}, f.printer.events())

	billed, err := f.over(&faultyStore{Store: f.store, conflicts: 1}).RequestBill(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, billed)

	jobs := f.pendingJobs(t)
	require.Len(t, jobs, 2)
	assert.Equal(t, models.PrintJobBill, jobs[1].Type)
}

func TestVersionConflictSurfacesWhenAttemptsRunOut(t *testing.T) {
	f := newFixture(t)

	store := &faultyStore{Store: f.store, conflicts: 10}
	order, err := f.over(store, WithMaxAttempts(3)).PlaceOrder(context.Background(), 1, []Line{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.Nil(t, order)
	assert.Equal(t, 3, store.attempts)

	assert.Empty(t, f.pendingJobs(t))
	assert.Empty(t, f.admin.events())
	assert.Empty(t, f.printer.events())
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		status models.OrderStatus
		items  []bool
		want   models.OrderStatus
	}{
		{"no items stay pending", models.StatusPending, nil, models.StatusPending},
		{"partial", models.StatusPending, []bool{true, false}, models.StatusPending},
		{"all delivered", models.StatusPending, []bool{true, true}, models.StatusDelivered},
		{"undelivered again", models.StatusDelivered, []bool{false, true}, models.StatusPending},
		{"bill requested is sticky", models.StatusBillRequested, []bool{false}, models.StatusBillRequested},
		{"paid is sticky", models.StatusPaid, []bool{true}, models.StatusPaid},
		{"completed is sticky", models.StatusCompleted, []bool{false}, models.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &models.Order{Status: tt.status}
			for _, delivered := range tt.items {
				order.Items = append(order.Items, models.OrderItem{IsDelivered: delivered})
			}
			assert.Equal(t, tt.want, DeriveStatus(order))
		})
	}
}
