package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Seed(ctx))
	return store
}

func createOrder(t *testing.T, store *Store, tableID uint, items ...models.OrderItem) *models.Order {
	t.Helper()

	order := &models.Order{TableID: tableID, Status: models.StatusPending, Items: items}
	order.TotalAmount = order.Total()
	require.NoError(t, store.Update(context.Background(), func(tx *Tx) error {
		return tx.CreateOrder(order)
	}))
	return order
}

func TestSeedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx))

	var tables []models.Table
	require.NoError(t, store.View(ctx, func(tx *Tx) error {
		var err error
		tables, err = tx.Tables()
		return err
	}))
	assert.Len(t, tables, len(DefaultTables))
	assert.Equal(t, "Table 1", tables[0].Name)

	products, err := store.LookupProducts(ctx, []uint{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)
	assert.Len(t, products, len(DefaultProducts))
	assert.Equal(t, int64(550), products[1].Price)
}

func TestCreateOrderLoadsItemsInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createOrder(t, store, 1,
		models.OrderItem{ProductID: 1, ProductName: "Draft Beer", Quantity: 2, Price: 550},
		models.OrderItem{ProductID: 4, ProductName: "Edamame", Quantity: 1, Price: 200},
	)
	assert.Equal(t, 1, created.Version)

	var order *models.Order
	require.NoError(t, store.View(ctx, func(tx *Tx) error {
		var err error
		order, err = tx.Order(created.ID)
		return err
	}))
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Draft Beer", order.Items[0].ProductName)
	assert.Equal(t, int64(1300), order.TotalAmount)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.False(t, order.Items[1].IsDelivered)
}

func TestOrdersByTableNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := createOrder(t, store, 2, models.OrderItem{ProductID: 1, ProductName: "Draft Beer", Quantity: 1, Price: 550})
	second := createOrder(t, store, 2, models.OrderItem{ProductID: 2, ProductName: "Highball", Quantity: 1, Price: 450})
	createOrder(t, store, 3, models.OrderItem{ProductID: 2, ProductName: "Highball", Quantity: 1, Price: 450})

	require.NoError(t, store.Update(ctx, func(tx *Tx) error {
		return tx.CompareAndSetStatus(first, models.StatusPaid)
	}))

	require.NoError(t, store.View(ctx, func(tx *Tx) error {
		all, err := tx.OrdersByTable(2)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, first.ID, all[1].ID)

		open, err := tx.OrdersByTable(2, models.OpenStatuses...)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, second.ID, open[0].ID)

		paid, err := tx.OrdersByStatus(models.StatusPaid)
		require.NoError(t, err)
		require.Len(t, paid, 1)
		assert.Equal(t, first.ID, paid[0].ID)
		return nil
	}))
}

func TestCompareAndSetStatusDetectsStaleVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := createOrder(t, store, 1, models.OrderItem{ProductID: 1, ProductName: "Draft Beer", Quantity: 1, Price: 550})
	stale := *created

	require.NoError(t, store.Update(ctx, func(tx *Tx) error {
		return tx.CompareAndSetStatus(created, models.StatusPending)
	}))
	assert.Equal(t, 2, created.Version)

	err := store.Update(ctx, func(tx *Tx) error {
		return tx.CompareAndSetStatus(&stale, models.StatusDelivered)
	})
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	require.NoError(t, store.View(ctx, func(tx *Tx) error {
		order, err := tx.Order(created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, order.Status)
		assert.Equal(t, 2, order.Version)
		return nil
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx *Tx) error {
		if err := tx.CreatePrintJob(&models.PrintJob{Type: models.PrintJobBill, Payload: "{}"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	jobs, err := store.PendingPrintJobs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMissingRecordsAreNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.View(ctx, func(tx *Tx) error {
		_, err := tx.Order(404)
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = store.View(ctx, func(tx *Tx) error {
		_, err := tx.Table(99)
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.MarkPrintJobPrinted(ctx, 12)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPrintJobConsumption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(tx *Tx) error {
		for _, typ := range []models.PrintJobType{models.PrintJobOrder, models.PrintJobBill, models.PrintJobOrder} {
			if err := tx.CreatePrintJob(&models.PrintJob{Type: typ, Payload: "{}"}); err != nil {
				return err
			}
		}
		return nil
	}))

	jobs, err := store.PendingPrintJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Less(t, jobs[0].ID, jobs[1].ID)
	assert.Equal(t, models.PrintJobBill, jobs[1].Type)

	printed, err := store.MarkPrintJobPrinted(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, printed.PrintedAt)
	firstPrintedAt := *printed.PrintedAt

	again, err := store.MarkPrintJobPrinted(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.True(t, again.IsPrinted)
	assert.WithinDuration(t, firstPrintedAt, *again.PrintedAt, time.Millisecond)

	pending, err := store.PendingPrintJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, jobs[1].ID, pending[0].ID)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	table, err := store.CreateTable(ctx, "Terrace 1")
	require.NoError(t, err)
	assert.Equal(t, uint(len(DefaultTables)+1), table.ID)

	var tables []models.Table
	require.NoError(t, store.View(ctx, func(tx *Tx) error {
		var err error
		tables, err = tx.Tables()
		return err
	}))
	require.Len(t, tables, len(DefaultTables)+1)
	assert.Equal(t, "Terrace 1", tables[len(tables)-1].Name)
}
