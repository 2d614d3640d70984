package repository

import (
	"fmt"
	"time"

	"github.com/example/tableorder/pkg/models"
	"gorm.io/gorm"
)

// Tx is the record-level API available inside Store.View and
// Store.Update.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) Table(id uint) (*models.Table, error) {
	var table models.Table
	if err := t.db.First(&table, id).Error; err != nil {
		return nil, storageError(fmt.Sprintf("table %d", id), err)
	}
	return &table, nil
}

func (t *Tx) Tables() ([]models.Table, error) {
	var tables []models.Table
	if err := t.db.Order("id ASC").Find(&tables).Error; err != nil {
		return nil, storageError("list tables", err)
	}
	return tables, nil
}

func (t *Tx) withItems() *gorm.DB {
	return t.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
}

// Order loads an order together with its items.
func (t *Tx) Order(id uint) (*models.Order, error) {
	var order models.Order
	if err := t.withItems().First(&order, id).Error; err != nil {
		return nil, storageError(fmt.Sprintf("order %d", id), err)
	}
	return &order, nil
}

func (t *Tx) OrderItem(id uint) (*models.OrderItem, error) {
	var item models.OrderItem
	if err := t.db.First(&item, id).Error; err != nil {
		return nil, storageError(fmt.Sprintf("order item %d", id), err)
	}
	return &item, nil
}

// OrdersByTable returns the table's orders, newest first. With no
// statuses every order is returned.
func (t *Tx) OrdersByTable(tableID uint, statuses ...models.OrderStatus) ([]models.Order, error) {
	query := t.withItems().Where("table_id = ?", tableID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var orders []models.Order
	if err := query.Order("created_at DESC, id DESC").Find(&orders).Error; err != nil {
		return nil, storageError(fmt.Sprintf("orders of table %d", tableID), err)
	}
	return orders, nil
}

// OrdersByStatus returns orders across all tables, oldest first. With
// no statuses every order is returned.
func (t *Tx) OrdersByStatus(statuses ...models.OrderStatus) ([]models.Order, error) {
	query := t.withItems()
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var orders []models.Order
	if err := query.Order("created_at ASC, id ASC").Find(&orders).Error; err != nil {
		return nil, storageError("list orders", err)
	}
	return orders, nil
}

// CreateOrder inserts the order and its items.
func (t *Tx) CreateOrder(order *models.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	if err := t.db.Create(order).Error; err != nil {
		return storageError("create order", err)
	}
	return nil
}

func (t *Tx) SetItemDelivered(itemID uint, delivered bool) error {
	err := t.db.Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{"is_delivered": delivered, "updated_at": time.Now()}).Error
	if err != nil {
		return storageError(fmt.Sprintf("update order item %d", itemID), err)
	}
	return nil
}

func (t *Tx) SetAllItemsDelivered(orderID uint) error {
	err := t.db.Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{"is_delivered": true, "updated_at": time.Now()}).Error
	if err != nil {
		return storageError(fmt.Sprintf("deliver items of order %d", orderID), err)
	}
	return nil
}

// CompareAndSetStatus writes status only if the order still has the
// version it was read with, and bumps the version. The version is
// bumped even when status is unchanged so concurrent item writes on
// the same order always conflict.
func (t *Tx) CompareAndSetStatus(order *models.Order, status models.OrderStatus) error {
	now := time.Now()
	res := t.db.Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    order.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return storageError(fmt.Sprintf("update order %d", order.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %d at version %d: %w", order.ID, order.Version, models.ErrVersionConflict)
	}

	order.Status = status
	order.Version++
	order.UpdatedAt = now
	return nil
}

func (t *Tx) CreatePrintJob(job *models.PrintJob) error {
	if err := t.db.Create(job).Error; err != nil {
		return storageError("enqueue print job", err)
	}
	return nil
}
