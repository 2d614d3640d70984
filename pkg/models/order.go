package models

import (
	"time"
)

type OrderStatus string

const (
	StatusPending       OrderStatus = "PENDING"
	StatusDelivered     OrderStatus = "DELIVERED"
	StatusBillRequested OrderStatus = "BILL_REQUESTED"
	StatusPaid          OrderStatus = "PAID"
	StatusCompleted     OrderStatus = "COMPLETED"
)

// OpenStatuses are the statuses of orders that still belong to a seated party.
var OpenStatuses = []OrderStatus{StatusPending, StatusDelivered, StatusBillRequested}

// Open reports whether the order has not been paid yet.
func (s OrderStatus) Open() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusBillRequested:
		return true
	}
	return false
}

// Derived reports whether the status is computed from item delivery state.
// BILL_REQUESTED, PAID and COMPLETED are sticky.
func (s OrderStatus) Derived() bool {
	return s == StatusPending || s == StatusDelivered
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusBillRequested, StatusPaid, StatusCompleted:
		return true
	}
	return false
}

type Order struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	TableID     uint        `gorm:"not null;index" json:"tableId"`
	Status      OrderStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	TotalAmount int64       `gorm:"not null;default:0" json:"totalAmount"`
	Version     int         `gorm:"not null;default:1" json:"version"`
	Items       []OrderItem `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"items"`
	CreatedAt   time.Time   `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (Order) TableName() string {
	return "orders"
}

// AllDelivered reports whether every item has been delivered. An order
// without items is never considered delivered.
func (o *Order) AllDelivered() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if !item.IsDelivered {
			return false
		}
	}
	return true
}

// Total sums price x quantity over the snapshotted items.
func (o *Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

type OrderItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderID     uint      `gorm:"not null;index" json:"orderId"`
	ProductID   uint      `gorm:"not null;index" json:"productId"`
	ProductName string    `gorm:"type:varchar(100);not null" json:"productName"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	Price       int64     `gorm:"not null" json:"price"`
	IsDelivered bool      `gorm:"not null;default:false" json:"isDelivered"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
