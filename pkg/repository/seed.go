package repository

import (
	"context"
	"fmt"

	"github.com/example/tableorder/pkg/models"
)

// DefaultTables and DefaultProducts are the demo floor and menu loaded by
// Seed.
var (
	DefaultTables = []string{"Table 1", "Table 2", "Table 3", "Table 4", "Table 5"}

	DefaultProducts = []models.Product{
		{Name: "Draft Beer", Price: 550, Category: "Drink"},
		{Name: "Highball", Price: 450, Category: "Drink"},
		{Name: "Oolong Tea", Price: 300, Category: "Drink"},
		{Name: "Edamame", Price: 300, Category: "Food"},
		{Name: "Karaage", Price: 600, Category: "Food"},
		{Name: "French Fries", Price: 450, Category: "Food"},
		{Name: "Caesar Salad", Price: 700, Category: "Food"},
		{Name: "Vanilla Ice Cream", Price: 350, Category: "Dessert"},
		{Name: "Chocolate Parfait", Price: 750, Category: "Dessert"},
	}
)

// Seed inserts the default tables and products. Rows that already exist
// by name are left untouched, so Seed can be run repeatedly.
func (s *Store) Seed(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, name := range DefaultTables {
			table := models.Table{Name: name}
			if err := tx.db.Where(models.Table{Name: name}).FirstOrCreate(&table).Error; err != nil {
				return storageError(fmt.Sprintf("seed table %q", name), err)
			}
		}

		for _, p := range DefaultProducts {
			product := p
			if err := tx.db.Where(models.Product{Name: p.Name}).FirstOrCreate(&product).Error; err != nil {
				return storageError(fmt.Sprintf("seed product %q", p.Name), err)
			}
		}
		return nil
	})
}

// SaveProduct creates or updates a catalog entry.
func (s *Store) SaveProduct(ctx context.Context, product *models.Product) error {
	if err := s.db.WithContext(ctx).Save(product).Error; err != nil {
		return storageError("save product", err)
	}
	return nil
}

// CreateTable adds a table to the floor.
func (s *Store) CreateTable(ctx context.Context, name string) (*models.Table, error) {
	table := models.Table{Name: name}
	if err := s.db.WithContext(ctx).Create(&table).Error; err != nil {
		return nil, storageError("create table", err)
	}
	return &table, nil
}
