package models

// All lists every record type for schema migration.
func All() []interface{} {
	return []interface{}{
		&Table{},
		&Product{},
		&Order{},
		&OrderItem{},
		&PrintJob{},
	}
}
