// Package models contains the GORM persistence models that map to database
// tables. Domain entities stay free of ORM tags; each model carries ToDomain
// and FromDomain mappers and the repositories only ever store models.
//
// Files:
// - base.go: BaseModel and AggregateModel (version column for optimistic locking)
// - catalog.go: products and categories
// - marketplace.go: category mappings, sync logs and connection settings
// - trade.go: orders, order items, marketplace orders, returns and fulfillment logs
package models
