package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// syncLogColumns are the sync_logs columns a listing may be ordered by
var syncLogColumns = map[string]bool{
	"started_at":         true,
	"completed_at":       true,
	"marketplace_name":   true,
	"operation":          true,
	"status":             true,
	"products_processed": true,
	"products_imported":  true,
	"products_updated":   true,
}

// orderBy builds an ORDER BY term from user input. A column outside allowed
// is replaced by fallback and anything but "asc" sorts descending.
func orderBy(column, direction string, allowed map[string]bool, fallback string) clause.OrderByColumn {
	column = strings.TrimSpace(column)
	if !allowed[column] {
		column = fallback
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: column},
		Desc:   !strings.EqualFold(strings.TrimSpace(direction), "asc"),
	}
}
