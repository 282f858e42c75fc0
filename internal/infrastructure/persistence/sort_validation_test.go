package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/clause"
)

func TestOrderBy(t *testing.T) {
	tests := []struct {
		name      string
		column    string
		direction string
		want      string
		wantDesc  bool
	}{
		{"defaults", "", "", "started_at", true},
		{"allowed column ascending", "completed_at", "asc", "completed_at", false},
		{"direction is case insensitive", "status", " ASC ", "status", false},
		{"explicit descending", "status", "desc", "status", true},
		{"trimmed column", "  operation ", "", "operation", true},
		{"jsonb column is not sortable", "errors", "asc", "started_at", false},
		{"primary key is not exposed", "id", "", "started_at", true},
		{"column names are case sensitive", "STATUS", "", "started_at", true},
		{"unknown direction sorts descending", "status", "sideways", "status", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderBy(tt.column, tt.direction, syncLogColumns, "started_at")
			assert.Equal(t, tt.want, got.Column.Name)
			assert.Equal(t, tt.wantDesc, got.Desc)
		})
	}
}

func TestOrderBy_RejectsInjection(t *testing.T) {
	payloads := []string{
		"started_at; DROP TABLE sync_logs;--",
		"status' OR '1'='1",
		"status UNION SELECT * FROM marketplace_connection_settings",
		"started_at, (SELECT client_secret FROM marketplace_connection_settings)",
		"CASE WHEN 1=1 THEN status ELSE operation END",
		"status/**/;DROP TABLE sync_logs",
		"status\n; DROP TABLE sync_logs",
	}

	for _, payload := range payloads {
		got := orderBy(payload, payload, syncLogColumns, "started_at")
		assert.Equal(t, clause.OrderByColumn{Column: clause.Column{Name: "started_at"}, Desc: true}, got, payload)
	}
}
