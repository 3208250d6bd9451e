package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
)

func TestTableQuery(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []string
		where   string
		limit   int
		want    string
	}{
		{
			name:  "whole table",
			table: "purchase_orders",
			want:  "SELECT * FROM purchase_orders",
		},
		{
			name:    "column list",
			table:   "purchase_orders",
			columns: []string{"po_number", "total"},
			want:    "SELECT po_number, total FROM purchase_orders",
		},
		{
			name:  "where and limit",
			table: "purchase_orders",
			where: "order_date >= '2023-01-01'",
			limit: 10,
			want:  "SELECT * FROM purchase_orders WHERE order_date >= '2023-01-01' LIMIT 10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TableQuery(tt.table, tt.columns, tt.where, tt.limit))
		})
	}
}

func TestCopyQuery(t *testing.T) {
	assert.Equal(t,
		"COPY (SELECT * FROM purchase_orders) TO STDOUT CSV HEADER",
		CopyQuery("purchase_orders", ""))
	assert.Equal(t,
		"COPY (SELECT * FROM purchase_orders WHERE updated_at >= '2023-01-01') TO STDOUT CSV HEADER",
		CopyQuery("purchase_orders", "updated_at >= '2023-01-01'"))
}

func TestWeatherHistoryQuery(t *testing.T) {
	q := WeatherHistoryQuery(config.MarketplaceSource{
		Dataset: "weather_share",
		Table:   "daily_history",
	})
	assert.Contains(t, q, "FROM weather_share.daily_history")
	assert.Contains(t, q, "ORDER BY date DESC")
	assert.NotContains(t, q, "LIMIT")
	assert.NotContains(t, q, "city =")
}

func TestWeatherHistoryQueryFilters(t *testing.T) {
	q := WeatherHistoryQuery(config.MarketplaceSource{
		Dataset:   "weather_share",
		Table:     "daily_history",
		Location:  "Seattle",
		StartDate: "2023-01-01",
		EndDate:   "2023-12-31",
		Limit:     500,
	})
	assert.Contains(t, q, "AND city = 'Seattle'")
	assert.Contains(t, q, "AND date >= '2023-01-01'")
	assert.Contains(t, q, "AND date <= '2023-12-31'")
	assert.Contains(t, q, "LIMIT 500")
}

func TestTruncateSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT\n  1"))
	long := TableQuery("some_table", nil, "a = 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx'", 0)
	assert.LessOrEqual(t, len(truncateSQL(long)), 103)
}
