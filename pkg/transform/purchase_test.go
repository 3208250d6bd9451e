package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
)

func TestCalculateTotals(t *testing.T) {
	ds := makeDataset(t, []string{ColQuantity, ColUnitPrice},
		[]dataset.Value{float64(10), float64(25.5)},
		[]dataset.Value{nil, float64(12)},
		[]dataset.Value{float64(3), "bad"},
	)
	out, err := Chain(zaptest.NewLogger(t), ds, CalculateTotals())
	require.NoError(t, err)

	v, _ := out.Value(0, ColTotalAmount)
	assert.Equal(t, float64(255), v)
	v, _ = out.Value(1, ColTotalAmount)
	assert.Nil(t, v)
	v, _ = out.Value(2, ColTotalAmount)
	assert.Nil(t, v)
}

func TestCalculateTotalsKeepsExistingColumn(t *testing.T) {
	ds := makeDataset(t, []string{ColTotalAmount},
		[]dataset.Value{float64(99)})
	out, err := Chain(zaptest.NewLogger(t), ds, CalculateTotals())
	require.NoError(t, err)
	v, _ := out.Value(0, ColTotalAmount)
	assert.Equal(t, float64(99), v)
}

func TestValidateOrderDates(t *testing.T) {
	ds := makeDataset(t, []string{ColOrderDate},
		[]dataset.Value{"2023-08-15"},
		[]dataset.Value{"garbage"},
		[]dataset.Value{nil},
		[]dataset.Value{"2020-01-01"},
	)
	min := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := Chain(zaptest.NewLogger(t), ds, ValidateOrderDates(min, time.Time{}))
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	v, _ := out.Value(0, ColOrderDate)
	assert.Equal(t, time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC), v)
}

func TestCategorizeOrders(t *testing.T) {
	thresholds := config.CategoryThresholds{Small: 100, Medium: 1000, Large: 10000}
	tests := []struct {
		amount dataset.Value
		want   string
	}{
		{float64(50), "SMALL"},
		{float64(99.99), "SMALL"},
		{float64(100), "MEDIUM"},
		{float64(999.99), "MEDIUM"},
		{float64(1000), "LARGE"},
		{float64(10000), "ENTERPRISE"},
		{float64(50000), "ENTERPRISE"},
		{nil, "UNKNOWN"},
		{"not a number", "UNKNOWN"},
	}
	for _, tt := range tests {
		ds := makeDataset(t, []string{ColTotalAmount}, []dataset.Value{tt.amount})
		out, err := Chain(zaptest.NewLogger(t), ds, CategorizeOrders(thresholds))
		require.NoError(t, err)
		v, _ := out.Value(0, ColOrderCategory)
		assert.Equal(t, tt.want, v, "amount %v", tt.amount)
	}
}

func TestFiscalPeriod(t *testing.T) {
	tests := []struct {
		date       string
		startMonth int
		wantYear   int
		wantPeriod int
	}{
		// calendar fiscal year
		{"2023-01-15", 1, 2023, 1},
		{"2023-12-31", 1, 2023, 12},
		// july start: the fiscal year is named for the year it ends in
		{"2023-08-15", 7, 2024, 2},
		{"2023-07-01", 7, 2024, 1},
		{"2023-06-30", 7, 2023, 12},
		{"2024-01-15", 7, 2024, 7},
		// october start (us federal style)
		{"2023-10-01", 10, 2024, 1},
		{"2023-09-30", 10, 2023, 12},
	}
	for _, tt := range tests {
		date, err := time.Parse("2006-01-02", tt.date)
		require.NoError(t, err)
		year, period := FiscalPeriod(date, tt.startMonth)
		assert.Equal(t, tt.wantYear, year, "%s start=%d", tt.date, tt.startMonth)
		assert.Equal(t, tt.wantPeriod, period, "%s start=%d", tt.date, tt.startMonth)
	}
}

func TestAddFiscalInfo(t *testing.T) {
	ds := makeDataset(t, []string{ColOrderDate},
		[]dataset.Value{time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC)},
		[]dataset.Value{nil},
	)
	out, err := Chain(zaptest.NewLogger(t), ds, AddFiscalInfo(7))
	require.NoError(t, err)

	year, _ := out.Value(0, ColFiscalYear)
	period, _ := out.Value(0, ColFiscalPeriod)
	quarter, _ := out.Value(0, ColFiscalQuarter)
	assert.Equal(t, int64(2024), year)
	assert.Equal(t, int64(2), period)
	assert.Equal(t, int64(1), quarter)

	year, _ = out.Value(1, ColFiscalYear)
	assert.Nil(t, year)
}

func TestAddFiscalInfoRejectsBadStartMonth(t *testing.T) {
	ds := makeDataset(t, []string{ColOrderDate})
	_, err := Chain(zaptest.NewLogger(t), ds, AddFiscalInfo(13))
	require.Error(t, err)
}

func TestAggregateByVendor(t *testing.T) {
	ds := makeDataset(t, []string{ColVendorName, ColTotalAmount},
		[]dataset.Value{"Acme", float64(100)},
		[]dataset.Value{"Globex", float64(50)},
		[]dataset.Value{"Acme", float64(300)},
		[]dataset.Value{"Acme", nil},
	)
	out, err := Chain(zaptest.NewLogger(t), ds, AggregateByVendor())
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	// first-appearance order
	assert.Equal(t, "Acme", out.Row(0)[0])
	assert.Equal(t, int64(3), out.Row(0)[1])
	assert.Equal(t, float64(400), out.Row(0)[2])
	assert.Equal(t, float64(200), out.Row(0)[3])

	assert.Equal(t, "Globex", out.Row(1)[0])
	assert.Equal(t, int64(1), out.Row(1)[1])
}
