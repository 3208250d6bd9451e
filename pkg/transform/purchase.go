package transform

import (
	"time"

	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Canonical purchase-order column names.
const (
	ColPurchaseOrderID  = "PURCHASE_ORDER_ID"
	ColOrderDate        = "ORDER_DATE"
	ColVendorName       = "VENDOR_NAME"
	ColItemDescription  = "ITEM_DESCRIPTION"
	ColQuantity         = "QUANTITY"
	ColUnitPrice        = "UNIT_PRICE"
	ColTotalAmount      = "TOTAL_AMOUNT"
	ColOrderStatus      = "ORDER_STATUS"
	ColDeliveryLocation = "DELIVERY_LOCATION"
	ColOrderCategory    = "ORDER_CATEGORY"
	ColFiscalYear       = "FISCAL_YEAR"
	ColFiscalPeriod     = "FISCAL_PERIOD"
	ColFiscalQuarter    = "FISCAL_QUARTER"
)

// purchaseOrderSynonyms maps the column spellings seen across sources onto
// the canonical names.
var purchaseOrderSynonyms = map[string]string{
	"po_number":         ColPurchaseOrderID,
	"po_id":             ColPurchaseOrderID,
	"order_id":          ColPurchaseOrderID,
	"purchase_order_id": ColPurchaseOrderID,
	"order_date":        ColOrderDate,
	"date":              ColOrderDate,
	"vendor":            ColVendorName,
	"vendor_name":       ColVendorName,
	"supplier":          ColVendorName,
	"item":              ColItemDescription,
	"item_description":  ColItemDescription,
	"product":           ColItemDescription,
	"quantity":          ColQuantity,
	"qty":               ColQuantity,
	"unit_price":        ColUnitPrice,
	"price":             ColUnitPrice,
	"total":             ColTotalAmount,
	"total_amount":      ColTotalAmount,
	"status":            ColOrderStatus,
	"order_status":      ColOrderStatus,
	"location":          ColDeliveryLocation,
	"delivery_location": ColDeliveryLocation,
}

// StandardizePurchaseOrderColumns renames source columns to the canonical
// purchase-order names.
func StandardizePurchaseOrderColumns() Op {
	return StandardizeColumns(purchaseOrderSynonyms)
}

// CalculateTotals derives TOTAL_AMOUNT from QUANTITY x UNIT_PRICE when the
// dataset does not already carry a total. Rows where either factor is null
// or non-numeric get a null total.
func CalculateTotals() Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		if ds.HasColumn(ColTotalAmount) {
			return ds.Clone(), nil
		}
		qi, err := ds.ColumnIndex(ColQuantity)
		if err != nil {
			return nil, err
		}
		pi, err := ds.ColumnIndex(ColUnitPrice)
		if err != nil {
			return nil, err
		}
		out, err := ds.AddColumn(ColTotalAmount, func(row int) dataset.Value {
			q, qErr := dataset.AsFloat(ds.Row(row)[qi])
			p, pErr := dataset.AsFloat(ds.Row(row)[pi])
			if qErr != nil || pErr != nil {
				return nil
			}
			return q * p
		})
		if err != nil {
			return nil, err
		}
		logger.Info("calculated order totals from quantity and unit price")
		return out, nil
	}
}

// ValidateOrderDates coerces the order-date column and removes rows whose
// date is missing, unparseable or outside the optional [min, max] window.
func ValidateOrderDates(min, max time.Time) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		coerced, err := ConvertTypes(map[string]Kind{ColOrderDate: KindDate})(logger, ds)
		if err != nil {
			return nil, err
		}
		di, err := coerced.ColumnIndex(ColOrderDate)
		if err != nil {
			return nil, err
		}
		out := coerced.Filter(func(row int) bool {
			v := coerced.Row(row)[di]
			ts, ok := v.(time.Time)
			if !ok {
				return false
			}
			if !min.IsZero() && ts.Before(min) {
				return false
			}
			if !max.IsZero() && ts.After(max) {
				return false
			}
			return true
		})
		if removed := coerced.Len() - out.Len(); removed > 0 {
			logger.Info("dropped rows with invalid order dates", zap.Int("removed", removed))
		}
		return out, nil
	}
}

// CategorizeOrders labels each order by its total against the configured
// thresholds: below Small is SMALL, below Medium is MEDIUM, below Large is
// LARGE, at or above Large is ENTERPRISE. Null totals are UNKNOWN.
func CategorizeOrders(thresholds config.CategoryThresholds) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		ti, err := ds.ColumnIndex(ColTotalAmount)
		if err != nil {
			return nil, err
		}
		out, err := ds.AddColumn(ColOrderCategory, func(row int) dataset.Value {
			amount, convErr := dataset.AsFloat(ds.Row(row)[ti])
			if convErr != nil {
				return "UNKNOWN"
			}
			switch {
			case amount < thresholds.Small:
				return "SMALL"
			case amount < thresholds.Medium:
				return "MEDIUM"
			case amount < thresholds.Large:
				return "LARGE"
			default:
				return "ENTERPRISE"
			}
		})
		if err != nil {
			return nil, err
		}
		logger.Info("categorized orders")
		return out, nil
	}
}

// FiscalPeriod is the pure derivation at the heart of AddFiscalInfo. The
// fiscal year is named for the calendar year it ends in, and the period is
// the one-based month ordinal within that fiscal year: with a July start,
// 2023-08-15 falls in fiscal year 2024, period 2.
func FiscalPeriod(date time.Time, startMonth int) (year, period int) {
	month := int(date.Month())
	year = date.Year()
	if startMonth > 1 && month >= startMonth {
		year++
	}
	period = (month-startMonth+12)%12 + 1
	return year, period
}

// AddFiscalInfo derives FISCAL_YEAR, FISCAL_PERIOD and FISCAL_QUARTER from
// the order date using the configured fiscal-year start month. Rows without
// a parsed order date get null fiscal columns.
func AddFiscalInfo(startMonth int) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		if startMonth < 1 || startMonth > 12 {
			return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"fiscal year start month %d out of range", startMonth)
		}
		di, err := ds.ColumnIndex(ColOrderDate)
		if err != nil {
			return nil, err
		}
		out, err := ds.AddColumn(ColFiscalYear, func(row int) dataset.Value {
			ts, ok := ds.Row(row)[di].(time.Time)
			if !ok {
				return nil
			}
			year, _ := FiscalPeriod(ts, startMonth)
			return int64(year)
		})
		if err != nil {
			return nil, err
		}
		out, err = out.AddColumn(ColFiscalPeriod, func(row int) dataset.Value {
			ts, ok := ds.Row(row)[di].(time.Time)
			if !ok {
				return nil
			}
			_, period := FiscalPeriod(ts, startMonth)
			return int64(period)
		})
		if err != nil {
			return nil, err
		}
		out, err = out.AddColumn(ColFiscalQuarter, func(row int) dataset.Value {
			ts, ok := ds.Row(row)[di].(time.Time)
			if !ok {
				return nil
			}
			_, period := FiscalPeriod(ts, startMonth)
			return int64((period-1)/3 + 1)
		})
		if err != nil {
			return nil, err
		}
		logger.Info("added fiscal columns", zap.Int("startMonth", startMonth))
		return out, nil
	}
}

// AggregateByVendor rolls purchase orders up to one row per vendor with
// order count, total and mean amount, in order of first appearance.
func AggregateByVendor() Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		vi, err := ds.ColumnIndex(ColVendorName)
		if err != nil {
			return nil, err
		}
		ti, err := ds.ColumnIndex(ColTotalAmount)
		if err != nil {
			return nil, err
		}

		type agg struct {
			count  int64
			sum    float64
			summed int64
		}
		order := make([]string, 0)
		byVendor := make(map[string]*agg)
		for i := 0; i < ds.Len(); i++ {
			vendor := dataset.AsString(ds.Row(i)[vi])
			a, ok := byVendor[vendor]
			if !ok {
				a = &agg{}
				byVendor[vendor] = a
				order = append(order, vendor)
			}
			a.count++
			if amount, convErr := dataset.AsFloat(ds.Row(i)[ti]); convErr == nil {
				a.sum += amount
				a.summed++
			}
		}

		out, err := dataset.New([]string{
			ColVendorName, "ORDER_COUNT", "TOTAL_AMOUNT_SUM", "TOTAL_AMOUNT_AVG",
		})
		if err != nil {
			return nil, err
		}
		for _, vendor := range order {
			a := byVendor[vendor]
			var avg dataset.Value
			if a.summed > 0 {
				avg = a.sum / float64(a.summed)
			}
			if err := out.AppendRow([]dataset.Value{vendor, a.count, a.sum, avg}); err != nil {
				return nil, err
			}
		}
		logger.Info("aggregated purchase orders by vendor", zap.Int("vendors", out.Len()))
		return out, nil
	}
}
