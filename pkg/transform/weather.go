package transform

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Canonical weather column names.
const (
	ColObservationDate = "OBSERVATION_DATE"
	ColCity            = "CITY"
	ColState           = "STATE"
	ColCountry         = "COUNTRY"
	ColTemperatureF    = "TEMPERATURE_F"
	ColMinTemperatureF = "MIN_TEMPERATURE_F"
	ColMaxTemperatureF = "MAX_TEMPERATURE_F"
	ColHumidityPct     = "HUMIDITY_PCT"
	ColPrecipitationIn = "PRECIPITATION_INCHES"
	ColWindSpeedMPH    = "WIND_SPEED_MPH"
	ColConditions      = "WEATHER_CONDITIONS"
	ColWeatherSeverity = "WEATHER_SEVERITY"
	ColSeason          = "SEASON"
)

var weatherSynonyms = map[string]string{
	"date":                 ColObservationDate,
	"observation_date":     ColObservationDate,
	"datetime":             ColObservationDate,
	"city":                 ColCity,
	"location":             ColCity,
	"state":                ColState,
	"region":               ColState,
	"country":              ColCountry,
	"temperature":          ColTemperatureF,
	"temp":                 ColTemperatureF,
	"avg_temperature_f":    ColTemperatureF,
	"temperature_f":        ColTemperatureF,
	"min_temperature_f":    ColMinTemperatureF,
	"min_temp":             ColMinTemperatureF,
	"max_temperature_f":    ColMaxTemperatureF,
	"max_temp":             ColMaxTemperatureF,
	"humidity":             ColHumidityPct,
	"humidity_pct":         ColHumidityPct,
	"precipitation":        ColPrecipitationIn,
	"precipitation_inches": ColPrecipitationIn,
	"rain":                 ColPrecipitationIn,
	"wind_speed":           ColWindSpeedMPH,
	"wind_speed_mph":       ColWindSpeedMPH,
	"wind":                 ColWindSpeedMPH,
	"conditions":           ColConditions,
	"weather":              ColConditions,
}

// StandardizeWeatherColumns renames source columns to the canonical
// weather names.
func StandardizeWeatherColumns() Op {
	return StandardizeColumns(weatherSynonyms)
}

// ConvertTemperature converts temperature columns between Celsius and
// Fahrenheit. fromUnit names the unit the data is currently in.
func ConvertTemperature(fromUnit string, columns []string) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		// discover into a fresh slice so a reused Op never carries one
		// dataset's column names into the next
		cols := columns
		if len(cols) == 0 {
			for _, col := range ds.Columns() {
				if strings.Contains(strings.ToUpper(col), "TEMPERATURE") {
					cols = append(cols, col)
				}
			}
		}
		var convert func(float64) float64
		switch strings.ToLower(fromUnit) {
		case "celsius":
			convert = func(c float64) float64 { return c*9/5 + 32 }
		case "fahrenheit":
			convert = func(f float64) float64 { return (f - 32) * 5 / 9 }
		default:
			return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"temperature unit %q must be celsius or fahrenheit", fromUnit)
		}
		out := ds.Clone()
		for _, col := range cols {
			if _, err := out.ColumnIndex(col); err != nil {
				return nil, err
			}
			for i := 0; i < out.Len(); i++ {
				v, _ := out.Value(i, col)
				if dataset.IsNull(v) {
					continue
				}
				if f, err := dataset.AsFloat(v); err == nil {
					_ = out.SetValue(i, col, convert(f))
				}
			}
		}
		logger.Info("converted temperatures", zap.String("from", fromUnit))
		return out, nil
	}
}

// CalculateDailyStats rolls observations up to one row per date, and per
// city when the dataset carries one: mean temperature, humidity and wind
// speed, extreme min/max temperatures and total precipitation. Groups keep
// first-appearance order. Without an OBSERVATION_DATE column, or with no
// weather measures at all, the dataset passes through unchanged.
func CalculateDailyStats() Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		di, err := ds.ColumnIndex(ColObservationDate)
		if err != nil {
			logger.Warn("daily stats skipped, no observation date column")
			return ds, nil
		}
		ci := -1
		if ds.HasColumn(ColCity) {
			ci, _ = ds.ColumnIndex(ColCity)
		}

		type reduce struct {
			column string
			kind   string // mean | min | max | sum
		}
		var present []reduce
		for _, m := range []reduce{
			{ColTemperatureF, "mean"},
			{ColMinTemperatureF, "min"},
			{ColMaxTemperatureF, "max"},
			{ColHumidityPct, "mean"},
			{ColPrecipitationIn, "sum"},
			{ColWindSpeedMPH, "mean"},
		} {
			if ds.HasColumn(m.column) {
				present = append(present, m)
			}
		}
		if len(present) == 0 {
			logger.Warn("daily stats skipped, no weather measures present")
			return ds, nil
		}

		type acc struct {
			count int64
			sum   float64
			min   float64
			max   float64
		}
		type group struct {
			date time.Time
			city dataset.Value
			accs []acc
		}
		order := make([]string, 0)
		groups := make(map[string]*group)
		skipped := 0
		for i := 0; i < ds.Len(); i++ {
			ts, convErr := dataset.AsTime(ds.Row(i)[di])
			if convErr != nil {
				skipped++
				continue
			}
			day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
			key := day.Format("2006-01-02")
			var city dataset.Value
			if ci >= 0 {
				city = ds.Row(i)[ci]
				key += "\x1f" + dataset.AsString(city)
			}
			g, ok := groups[key]
			if !ok {
				g = &group{date: day, city: city, accs: make([]acc, len(present))}
				groups[key] = g
				order = append(order, key)
			}
			for mi, m := range present {
				v, _ := ds.Value(i, m.column)
				f, convErr := dataset.AsFloat(v)
				if convErr != nil {
					continue
				}
				a := &g.accs[mi]
				if a.count == 0 || f < a.min {
					a.min = f
				}
				if a.count == 0 || f > a.max {
					a.max = f
				}
				a.count++
				a.sum += f
			}
		}
		if skipped > 0 {
			logger.Warn("daily stats dropped rows with unreadable dates",
				zap.Int("rows", skipped))
		}

		outCols := []string{ColObservationDate}
		if ci >= 0 {
			outCols = append(outCols, ColCity)
		}
		for _, m := range present {
			outCols = append(outCols, m.column)
		}
		out, err := dataset.New(outCols)
		if err != nil {
			return nil, err
		}
		for _, key := range order {
			g := groups[key]
			row := make([]dataset.Value, 0, len(outCols))
			row = append(row, g.date)
			if ci >= 0 {
				row = append(row, g.city)
			}
			for mi, m := range present {
				a := g.accs[mi]
				switch {
				case m.kind == "sum":
					row = append(row, a.sum)
				case a.count == 0:
					row = append(row, nil)
				case m.kind == "min":
					row = append(row, a.min)
				case m.kind == "max":
					row = append(row, a.max)
				default:
					row = append(row, a.sum/float64(a.count))
				}
			}
			if err := out.AppendRow(row); err != nil {
				return nil, err
			}
		}
		logger.Info("calculated daily weather statistics",
			zap.Int("observations", ds.Len()), zap.Int("days", out.Len()))
		return out, nil
	}
}

// AddWeatherSeverity scores each observation against the configured
// thresholds (temperature, precipitation, wind each contribute 1 for a
// moderate exceedance, 2 for an extreme one) and labels the row NORMAL,
// MODERATE (score >= 2) or SEVERE (score >= 4).
func AddWeatherSeverity(thresholds config.SeverityThresholds) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		score := func(row int) int {
			s := 0
			if ds.HasColumn(ColTemperatureF) {
				if temp, err := valueAsFloat(ds, row, ColTemperatureF); err == nil {
					switch {
					case temp < thresholds.TempExtremeLowF || temp > thresholds.TempExtremeHighF:
						s += 2
					case temp < thresholds.TempModerateLowF || temp > thresholds.TempModerateHighF:
						s++
					}
				}
			}
			if ds.HasColumn(ColPrecipitationIn) {
				if precip, err := valueAsFloat(ds, row, ColPrecipitationIn); err == nil {
					switch {
					case precip > thresholds.PrecipExtremeIn:
						s += 2
					case precip > thresholds.PrecipModerateIn:
						s++
					}
				}
			}
			if ds.HasColumn(ColWindSpeedMPH) {
				if wind, err := valueAsFloat(ds, row, ColWindSpeedMPH); err == nil {
					switch {
					case wind > thresholds.WindExtremeMPH:
						s += 2
					case wind > thresholds.WindModerateMPH:
						s++
					}
				}
			}
			return s
		}
		out, err := ds.AddColumn(ColWeatherSeverity, func(row int) dataset.Value {
			switch s := score(row); {
			case s >= 4:
				return "SEVERE"
			case s >= 2:
				return "MODERATE"
			default:
				return "NORMAL"
			}
		})
		if err != nil {
			return nil, err
		}
		logger.Info("added weather severity")
		return out, nil
	}
}

// AddSeason labels each observation with the meteorological season for its
// date and hemisphere.
func AddSeason(hemisphere string) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		switch hemisphere {
		case "northern", "southern":
		default:
			return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"hemisphere %q must be northern or southern", hemisphere)
		}
		di, err := ds.ColumnIndex(ColObservationDate)
		if err != nil {
			return nil, err
		}
		out, err := ds.AddColumn(ColSeason, func(row int) dataset.Value {
			ts, convErr := dataset.AsTime(ds.Row(row)[di])
			if convErr != nil {
				return nil
			}
			return seasonOf(ts.Month(), hemisphere)
		})
		if err != nil {
			return nil, err
		}
		logger.Info("added season", zap.String("hemisphere", hemisphere))
		return out, nil
	}
}

func seasonOf(month time.Month, hemisphere string) string {
	var season string
	switch month {
	case time.December, time.January, time.February:
		season = "WINTER"
	case time.March, time.April, time.May:
		season = "SPRING"
	case time.June, time.July, time.August:
		season = "SUMMER"
	default:
		season = "FALL"
	}
	if hemisphere == "southern" {
		switch season {
		case "WINTER":
			season = "SUMMER"
		case "SPRING":
			season = "FALL"
		case "SUMMER":
			season = "WINTER"
		case "FALL":
			season = "SPRING"
		}
	}
	return season
}

// CorrelateWithPurchases joins purchase orders against weather
// observations on order date and upper-cased location. join is "inner" or
// "left"; under a left join, purchase rows with no matching observation
// keep null weather columns. Purchase rows keep their order; a purchase row
// matching several observations yields one output row per match.
func CorrelateWithPurchases(logger *zap.Logger, weather, purchases *dataset.Dataset, join string) (*dataset.Dataset, error) {
	switch join {
	case "inner", "left":
	default:
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil,
			"join %q must be inner or left", join)
	}

	wdi, err := weather.ColumnIndex(ColObservationDate)
	if err != nil {
		return nil, err
	}
	wli, err := weather.ColumnIndex(ColCity)
	if err != nil {
		return nil, err
	}
	pdi, err := purchases.ColumnIndex(ColOrderDate)
	if err != nil {
		return nil, err
	}
	pli, err := purchases.ColumnIndex(ColDeliveryLocation)
	if err != nil {
		return nil, err
	}

	// index weather rows by (date, location)
	index := make(map[string][]int, weather.Len())
	for i := 0; i < weather.Len(); i++ {
		key, ok := joinKey(weather.Row(i)[wdi], weather.Row(i)[wli])
		if !ok {
			continue
		}
		index[key] = append(index[key], i)
	}

	// output columns: all purchase columns, then the weather columns that
	// do not collide, suffixed _WEATHER when they do
	weatherCols := weather.Columns()
	outCols := purchases.Columns()
	renamed := make([]string, len(weatherCols))
	for i, col := range weatherCols {
		name := col
		if purchases.HasColumn(col) {
			name = col + "_WEATHER"
		}
		renamed[i] = name
		outCols = append(outCols, name)
	}
	out, err := dataset.New(outCols)
	if err != nil {
		return nil, err
	}

	matched := 0
	for i := 0; i < purchases.Len(); i++ {
		key, ok := joinKey(purchases.Row(i)[pdi], purchases.Row(i)[pli])
		var matches []int
		if ok {
			matches = index[key]
		}
		if len(matches) == 0 {
			if join == "inner" {
				continue
			}
			row := make([]dataset.Value, 0, len(outCols))
			row = append(row, purchases.Row(i)...)
			for range weatherCols {
				row = append(row, nil)
			}
			if err := out.AppendRow(row); err != nil {
				return nil, err
			}
			continue
		}
		matched++
		for _, wi := range matches {
			row := make([]dataset.Value, 0, len(outCols))
			row = append(row, purchases.Row(i)...)
			row = append(row, weather.Row(wi)...)
			if err := out.AppendRow(row); err != nil {
				return nil, err
			}
		}
	}

	logger.Info("correlated weather with purchases",
		zap.String("join", join),
		zap.Int("purchaseRows", purchases.Len()),
		zap.Int("matchedRows", matched),
		zap.Int("outputRows", out.Len()))
	return out, nil
}

// joinKey normalizes a (date, location) pair for matching: date-only
// precision, upper-cased location.
func joinKey(date, location dataset.Value) (string, bool) {
	ts, err := dataset.AsTime(date)
	if err != nil {
		return "", false
	}
	loc := strings.ToUpper(strings.TrimSpace(dataset.AsString(location)))
	if loc == "" {
		return "", false
	}
	return ts.Format("2006-01-02") + "\x1f" + loc, true
}

func valueAsFloat(ds *dataset.Dataset, row int, col string) (float64, error) {
	v, err := ds.Value(row, col)
	if err != nil {
		return 0, err
	}
	return dataset.AsFloat(v)
}
