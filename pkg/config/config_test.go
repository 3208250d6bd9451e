package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/StevenACoffman/anotherr/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
gcp:
  project: my-project
sources:
  purchase_orders_csv:
    path: orders.csv
  weather_xml:
    path: weather.xml
targets:
  dataset: final
  temp_dataset: final_temp
  gcs_bucket: staging-bucket
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "my-project", cfg.GCP.Project)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "public", cfg.Postgres.Schema)
	assert.Equal(t, "PURCHASE_ORDERS", cfg.Targets.PurchaseOrders.Table)
	assert.Equal(t, "append", cfg.Targets.PurchaseOrders.Mode)
	assert.Equal(t, 1, cfg.Transform.FiscalYearStartMonth)
	assert.Equal(t, "northern", cfg.Transform.Hemisphere)
	assert.Equal(t, "left", cfg.Transform.Join)
	assert.Equal(t, []string{"PURCHASE_ORDER_ID"}, cfg.Transform.DedupKeys)
	assert.Equal(t, ".etlwork", cfg.WorkDir)
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	cfg, err := Load(writeConfig(t, minimalConfig+`
postgres:
  host: db.internal
  database: reports
  user: etl
  password: ${TEST_DB_PASSWORD}
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.True(t, cfg.Postgres.Configured())
}

func TestLoadUnsetEnvVarBecomesEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
postgres:
  password: ${DEFINITELY_NOT_SET_ANYWHERE_42}
`))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Postgres.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrSourceNotFound))
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "gcp: [not: valid"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConfiguration))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "fiscal month out of range",
			mutate: func(c *Config) { c.Transform.FiscalYearStartMonth = 13 },
		},
		{
			name:   "bad hemisphere",
			mutate: func(c *Config) { c.Transform.Hemisphere = "equatorial" },
		},
		{
			name:   "bad join",
			mutate: func(c *Config) { c.Transform.Join = "outer" },
		},
		{
			name: "category thresholds not ascending",
			mutate: func(c *Config) {
				c.Transform.CategoryThresholds.Medium = 50
			},
		},
		{
			name: "severity extreme inside moderate",
			mutate: func(c *Config) {
				c.Transform.Severity.TempExtremeHighF = 80
			},
		},
		{
			name: "merge without keys",
			mutate: func(c *Config) {
				c.Targets.PurchaseOrders.Mode = "merge"
				c.Targets.PurchaseOrders.MergeKeys = nil
			},
		},
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Targets.Weather.Mode = "upsert" },
		},
		{
			name:   "empty table",
			mutate: func(c *Config) { c.Targets.Analytics.Table = "" },
		},
		{
			name:   "empty work dir",
			mutate: func(c *Config) { c.WorkDir = "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, etlerr.ErrConfiguration))
		})
	}
}

func TestValidateMergeWithKeys(t *testing.T) {
	cfg := Default()
	cfg.Targets.PurchaseOrders.Mode = "merge"
	cfg.Targets.PurchaseOrders.MergeKeys = []string{"PURCHASE_ORDER_ID"}
	require.NoError(t, cfg.Validate())
}

func TestValidateMergeKeysDefaultFromSource(t *testing.T) {
	// the purchase-orders target may omit merge_keys when the relational
	// source is configured; they resolve from its primary key at load time
	cfg := Default()
	cfg.Postgres = Postgres{Host: "db.internal", Database: "reports", User: "etl"}
	cfg.Sources.PurchaseOrdersTable = "purchase_orders"
	cfg.Targets.PurchaseOrders.Mode = "merge"
	require.NoError(t, cfg.Validate())

	// no such fallback exists for the other targets
	cfg.Targets.Weather.Mode = "merge"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConfiguration))
}
