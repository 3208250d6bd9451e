// Package config loads and validates the pipeline configuration document.
// The document is YAML, read once per run. String values of the form
// ${SOME_VAR} are replaced with the environment variable's value before
// decoding, which keeps credentials out of the file itself.
package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Config is the whole pipeline configuration. Immutable after Load.
type Config struct {
	GCP       GCP       `yaml:"gcp"`
	Postgres  Postgres  `yaml:"postgres"`
	Sources   Sources   `yaml:"sources"`
	Targets   Targets   `yaml:"targets"`
	Transform Transform `yaml:"transform"`
	WorkDir   string    `yaml:"work_dir"`
}

// GCP holds project and credential settings shared by the marketplace
// extractor and the warehouse loader.
type GCP struct {
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Postgres holds connection parameters for the relational source.
type Postgres struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Schema   string     `yaml:"schema"`
	Tunnel   *SSHTunnel `yaml:"ssh_tunnel"`
}

// SSHTunnel describes an optional bastion hop in front of Postgres.
type SSHTunnel struct {
	Bastion    string `yaml:"bastion"`
	PrivateKey string `yaml:"private_key"`
	RemoteAddr string `yaml:"remote_addr"`
}

// Configured reports whether enough is present to open a connection.
func (p Postgres) Configured() bool {
	return p.Host != "" && p.Database != "" && p.User != ""
}

// Sources names every configured input.
type Sources struct {
	PurchaseOrdersCSV   *FileSource        `yaml:"purchase_orders_csv"`
	PurchaseOrdersTable string             `yaml:"purchase_orders_table"`
	PurchaseOrdersCopy  bool               `yaml:"purchase_orders_copy"`
	WeatherXML          *FileSource        `yaml:"weather_xml"`
	Marketplace         *MarketplaceSource `yaml:"marketplace"`
}

// FileSource is a local file input with optional read parameters.
// Encoding is an IANA charset name; empty means UTF-8.
type FileSource struct {
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
	ChunkSize int    `yaml:"chunk_size"`
}

// MarketplaceSource points at a shared warehouse dataset holding the
// weather history feed.
type MarketplaceSource struct {
	Dataset   string `yaml:"dataset"`
	Table     string `yaml:"table"`
	Location  string `yaml:"location"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	Limit     int    `yaml:"limit"`
}

// Targets declares the warehouse destination for each output dataset.
type Targets struct {
	Dataset        string `yaml:"dataset"`
	TempDataset    string `yaml:"temp_dataset"`
	GCSBucket      string `yaml:"gcs_bucket"`
	GCSFolder      string `yaml:"gcs_folder"`
	PurchaseOrders Target `yaml:"purchase_orders"`
	Weather        Target `yaml:"weather"`
	Analytics      Target `yaml:"analytics"`
}

// Target is one warehouse table plus its write mode.
type Target struct {
	Table     string   `yaml:"table"`
	Mode      string   `yaml:"mode"` // append | replace | merge
	MergeKeys []string `yaml:"merge_keys"`
}

// Transform holds the tunable business-rule parameters.
type Transform struct {
	FiscalYearStartMonth int                `yaml:"fiscal_year_start_month"`
	Hemisphere           string             `yaml:"hemisphere"` // northern | southern
	Join                 string             `yaml:"join"`       // inner | left
	CategoryThresholds   CategoryThresholds `yaml:"category_thresholds"`
	Severity             SeverityThresholds `yaml:"severity"`
	DedupKeys            []string           `yaml:"dedup_keys"`
	RequiredColumns      []string           `yaml:"required_columns"`
}

// CategoryThresholds are the upper bounds for SMALL, MEDIUM and LARGE
// order categories; anything at or above Large is ENTERPRISE.
type CategoryThresholds struct {
	Small  float64 `yaml:"small"`
	Medium float64 `yaml:"medium"`
	Large  float64 `yaml:"large"`
}

// SeverityThresholds are the scoring bounds for weather severity. Each
// pair has a moderate bound (scores 1) and an extreme bound (scores 2).
type SeverityThresholds struct {
	TempModerateLowF  float64 `yaml:"temp_moderate_low_f"`
	TempModerateHighF float64 `yaml:"temp_moderate_high_f"`
	TempExtremeLowF   float64 `yaml:"temp_extreme_low_f"`
	TempExtremeHighF  float64 `yaml:"temp_extreme_high_f"`
	PrecipModerateIn  float64 `yaml:"precip_moderate_in"`
	PrecipExtremeIn   float64 `yaml:"precip_extreme_in"`
	WindModerateMPH   float64 `yaml:"wind_moderate_mph"`
	WindExtremeMPH    float64 `yaml:"wind_extreme_mph"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, substitutes and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, err,
				"config file %s", path)
		}
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, err,
			"reading config file %s", path)
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(raw), func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, err,
			"decoding config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config carrying the documented defaults; Load decodes
// over it so absent keys keep their default values.
func Default() *Config {
	return &Config{
		Postgres: Postgres{Port: 5432, Schema: "public"},
		Targets: Targets{
			PurchaseOrders: Target{Table: "PURCHASE_ORDERS", Mode: "append"},
			Weather:        Target{Table: "WEATHER_DATA", Mode: "append"},
			Analytics:      Target{Table: "PURCHASE_WEATHER_ANALYTICS", Mode: "append"},
		},
		Transform: Transform{
			FiscalYearStartMonth: 1,
			Hemisphere:           "northern",
			Join:                 "left",
			CategoryThresholds:   CategoryThresholds{Small: 100, Medium: 1000, Large: 10000},
			Severity: SeverityThresholds{
				TempModerateLowF:  40,
				TempModerateHighF: 90,
				TempExtremeLowF:   32,
				TempExtremeHighF:  100,
				PrecipModerateIn:  0.5,
				PrecipExtremeIn:   1,
				WindModerateMPH:   15,
				WindExtremeMPH:    30,
			},
			DedupKeys:       []string{"PURCHASE_ORDER_ID"},
			RequiredColumns: []string{"PURCHASE_ORDER_ID"},
		},
		WorkDir: ".etlwork",
	}
}

// Validate rejects the configuration eagerly so a bad document never gets
// partway through a run.
func (c *Config) Validate() error {
	t := c.Transform
	if t.FiscalYearStartMonth < 1 || t.FiscalYearStartMonth > 12 {
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
			"fiscal_year_start_month %d must be between 1 and 12", t.FiscalYearStartMonth)
	}
	switch t.Hemisphere {
	case "northern", "southern":
	default:
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
			"hemisphere %q must be northern or southern", t.Hemisphere)
	}
	switch t.Join {
	case "inner", "left":
	default:
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
			"join %q must be inner or left", t.Join)
	}
	ct := t.CategoryThresholds
	if !(ct.Small < ct.Medium && ct.Medium < ct.Large) {
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
			"category_thresholds must ascend: small=%v medium=%v large=%v",
			ct.Small, ct.Medium, ct.Large)
	}
	s := t.Severity
	if s.TempExtremeLowF > s.TempModerateLowF ||
		s.TempExtremeHighF < s.TempModerateHighF {
		return etlerr.Wrap(etlerr.ErrConfiguration, nil,
			"severity temperature extreme bounds must widen the moderate bounds")
	}
	if s.PrecipExtremeIn < s.PrecipModerateIn || s.WindExtremeMPH < s.WindModerateMPH {
		return etlerr.Wrap(etlerr.ErrConfiguration, nil,
			"severity extreme thresholds must be at or above moderate thresholds")
	}
	for name, tgt := range map[string]Target{
		"purchase_orders": c.Targets.PurchaseOrders,
		"weather":         c.Targets.Weather,
		"analytics":       c.Targets.Analytics,
	} {
		switch tgt.Mode {
		case "append", "replace":
		case "merge":
			if len(tgt.MergeKeys) == 0 {
				// the purchase-orders target may omit merge_keys when a
				// relational source table is configured; its primary key
				// is looked up before loading
				if name == "purchase_orders" && c.Postgres.Configured() &&
					c.Sources.PurchaseOrdersTable != "" {
					break
				}
				return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
					"target %s uses merge mode but declares no merge_keys", name)
			}
		default:
			return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"target %s mode %q must be append, replace or merge", name, tgt.Mode)
		}
		if tgt.Table == "" {
			return etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"target %s has no table name", name)
		}
	}
	if c.WorkDir == "" {
		return etlerr.Wrap(etlerr.ErrConfiguration, nil, "work_dir must not be empty")
	}
	return nil
}
