// Package config provides configuration for the cost report jobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration.
type Config struct {
	AWS     AWSConfig     `yaml:"aws"`
	Azure   AzureConfig   `yaml:"azure"`
	Storage StorageConfig `yaml:"storage"`
	Report  ReportConfig  `yaml:"report"`
	FX      FXConfig      `yaml:"fx"`
}

// Grouping selects one axis to aggregate cost by. Type is the provider's
// grouping kind (DIMENSION/TAG for AWS, Dimension/TagKey for Azure).
type Grouping struct {
	Type string `yaml:"type"`
	Key  string `yaml:"key"`
}

// AWSConfig holds Cost Explorer settings.
type AWSConfig struct {
	Enabled     bool       `yaml:"enabled"`
	Profile     string     `yaml:"profile"`
	Region      string     `yaml:"region"`
	Granularity string     `yaml:"granularity"` // MONTHLY or DAILY
	Metrics     []string   `yaml:"metrics"`
	Groupings   []Grouping `yaml:"groupings"`

	// AllRecordTypes widens the query filter to include tax, refunds,
	// credits and savings-plan records alongside plain usage.
	AllRecordTypes bool `yaml:"all_record_types"`

	Throttle ThrottleConfig `yaml:"throttle"`
}

// AzureConfig holds Cost Management settings.
type AzureConfig struct {
	Enabled        bool       `yaml:"enabled"`
	SubscriptionID string     `yaml:"subscription_id"`
	TenantID       string     `yaml:"tenant_id"`
	APIVersion     string     `yaml:"api_version"`
	Groupings      []Grouping `yaml:"groupings"`

	Throttle ThrottleConfig `yaml:"throttle"`
}

// ThrottleConfig paces sequential provider calls: a short sleep between
// calls and a long sleep after every CallsBeforeLong calls.
type ThrottleConfig struct {
	Short           time.Duration `yaml:"short"`
	Long            time.Duration `yaml:"long"`
	CallsBeforeLong int           `yaml:"calls_before_long"`
}

// StorageConfig selects the raw-snapshot backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // local or s3

	// Local backend
	Dir string `yaml:"dir"`

	// S3-compatible backend (MinIO or AWS)
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// ReportConfig configures rendered artifacts.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
	TopN      int    `yaml:"top_n"`
	Excel     bool   `yaml:"excel"`
}

// FXConfig configures the daily reference-rate source used for
// cross-currency comparison views.
type FXConfig struct {
	Endpoint string `yaml:"endpoint"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Load loads configuration from a YAML file, expanding environment
// variables and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AWS.Granularity == "" {
		c.AWS.Granularity = "MONTHLY"
	}
	if len(c.AWS.Metrics) == 0 {
		c.AWS.Metrics = []string{"AmortizedCost"}
	}
	if len(c.AWS.Groupings) == 0 {
		c.AWS.Groupings = []Grouping{
			{Type: "DIMENSION", Key: "SERVICE"},
			{Type: "DIMENSION", Key: "LINKED_ACCOUNT"},
			{Type: "DIMENSION", Key: "USAGE_TYPE"},
			{Type: "DIMENSION", Key: "OPERATION"},
			{Type: "DIMENSION", Key: "REGION"},
			{Type: "DIMENSION", Key: "INSTANCE_TYPE"},
			{Type: "DIMENSION", Key: "PLATFORM"},
			{Type: "TAG", Key: "Project"},
		}
	}
	if c.AWS.Throttle.Short == 0 {
		c.AWS.Throttle.Short = time.Second
	}
	if c.AWS.Throttle.Long == 0 {
		c.AWS.Throttle.Long = 3 * time.Second
	}
	if c.AWS.Throttle.CallsBeforeLong == 0 {
		c.AWS.Throttle.CallsBeforeLong = 4
	}

	if c.Azure.APIVersion == "" {
		c.Azure.APIVersion = "2025-03-01"
	}
	if len(c.Azure.Groupings) == 0 {
		c.Azure.Groupings = []Grouping{
			{Type: "Dimension", Key: "ResourceGroupName"},
			{Type: "Dimension", Key: "MeterCategory"},
			{Type: "Dimension", Key: "MeterSubCategory"},
			{Type: "Dimension", Key: "ResourceType"},
			{Type: "TagKey", Key: "project"},
			{Type: "Dimension", Key: "ResourceLocation"},
		}
	}
	if c.Azure.Throttle.Short == 0 {
		c.Azure.Throttle.Short = 10 * time.Second
	}
	if c.Azure.Throttle.Long == 0 {
		c.Azure.Throttle.Long = 60 * time.Second
	}
	if c.Azure.Throttle.CallsBeforeLong == 0 {
		c.Azure.Throttle.CallsBeforeLong = 3
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "."
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "./reports"
	}
	if c.Report.TopN == 0 {
		c.Report.TopN = 20
	}
	if c.FX.Endpoint == "" {
		c.FX.Endpoint = "https://api.frankfurter.app"
	}
	if c.FX.From == "" {
		c.FX.From = "INR"
	}
	if c.FX.To == "" {
		c.FX.To = "USD"
	}
}
