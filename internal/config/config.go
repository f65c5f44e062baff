// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar date format used for history rows, trades and CLI flags.
const DateLayout = "2006-01-02"

// DeleverageMode selects how the LowRisk policy sizes its de-risking sells.
type DeleverageMode string

const (
	// DeleveragePerAsset sells each risky asset by its own weight delta.
	DeleveragePerAsset DeleverageMode = "per_asset"
	// DeleverageLegacy reuses the last computed risky delta for every following position,
	// reproducing historical analysis artifacts.
	DeleverageLegacy DeleverageMode = "legacy"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for the database file (always absolute)
	DBName              string
	DBProfile           string // standard, ledger or cache; empty means standard
	LogLevel            string
	Port                int
	DevMode             bool
	Workers             int    // Portfolios simulated in parallel by the analysis service
	AnalysisSchedule    string // Cron spec for the ranking job; empty disables it
	AnalysisStart       time.Time
	AnalysisEnd         time.Time
	PolicyFile          string
	Policy              PolicyConfig
	MaintenanceSchedule string // Cron spec for integrity and disk checks; empty disables it
	Backup              BackupConfig
}

// BackupConfig configures off-site backups of the fund database to an
// S3-compatible bucket (AWS S3, Cloudflare R2, MinIO). Disabled when Bucket is empty.
type BackupConfig struct {
	Bucket        string
	Endpoint      string // Empty uses the AWS endpoint for Region
	Region        string
	AccessKey     string
	SecretKey     string
	Schedule      string
	RetentionDays int // 0 keeps every backup
}

// Enabled reports whether off-site backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// PolicyConfig holds the numeric parameters of the rebalancing policies and optimizer.
type PolicyConfig struct {
	TargetVolatility    float64        `yaml:"target_volatility"`
	AnnualizationFactor float64        `yaml:"annualization_factor"`
	RiskFreeRate        float64        `yaml:"risk_free_rate"`
	MaxWeight           float64        `yaml:"max_weight"`
	MonthlyTradeBudget  int            `yaml:"monthly_trade_budget"`
	TrailingWindow      int            `yaml:"trailing_window"`
	WeightDecimals      int            `yaml:"weight_decimals"`
	Deleverage          DeleverageMode `yaml:"deleverage_mode"`
}

// DefaultPolicy returns the parameters the fund has always run with.
// The 252 annualization factor is applied to weekly returns on purpose; see DESIGN.md.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		TargetVolatility:    0.10,
		AnnualizationFactor: 252,
		RiskFreeRate:        0.02,
		MaxWeight:           0.20,
		MonthlyTradeBudget:  2,
		TrailingWindow:      12,
		WeightDecimals:      2,
		Deleverage:          DeleveragePerAsset,
	}
}

// Validate checks the policy parameters for values the engine cannot work with.
func (p PolicyConfig) Validate() error {
	if p.TargetVolatility <= 0 {
		return fmt.Errorf("target_volatility must be positive, got %v", p.TargetVolatility)
	}
	if p.AnnualizationFactor <= 0 {
		return fmt.Errorf("annualization_factor must be positive, got %v", p.AnnualizationFactor)
	}
	if p.MaxWeight <= 0 || p.MaxWeight > 1 {
		return fmt.Errorf("max_weight must be in (0, 1], got %v", p.MaxWeight)
	}
	if p.MonthlyTradeBudget <= 0 {
		return fmt.Errorf("monthly_trade_budget must be positive, got %d", p.MonthlyTradeBudget)
	}
	if p.TrailingWindow < 2 {
		return fmt.Errorf("trailing_window must be at least 2, got %d", p.TrailingWindow)
	}
	if p.WeightDecimals < 0 {
		return fmt.Errorf("weight_decimals must not be negative, got %d", p.WeightDecimals)
	}
	switch p.Deleverage {
	case DeleveragePerAsset, DeleverageLegacy:
	default:
		return fmt.Errorf("unknown deleverage_mode %q", p.Deleverage)
	}
	return nil
}

// DBPath returns the absolute path of the fund database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBName)
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FUNDSIM_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	start, err := getEnvAsDate("FUNDSIM_ANALYSIS_START", "2023-01-01")
	if err != nil {
		return nil, err
	}
	end, err := getEnvAsDate("FUNDSIM_ANALYSIS_END", "2024-12-31")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             absDataDir,
		DBName:              getEnv("FUNDSIM_DB_NAME", "fund.db"),
		DBProfile:           getEnv("FUNDSIM_DB_PROFILE", "standard"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("FUNDSIM_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		Workers:             getEnvAsInt("FUNDSIM_WORKERS", 1),
		AnalysisSchedule:    getEnv("FUNDSIM_ANALYSIS_SCHEDULE", ""),
		AnalysisStart:       start,
		AnalysisEnd:         end,
		PolicyFile:          getEnv("FUNDSIM_POLICY_FILE", ""),
		Policy:              DefaultPolicy(),
		MaintenanceSchedule: getEnv("FUNDSIM_MAINTENANCE_SCHEDULE", "0 30 2 * * *"),
		Backup: BackupConfig{
			Bucket:        getEnv("FUNDSIM_BACKUP_BUCKET", ""),
			Endpoint:      getEnv("FUNDSIM_BACKUP_ENDPOINT", ""),
			Region:        getEnv("FUNDSIM_BACKUP_REGION", "auto"),
			AccessKey:     getEnv("FUNDSIM_BACKUP_ACCESS_KEY", ""),
			SecretKey:     getEnv("FUNDSIM_BACKUP_SECRET_KEY", ""),
			Schedule:      getEnv("FUNDSIM_BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays: getEnvAsInt("FUNDSIM_BACKUP_RETENTION_DAYS", 30),
		},
	}

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.PolicyFile, cfg.Policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadPolicyFile overlays the YAML document at path onto base.
// Keys missing from the file keep their value from base.
func LoadPolicyFile(path string, base PolicyConfig) (PolicyConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	policy := base
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return base, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return policy, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DBName == "" {
		return fmt.Errorf("FUNDSIM_DB_NAME must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("FUNDSIM_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.AnalysisEnd.Before(c.AnalysisStart) {
		return fmt.Errorf("analysis end %s is before start %s",
			c.AnalysisEnd.Format(DateLayout), c.AnalysisStart.Format(DateLayout))
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.Backup.Enabled() && (c.Backup.AccessKey == "") != (c.Backup.SecretKey == "") {
		return fmt.Errorf("FUNDSIM_BACKUP_ACCESS_KEY and FUNDSIM_BACKUP_SECRET_KEY must be set together")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("FUNDSIM_BACKUP_RETENTION_DAYS must not be negative, got %d", c.Backup.RetentionDays)
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDate(key, defaultValue string) (time.Time, error) {
	t, err := ParseDate(getEnv(key, defaultValue))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}
