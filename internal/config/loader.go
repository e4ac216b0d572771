// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)
		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Postgres.User = val
		}
	}
	if cfg.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Postgres.Password = val
		}
	}
	if cfg.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDRESS"); val != "" {
			cfg.Redis.Address = val
		}
	}
	if cfg.Browser.ProfileRoot == "" {
		if val := os.Getenv("BROWSER_PROFILE_ROOT"); val != "" {
			cfg.Browser.ProfileRoot = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields,
// including the §4.7 operational constants (batch size, pacing windows,
// per-counter daily limits).
func applyDefaults(cfg *Config) {
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 25
	}
	if cfg.Postgres.MaxIdle == 0 {
		cfg.Postgres.MaxIdle = 5
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}

	if cfg.Browser.WindowWidth == 0 {
		cfg.Browser.WindowWidth = 1280
	}
	if cfg.Browser.WindowHeight == 0 {
		cfg.Browser.WindowHeight = 720
	}
	if cfg.Browser.NavigateTimeoutMs == 0 {
		cfg.Browser.NavigateTimeoutMs = 30000
	}

	if cfg.Workflow.BatchSize == 0 {
		cfg.Workflow.BatchSize = 10
	}
	if cfg.Workflow.InterBatchDelaySeconds == 0 {
		cfg.Workflow.InterBatchDelaySeconds = 300
	}
	if cfg.Workflow.InterLeadMinSeconds == 0 {
		cfg.Workflow.InterLeadMinSeconds = 10
	}
	if cfg.Workflow.InterLeadMaxSeconds == 0 {
		cfg.Workflow.InterLeadMaxSeconds = 30
	}
	if cfg.Workflow.InterMessageMinSeconds == 0 {
		cfg.Workflow.InterMessageMinSeconds = 30
	}
	if cfg.Workflow.InterMessageMaxSeconds == 0 {
		cfg.Workflow.InterMessageMaxSeconds = 90
	}
	if cfg.Workflow.DailyInviteLimit == 0 {
		cfg.Workflow.DailyInviteLimit = 30
	}
	if cfg.Workflow.DailyConnectionCheckLimit == 0 {
		cfg.Workflow.DailyConnectionCheckLimit = 3
	}
	if cfg.Workflow.DailyMessageLimit == 0 {
		cfg.Workflow.DailyMessageLimit = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates the environment knobs the core actually needs:
// store URL, bus URL, and profile root (§6).
func validateConfig(cfg *Config) error {
	if cfg.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if cfg.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if cfg.Postgres.User == "" {
		return fmt.Errorf("postgres.user is required")
	}
	if cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if cfg.Browser.ProfileRoot == "" {
		return fmt.Errorf("browser.profile_root is required")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
