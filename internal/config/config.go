// internal/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig holds process identity used in logs and metrics labels.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// BrowserConfig controls the headless Chromium context used by session,
// invite, message, and connection-check flows.
type BrowserConfig struct {
	ProfileRoot string `mapstructure:"profile_root"`
	Headless    bool   `mapstructure:"headless"`
	WindowWidth int    `mapstructure:"window_width"`
	WindowHeight int   `mapstructure:"window_height"`
	NavigateTimeoutMs int `mapstructure:"navigate_timeout_ms"`
}

// WorkflowConfig holds the worker's batching and quota defaults. Per §4.7
// the only externally-configurable knobs for the core are store URL, bus
// URL, and profile root. Of the values below only the Daily*Limit fields
// are read (cmd/worker passes them to the rate limiter as defaults); the
// batch and pacing fields are loaded but not consumed, since the
// workflowjob, invite and connection packages use their own constants.
type WorkflowConfig struct {
	BatchSize             int `mapstructure:"batch_size"`
	InterBatchDelaySeconds int `mapstructure:"inter_batch_delay_seconds"`
	InterLeadMinSeconds    int `mapstructure:"inter_lead_min_seconds"`
	InterLeadMaxSeconds    int `mapstructure:"inter_lead_max_seconds"`
	InterMessageMinSeconds int `mapstructure:"inter_message_min_seconds"`
	InterMessageMaxSeconds int `mapstructure:"inter_message_max_seconds"`
	DailyInviteLimit          int `mapstructure:"daily_invite_limit"`
	DailyConnectionCheckLimit int `mapstructure:"daily_connection_check_limit"`
	DailyMessageLimit         int `mapstructure:"daily_message_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
