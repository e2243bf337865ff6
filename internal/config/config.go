package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Mail       MailConfig       `yaml:"mail"`
	Automation AutomationConfig `yaml:"automation"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Security   SecurityConfig   `yaml:"security"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MailConfig configures the transactional email provider used by the
// send_email action. An empty APIKey disables email sending.
type MailConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	From    string        `yaml:"from"`
	SiteURL string        `yaml:"site_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AutomationConfig tunes the automation dispatcher and the scheduled-run
// sweeper.
type AutomationConfig struct {
	Workers       int             `yaml:"workers"`
	QueueSize     int             `yaml:"queue_size"`
	ActionTimeout time.Duration   `yaml:"action_timeout"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxAge     int    `yaml:"max_age"`  // days
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC endpoint, e.g. http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

type SecurityConfig struct {
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	applyDefaults(&config)
	return &config
}

// GetDefaultConfig returns the built-in defaults used when no config file
// is present.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "fieldops",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Mail: MailConfig{
			BaseURL: "https://api.resend.com",
			From:    "FieldOps <no-reply@fieldops.app>",
			Timeout: 10 * time.Second,
		},
		Automation: AutomationConfig{
			Workers:       4,
			QueueSize:     256,
			ActionTimeout: 30 * time.Second,
			Scheduler: SchedulerConfig{
				Enabled:  false,
				Interval: time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{
				Enabled:           false,
				RequestsPerMinute: 120,
			},
		},
	}
}

func applyDefaults(cfg *Config) {
	def := GetDefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server = def.Server
	}
	if cfg.Database.Host == "" {
		cfg.Database = def.Database
	}
	if cfg.Mail.BaseURL == "" {
		cfg.Mail.BaseURL = def.Mail.BaseURL
	}
	if cfg.Mail.Timeout == 0 {
		cfg.Mail.Timeout = def.Mail.Timeout
	}
	if cfg.Automation.Workers <= 0 {
		cfg.Automation.Workers = def.Automation.Workers
	}
	if cfg.Automation.QueueSize <= 0 {
		cfg.Automation.QueueSize = def.Automation.QueueSize
	}
	if cfg.Automation.ActionTimeout <= 0 {
		cfg.Automation.ActionTimeout = def.Automation.ActionTimeout
	}
	if cfg.Automation.Scheduler.Interval <= 0 {
		cfg.Automation.Scheduler.Interval = def.Automation.Scheduler.Interval
	}
	if cfg.Log.Level == "" {
		cfg.Log = def.Log
	}
}
