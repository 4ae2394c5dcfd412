// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Events     EventsConfig     `mapstructure:"events"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	App        AppConfig        `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
	MigrationsPath string        `mapstructure:"migrations_path"`
}

// StoreConfig selects the ticket store implementation
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RabbitMQConfig represents RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
}

// EventsConfig controls where redemption events are published
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	RedisEnabled   bool          `mapstructure:"redis_enabled"`
	RedisStream    string        `mapstructure:"redis_stream"`
	RedisMaxLen    int64         `mapstructure:"redis_max_len"`
	AMQPEnabled    bool          `mapstructure:"amqp_enabled"`
}

// JournalConfig represents the local journal of unredeemed codes
type JournalConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path"`
	InMemory     bool          `mapstructure:"in_memory"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Retention    time.Duration `mapstructure:"retention"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// RedemptionConfig represents redemption worker configuration
type RedemptionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

// ScannerConfig represents the serial scanner configuration
type ScannerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	DeviceName          string        `mapstructure:"device_name"`
	DefaultPort         string        `mapstructure:"default_port"`
	BaudRate            int           `mapstructure:"baud_rate"`
	DataBits            int           `mapstructure:"data_bits"`
	StopBits            int           `mapstructure:"stop_bits"`
	Parity              string        `mapstructure:"parity"`
	Encoding            string        `mapstructure:"encoding"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MaxCodeLength       int           `mapstructure:"max_code_length"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
}

// ClassifierConfig represents the ticket token heuristics
type ClassifierConfig struct {
	Prefixes  []string `mapstructure:"prefixes"`
	Markers   []string `mapstructure:"markers"`
	MinLength int      `mapstructure:"min_length"`
	MaxLength int      `mapstructure:"max_length"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// flagBindings maps command line flags to configuration keys
var flagBindings = map[string]string{
	"scanner-device":    "scanner.device_name",
	"scanner-baud-rate": "scanner.baud_rate",
	"scanner-threshold": "scanner.inactivity_threshold",
	"store-driver":      "store.driver",
}

// Flags returns the command line flag set understood by Load
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "directory containing config.yaml")
	fs.String("scanner-device", "", "serial device name, skips port discovery")
	fs.Int("scanner-baud-rate", 9600, "serial baud rate")
	fs.Duration("scanner-threshold", time.Second, "inactivity threshold that completes a scan")
	fs.String("store-driver", "postgres", "ticket store driver (postgres, memory)")
	fs.Bool("disable-scanner", false, "run without the serial scanner")
	return fs
}

// Load loads configuration from file, environment variables and flags.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if fs != nil {
		if dir, err := fs.GetString("config"); err == nil && dir != "" {
			v.AddConfigPath(dir)
		}
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// Environment variable support
	v.SetEnvPrefix("TICKET_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	// The config file is optional; defaults and env are enough to run
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// bindFlags binds only the flags the operator actually set so that
// flag defaults do not shadow the config file
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flagName, key := range flagBindings {
		flag := fs.Lookup(flagName)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	if disabled, err := fs.GetBool("disable-scanner"); err == nil && disabled {
		v.Set("scanner.enabled", false)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "tickets")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("store.driver", "postgres")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// RabbitMQ defaults
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "ticket.redemptions")

	// Events defaults
	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.publish_timeout", "5s")
	v.SetDefault("events.redis_enabled", false)
	v.SetDefault("events.redis_stream", "ticket.redemptions")
	v.SetDefault("events.redis_max_len", 10000)
	v.SetDefault("events.amqp_enabled", false)

	// Journal defaults
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "./data/journal")
	v.SetDefault("journal.in_memory", false)
	v.SetDefault("journal.sync_interval", "30s")
	v.SetDefault("journal.max_attempts", 10)
	v.SetDefault("journal.retention", "72h")
	v.SetDefault("journal.batch_size", 100)

	// Redemption defaults
	v.SetDefault("redemption.timeout", "10s")
	v.SetDefault("redemption.retry_attempts", 3)
	v.SetDefault("redemption.retry_delay", "200ms")
	v.SetDefault("redemption.max_retry_delay", "5s")

	// Scanner defaults
	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.device_name", "")
	v.SetDefault("scanner.default_port", defaultPortName())
	v.SetDefault("scanner.baud_rate", 9600)
	v.SetDefault("scanner.data_bits", 8)
	v.SetDefault("scanner.stop_bits", 1)
	v.SetDefault("scanner.parity", "none")
	v.SetDefault("scanner.encoding", "utf-8")
	v.SetDefault("scanner.read_timeout", "100ms")
	v.SetDefault("scanner.probe_timeout", "1s")
	v.SetDefault("scanner.inactivity_threshold", "1000ms")
	v.SetDefault("scanner.tick_interval", "50ms")
	v.SetDefault("scanner.max_code_length", 8192)
	v.SetDefault("scanner.shutdown_timeout", "10s")

	// Classifier defaults
	v.SetDefault("classifier.prefixes", []string{"QR_", "TICKET_"})
	v.SetDefault("classifier.markers", []string{"TICKET"})
	v.SetDefault("classifier.min_length", 10)
	v.SetDefault("classifier.max_length", 50)

	v.SetDefault("security.allowed_origins", []string{"http://localhost:5173"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "ticket-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	switch config.Store.Driver {
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be one of: [postgres memory]")
	}

	if config.Scanner.BaudRate <= 0 {
		return fmt.Errorf("scanner.baud_rate must be positive")
	}
	if config.Scanner.InactivityThreshold <= 0 {
		return fmt.Errorf("scanner.inactivity_threshold must be positive")
	}
	if config.Scanner.TickInterval <= 0 || config.Scanner.TickInterval > config.Scanner.InactivityThreshold {
		return fmt.Errorf("scanner.tick_interval must be positive and not exceed scanner.inactivity_threshold")
	}
	if config.Scanner.ReadTimeout <= 0 {
		return fmt.Errorf("scanner.read_timeout must be positive")
	}
	if config.Scanner.ShutdownTimeout <= 0 {
		return fmt.Errorf("scanner.shutdown_timeout must be positive")
	}
	if config.Redemption.Timeout <= 0 {
		return fmt.Errorf("redemption.timeout must be positive")
	}
	if config.Classifier.MinLength > config.Classifier.MaxLength {
		return fmt.Errorf("classifier.min_length cannot exceed classifier.max_length")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetRabbitMQURL returns the RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.RabbitMQ.User, c.RabbitMQ.Password,
		c.RabbitMQ.Host, c.RabbitMQ.Port, c.RabbitMQ.VHost)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
