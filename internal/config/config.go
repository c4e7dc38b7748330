// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "CARD_SERVICE"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Device   DeviceConfig   `mapstructure:"device"`
	Card     CardConfig     `mapstructure:"card"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"required"`
	User           string        `mapstructure:"user" validate:"required"`
	Password       string        `mapstructure:"password" validate:"required"`
	DBName         string        `mapstructure:"dbname" validate:"required"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig represents the card reader connection
type DeviceConfig struct {
	Transport      string           `mapstructure:"transport"`
	Endpoint       string           `mapstructure:"endpoint"`
	Handshake      string           `mapstructure:"handshake"`
	ReconnectDelay time.Duration    `mapstructure:"reconnect_delay"`
	DefaultPort    DevicePortConfig `mapstructure:"default_ports"`
}

// DevicePortConfig represents per-transport settings
type DevicePortConfig struct {
	WebSocket WebSocketPortConfig `mapstructure:"websocket"`
	Serial    SerialPortConfig    `mapstructure:"serial"`
	TCP       TCPPortConfig       `mapstructure:"tcp"`
}

// WebSocketPortConfig represents websocket transport configuration
type WebSocketPortConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// TCPPortConfig represents TCP port configuration
type TCPPortConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// CardConfig represents card session timing
type CardConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ReadConfirmDelay    time.Duration `mapstructure:"read_confirm_delay"`
	BalanceConfirmDelay time.Duration `mapstructure:"balance_confirm_delay"`
	WriteConfirmDelay   time.Duration `mapstructure:"write_confirm_delay"`
	PaymentConfirmDelay time.Duration `mapstructure:"payment_confirm_delay"`
	Currency            string        `mapstructure:"currency"`
	HistoryRetention    time.Duration `mapstructure:"history_retention"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from an optional config file and environment
// variables. Without paths the default search locations are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", ".", "/etc/card-service"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "card_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", true)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	v.SetDefault("device.transport", "websocket")
	v.SetDefault("device.endpoint", "ws://localhost:62536")
	v.SetDefault("device.handshake", "GetConnect")
	v.SetDefault("device.reconnect_delay", "1s")

	v.SetDefault("device.default_ports.websocket.handshake_timeout", "5s")
	v.SetDefault("device.default_ports.websocket.write_timeout", "5s")
	v.SetDefault("device.default_ports.websocket.read_buffer_size", 4096)
	v.SetDefault("device.default_ports.websocket.write_buffer_size", 4096)

	v.SetDefault("device.default_ports.serial.port", "")
	v.SetDefault("device.default_ports.serial.baud_rate", 9600)
	v.SetDefault("device.default_ports.serial.data_bits", 8)
	v.SetDefault("device.default_ports.serial.stop_bits", 1)
	v.SetDefault("device.default_ports.serial.parity", "none")

	v.SetDefault("device.default_ports.tcp.host", "localhost")
	v.SetDefault("device.default_ports.tcp.port", 62536)
	v.SetDefault("device.default_ports.tcp.connect_timeout", "10s")
	v.SetDefault("device.default_ports.tcp.write_timeout", "5s")
	v.SetDefault("device.default_ports.tcp.keep_alive", true)

	// Card session defaults
	v.SetDefault("card.poll_interval", "1s")
	v.SetDefault("card.read_confirm_delay", "3s")
	v.SetDefault("card.balance_confirm_delay", "3s")
	v.SetDefault("card.write_confirm_delay", "2s")
	v.SetDefault("card.payment_confirm_delay", "2s")
	v.SetDefault("card.currency", "VND")
	v.SetDefault("card.history_retention", "2160h")

	// App defaults
	v.SetDefault("app.name", "card-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	// Validate reader transport
	validTransports := []string{"websocket", "tcp", "serial"}
	if !contains(validTransports, strings.ToLower(config.Device.Transport)) {
		return fmt.Errorf("device.transport must be one of: %v", validTransports)
	}
	switch strings.ToLower(config.Device.Transport) {
	case "websocket":
		if config.Device.Endpoint == "" {
			return fmt.Errorf("device.endpoint is required for websocket transport")
		}
	case "serial":
		if config.Device.DefaultPort.Serial.Port == "" {
			return fmt.Errorf("device.default_ports.serial.port is required for serial transport")
		}
	case "tcp":
		if config.Device.DefaultPort.TCP.Host == "" || config.Device.DefaultPort.TCP.Port <= 0 {
			return fmt.Errorf("device.default_ports.tcp host and port are required for tcp transport")
		}
	}

	if config.Device.ReconnectDelay <= 0 {
		return fmt.Errorf("device.reconnect_delay must be positive")
	}
	if config.Card.PollInterval <= 0 {
		return fmt.Errorf("card.poll_interval must be positive")
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
	return c.Database.DSN()
}

// DSN returns the lib/pq connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
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

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
