package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for vspid.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	FPGA      FPGAConfig      `yaml:"fpga"`
	Boot      BootConfig      `yaml:"boot"`
}

// HostConfig identifies the machine the daemon runs on.
type HostConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP control-plane server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains control-plane token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// TokenTTL is the lifetime of minted tokens in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// FPGAConfig lists the FPGA devices the daemon manages.
type FPGAConfig struct {
	// Root names the control-plane root directory.
	Root    string             `yaml:"root"`
	Devices []FPGADeviceConfig `yaml:"devices"`
}

// FPGADeviceConfig describes one FPGA endpoint.
type FPGADeviceConfig struct {
	// BDF is the PCI address, e.g. "0000:03:00.0".
	BDF     string `yaml:"bdf"`
	Vendor  uint16 `yaml:"vendor"`
	Product uint16 `yaml:"product"`

	// ResourcePath is the sysfs resource file of BAR 0. Empty uses an
	// in-memory window of BARLength bytes.
	ResourcePath string `yaml:"resource_path"`
	BARStart     uint64 `yaml:"bar_start"`
	BARLength    uint64 `yaml:"bar_length"`

	// SPI holds the staged values the device starts with.
	SPI SPIDefaults `yaml:"spi"`
}

// SPIDefaults mirrors the staged control-plane entries of a device.
type SPIDefaults struct {
	Controllers    uint32 `yaml:"virt_spi_controllers"`
	ControllerSize uint32 `yaml:"virt_spi_controller_size"`
	BaseAddr       uint32 `yaml:"spi_base_addr"`
	NumChipSelect  uint32 `yaml:"spi_num_cs"`
	ChipSelect     uint32 `yaml:"spi_cs"`
	Driver         string `yaml:"spi_driver"`
	DevDriver      string `yaml:"spi_dev_driver"`
}

// BootConfig controls the boot-time initialization sequence.
type BootConfig struct {
	Enabled bool `yaml:"enabled"`

	// BlacklistPath is the modprobe.d file listing conflicting drivers.
	BlacklistPath    string   `yaml:"blacklist_path"`
	BlacklistModules []string `yaml:"blacklist_modules"`

	// DeviceJSONPath receives a JSON description of the configured devices.
	DeviceJSONPath string `yaml:"device_json_path"`

	ASICInit ASICInitConfig `yaml:"asic_init"`
}

// ASICInitConfig describes the board-specific ASIC init executable.
type ASICInitConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	// Timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// maxNameLen bounds driver names, matching the control-plane limit.
const maxNameLen = 31

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VSPID_SECTION_KEY
// For example: VSPID_DATABASE_PATH, VSPID_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			ID:   "host-001",
			Name: "vspid",
		},
		Database: DatabaseConfig{
			Path:        "./data/vspid.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vspid",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
		FPGA: FPGAConfig{
			Root: "multifpgapci",
		},
		Boot: BootConfig{
			BlacklistPath:    "/etc/modprobe.d/vspid-blacklist.conf",
			BlacklistModules: []string{"i2c_i801", "i2c_ismt"},
			DeviceJSONPath:   "./data/fpga-devices.json",
			ASICInit: ASICInitConfig{
				Timeout: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VSPID_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VSPID_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VSPID_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VSPID_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VSPID_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("VSPID_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("VSPID_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("VSPID_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("VSPID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("VSPID_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Host.ID == "" {
		errs = append(errs, "host.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set VSPID_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.FPGA.Root == "" {
		errs = append(errs, "fpga.root is required")
	}
	errs = append(errs, c.FPGA.validateDevices()...)

	if c.Boot.Enabled && c.Boot.ASICInit.Binary != "" && c.Boot.ASICInit.Timeout <= 0 {
		errs = append(errs, "boot.asic_init.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (f FPGAConfig) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool, len(f.Devices))
	for i, d := range f.Devices {
		prefix := fmt.Sprintf("fpga.devices[%d]", i)
		if d.BDF == "" {
			errs = append(errs, prefix+".bdf is required")
		} else if seen[strings.ToLower(d.BDF)] {
			errs = append(errs, fmt.Sprintf("%s.bdf %q is listed twice", prefix, d.BDF))
		}
		seen[strings.ToLower(d.BDF)] = true

		if d.ResourcePath != "" && d.BARLength == 0 && d.BARStart != 0 {
			errs = append(errs, prefix+".bar_length is required when bar_start is set")
		}
		if len(d.SPI.Driver) > maxNameLen {
			errs = append(errs, fmt.Sprintf("%s.spi.spi_driver exceeds %d bytes", prefix, maxNameLen))
		}
		if len(d.SPI.DevDriver) > maxNameLen {
			errs = append(errs, fmt.Sprintf("%s.spi.spi_dev_driver exceeds %d bytes", prefix, maxNameLen))
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetTokenTTL returns the control-plane token lifetime.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.TokenTTL) * time.Minute
}

// GetASICInitTimeout returns the ASIC init timeout.
func (c *Config) GetASICInitTimeout() time.Duration {
	return time.Duration(c.Boot.ASICInit.Timeout) * time.Second
}
