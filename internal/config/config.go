package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mozzafiato/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	RemoteBackendWebApp = "webapp"
	RemoteBackendSheets = "sheets"

	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Remote     RemoteConfig     `yaml:"remote"`
	Google     GoogleConfig     `yaml:"google"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Backup     BackupConfig     `yaml:"backup"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// RemoteConfig selects and tunes the gateway to the authoritative store.
type RemoteConfig struct {
	Backend   string        `yaml:"backend"`
	WebAppURL string        `yaml:"web_app_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
}

type GoogleConfig struct {
	CredentialsFile string       `yaml:"credentials_file"`
	SpreadsheetID   string       `yaml:"spreadsheet_id"`
	Sheets          SheetsConfig `yaml:"sheets"`
}

type SheetsConfig struct {
	Catalog    string `yaml:"catalog"`
	Production string `yaml:"production"`
	Sales      string `yaml:"sales"`
	Inventory  string `yaml:"inventory"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	QueueBackend string `yaml:"queue_backend"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig describes the response cache served by the interceptor.
type CacheConfig struct {
	Name      string   `yaml:"name"`
	Upstream  string   `yaml:"upstream"`
	ShellPath string   `yaml:"shell_path"`
	Precache  []string `yaml:"precache"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeMaxInterval time.Duration `yaml:"probe_max_interval"`
	StartOffline     bool          `yaml:"start_offline"`
}

type APIConfig struct {
	Port      int                `yaml:"port"`
	GRPCPort  int                `yaml:"grpc_port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type NotifyConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
	BaseURL       string  `yaml:"base_url"`
}

// Load reads the YAML file at configPath, expanding ${VAR} references from
// the environment and an optional .env file.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case RemoteBackendWebApp:
		if c.Remote.WebAppURL == "" {
			return errors.New("remote.web_app_url is required for the webapp backend")
		}
	case RemoteBackendSheets:
		if c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "" {
			return errors.New("google.credentials_file and google.spreadsheet_id are required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown remote backend %q", c.Remote.Backend)
	}

	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	switch c.Storage.QueueBackend {
	case QueueBackendSQLite:
	case QueueBackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis.address is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Storage.QueueBackend)
	}

	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "mozzafiato"
	}
	c.Remote.Backend = strings.ToLower(strings.TrimSpace(c.Remote.Backend))
	if c.Remote.Backend == "" {
		c.Remote.Backend = RemoteBackendWebApp
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultRemoteTimeout
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 4
	}

	if c.Google.Sheets.Catalog == "" {
		c.Google.Sheets.Catalog = "📦 Catálogo"
	}
	if c.Google.Sheets.Production == "" {
		c.Google.Sheets.Production = "🏭 Producción"
	}
	if c.Google.Sheets.Sales == "" {
		c.Google.Sheets.Sales = "💰 Ventas"
	}
	if c.Google.Sheets.Inventory == "" {
		c.Google.Sheets.Inventory = "📊 Inventario"
	}

	c.Storage.QueueBackend = strings.ToLower(strings.TrimSpace(c.Storage.QueueBackend))
	if c.Storage.QueueBackend == "" {
		c.Storage.QueueBackend = QueueBackendSQLite
	}

	if c.Cache.Name == "" {
		c.Cache.Name = models.DefaultCacheName
	}
	if c.Cache.ShellPath == "" {
		c.Cache.ShellPath = models.DefaultShellPath
	}
	if len(c.Cache.Precache) == 0 {
		c.Cache.Precache = append([]string(nil), models.DefaultShellURLs...)
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 15 * time.Second
	}
	if c.Sync.ProbeMaxInterval == 0 {
		c.Sync.ProbeMaxInterval = 5 * time.Minute
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.GRPCPort == 0 {
		c.API.GRPCPort = 8081
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
