package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Log         LogConfig            `mapstructure:"log"`
	Auth        AuthConfig           `mapstructure:"auth"`
	Database    DatabaseConfig       `mapstructure:"database"`
	Redis       RedisConfig          `mapstructure:"redis"`
	Ledger      LedgerConfig         `mapstructure:"ledger"`
	Outbox      OutboxConfig         `mapstructure:"outbox"`
	Webhook     WebhookConfig        `mapstructure:"webhook"`
	Chain       ChainConfig          `mapstructure:"chain"`
	NATS        NATSConfig           `mapstructure:"nats"`
	Stream      StreamConfig         `mapstructure:"stream"`
	Metrics     MetricsConfig        `mapstructure:"metrics"`
	Audit       AuditConfig          `mapstructure:"audit"`
	ReadOnly    bool                 `mapstructure:"read_only"`
	TenantsFile string               `mapstructure:"tenants_file"`
	TenantSync  time.Duration        `mapstructure:"tenant_sync_interval"`
	Tenants     []TenantFileEntry    `mapstructure:"tenants"`
	Defaults    TenantDefaultsConfig `mapstructure:"defaults"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Driver                    string `mapstructure:"driver"` // postgres | sqlite
	DSN                       string `mapstructure:"dsn"`
	MaxOpenConns              int    `mapstructure:"max_open_conns"`
	MaxIdleConns              int    `mapstructure:"max_idle_conns"`
	IdempotencyRetentionHours int    `mapstructure:"idempotency_retention_hours"`
	AuditRetentionDays        int    `mapstructure:"audit_retention_days"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	AuditListKey          string `mapstructure:"audit_list_key"`
	AuditListMax          int    `mapstructure:"audit_list_max"`
	FraudKeyPrefix        string `mapstructure:"fraud_key_prefix"`
}

type LedgerConfig struct {
	NodeID           int64         `mapstructure:"node_id"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	SweepParallelism int           `mapstructure:"sweep_parallelism"`
}

type OutboxConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	NotifyChannel string        `mapstructure:"notify_channel"`
}

type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	QPS     float64       `mapstructure:"qps"`
	Burst   int           `mapstructure:"burst"`
}

type ChainConfig struct {
	RPCURL    string        `mapstructure:"rpc_url"`
	Namespace string        `mapstructure:"namespace"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Token         string        `mapstructure:"token"`
}

type StreamConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Buffer  int  `mapstructure:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AuditConfig struct {
	File       string `mapstructure:"file"`
	QueueSize  int    `mapstructure:"queue_size"`
	RingSize   int    `mapstructure:"ring_size"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TenantDefaultsConfig fills gaps in tenant definitions that leave a value unset.
type TenantDefaultsConfig struct {
	DefaultWindow time.Duration `mapstructure:"default_window"`
	QPS           float64       `mapstructure:"qps"`
	Burst         int           `mapstructure:"burst"`
}

// TenantFileEntry is the raw shape of a tenant in config.yaml or the tenants file.
// The service layer converts it into model.Tenant.
type TenantFileEntry map[string]any

// Flags registers command line flags. Call before Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("port", "", "HTTP listen port")
}

func Load(fs *pflag.FlagSet) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. POINTGATE_DATABASE_DSN
	v.SetEnvPrefix("pointgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
		if f := fs.Lookup("log-level"); f != nil {
			_ = v.BindPFlag("log.level", f)
		}
		if f := fs.Lookup("port"); f != nil {
			_ = v.BindPFlag("server.port", f)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("auth.require_api_key", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:pointgate.db?cache=shared")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.idempotency_retention_hours", 168)
	v.SetDefault("database.audit_retention_days", 30)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("redis.audit_list_key", "audit_logs")
	v.SetDefault("redis.audit_list_max", 10000)
	v.SetDefault("redis.fraud_key_prefix", "fraud:")
	v.SetDefault("ledger.node_id", 1)
	v.SetDefault("ledger.lock_timeout", 2*time.Second)
	v.SetDefault("ledger.sweep_interval", time.Minute)
	v.SetDefault("ledger.sweep_batch_size", 500)
	v.SetDefault("ledger.sweep_parallelism", 8)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.base_backoff", time.Second)
	v.SetDefault("outbox.max_backoff", 10*time.Minute)
	v.SetDefault("outbox.notify_channel", "pointgate_outbox")
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.timeout", 5*time.Second)
	v.SetDefault("webhook.qps", 20)
	v.SetDefault("webhook.burst", 40)
	v.SetDefault("chain.namespace", "points")
	v.SetDefault("chain.timeout", 10*time.Second)
	v.SetDefault("nats.subject_prefix", "pointgate")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 5*time.Second)
	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.buffer", 64)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("audit.file", "logs/audit.jsonl")
	v.SetDefault("audit.queue_size", 1000)
	v.SetDefault("audit.ring_size", 1000)
	v.SetDefault("audit.max_size_mb", 100)
	v.SetDefault("audit.max_backups", 14)
	v.SetDefault("audit.max_age_days", 30)
	v.SetDefault("tenant_sync_interval", 30*time.Second)
	v.SetDefault("defaults.default_window", 0)
	v.SetDefault("defaults.qps", 50)
	v.SetDefault("defaults.burst", 100)
}
