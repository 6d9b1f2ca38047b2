package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Mail       MailConfig       `yaml:"mail"`
	SMS        SMSConfig        `yaml:"sms"`
	Storage    StorageConfig    `yaml:"storage"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Machines   MachinesConfig   `yaml:"machines"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                  int      `yaml:"port"`
	CORSOrigins           []string `yaml:"cors_origins"`
	RateLimitPerSec       float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst        int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds       int      `yaml:"cache_ttl_seconds"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds token signing and identity provider settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTLHours   int           `yaml:"token_ttl_hours"`
	TokenTTL        time.Duration `yaml:"-"`
	GoogleClientID  string        `yaml:"google_client_id"`
	CodeTTLMinutes  int           `yaml:"code_ttl_minutes"`
	EmailCodeTTLMin int           `yaml:"email_change_code_ttl_minutes"`
}

// MailConfig holds the SMTP settings.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
	UseTLS   bool   `yaml:"use_tls"`
}

// SMSConfig selects one of the two SMS providers.
type SMSConfig struct {
	Provider       string `yaml:"provider"` // "iprog" or "bulk"
	IProgBaseURL   string `yaml:"iprog_base_url"`
	IProgAPIToken  string `yaml:"iprog_api_token"`
	BulkBaseURL    string `yaml:"bulk_base_url"`
	BulkAPIKey     string `yaml:"bulk_api_key"`
	BulkSenderID   string `yaml:"bulk_sender_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig points at the S3-like object store.
type StorageConfig struct {
	URL                string `yaml:"url"`
	ServiceKey         string `yaml:"service_key"`
	Bucket             string `yaml:"bucket"`
	FirmwareBucket     string `yaml:"firmware_bucket"`
	SignedURLTTLMinute int    `yaml:"signed_url_ttl_minutes"`
}

// BackupConfig controls the scheduled SQL dump.
type BackupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Dir     string `yaml:"dir"`
	Keep    int    `yaml:"keep"`
	Upload  bool   `yaml:"upload"`
}

// MonitorConfig holds the login-rate monitor thresholds.
type MonitorConfig struct {
	WindowSeconds int           `yaml:"window_seconds"`
	Window        time.Duration `yaml:"-"`
	Threshold     int           `yaml:"threshold"`
}

// MachinesConfig holds the liveness sweep settings.
type MachinesConfig struct {
	SweepIntervalSeconds  int           `yaml:"sweep_interval_seconds"`
	SweepInterval         time.Duration `yaml:"-"`
	OfflineTimeoutSeconds int           `yaml:"offline_timeout_seconds"`
	OfflineTimeout        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// MQTTConfig configures the optional telemetry subscriber.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Load reads the configuration from the given path. Values from the
// environment (and a .env file, when present) override the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env file: %v", err)
	}

	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("config file %s not found; using environment and defaults", path)
	} else {
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Printf("ignoring invalid %s=%q: %v", key, v, err)
			}
		}
	}

	setString(&cfg.Database.DSN, "DATABASE_URL")
	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Mail.Host, "MAIL_HOST")
	setInt(&cfg.Mail.Port, "MAIL_PORT")
	setString(&cfg.Mail.Username, "MAIL_USER")
	setString(&cfg.Mail.Password, "MAIL_PASS")
	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.SMS.Provider, "SMS_PROVIDER")
	setString(&cfg.SMS.IProgAPIToken, "IPROG_API_TOKEN")
	setString(&cfg.SMS.BulkAPIKey, "SMS_BULK_API_KEY")
	setString(&cfg.Storage.URL, "STORAGE_URL")
	setString(&cfg.Storage.ServiceKey, "STORAGE_KEY")
	setString(&cfg.Backup.Cron, "BACKUP_CRON")

	if v := getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	if v := getenv("BACKUP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backup.Enabled = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}

	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	if cfg.Auth.CodeTTLMinutes <= 0 {
		cfg.Auth.CodeTTLMinutes = 10
	}
	if cfg.Auth.EmailCodeTTLMin <= 0 {
		cfg.Auth.EmailCodeTTLMin = 15
	}

	if cfg.Mail.Port <= 0 {
		cfg.Mail.Port = 587
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "NutriBin"
	}

	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = "iprog"
	}
	if cfg.SMS.IProgBaseURL == "" {
		cfg.SMS.IProgBaseURL = "https://sms.iprogtech.com"
	}
	if cfg.SMS.TimeoutSeconds <= 0 {
		cfg.SMS.TimeoutSeconds = 15
	}

	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "backups"
	}
	if cfg.Storage.FirmwareBucket == "" {
		cfg.Storage.FirmwareBucket = "firmware"
	}
	if cfg.Storage.SignedURLTTLMinute <= 0 {
		cfg.Storage.SignedURLTTLMinute = 60
	}

	if cfg.Backup.Cron == "" {
		cfg.Backup.Cron = "0 2 * * *"
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "./backups"
	}
	if cfg.Backup.Keep <= 0 {
		cfg.Backup.Keep = 10
	}

	if cfg.Monitor.WindowSeconds <= 0 {
		cfg.Monitor.WindowSeconds = 60
	}
	cfg.Monitor.Window = time.Duration(cfg.Monitor.WindowSeconds) * time.Second
	if cfg.Monitor.Threshold <= 0 {
		cfg.Monitor.Threshold = 3
	}

	if cfg.Machines.SweepIntervalSeconds <= 0 {
		cfg.Machines.SweepIntervalSeconds = 10
	}
	cfg.Machines.SweepInterval = time.Duration(cfg.Machines.SweepIntervalSeconds) * time.Second
	if cfg.Machines.OfflineTimeoutSeconds <= 0 {
		cfg.Machines.OfflineTimeoutSeconds = 60
	}
	cfg.Machines.OfflineTimeout = time.Duration(cfg.Machines.OfflineTimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "nutribin/+/telemetry"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "nutribin-backend"
	}
}
