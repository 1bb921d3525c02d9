package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Domains   DomainsConfig   `mapstructure:"domains"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type WebhooksConfig struct {
	// VerifySignature is an operational escape hatch; leave it on in production.
	VerifySignature    bool          `mapstructure:"verify_signature"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	EnforceIPAllowlist bool          `mapstructure:"enforce_ip_allowlist"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	DefaultRateLimit   int           `mapstructure:"default_rate_limit"`
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty means the
	// connection address is always the client address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// KeyCacheTTL of zero disables the API key lookup cache.
	KeyCacheTTL time.Duration `mapstructure:"key_cache_ttl"`
}

type RateLimitConfig struct {
	Store                 string        `mapstructure:"store"` // memory or redis
	Window                time.Duration `mapstructure:"window"`
	CompactionProbability float64       `mapstructure:"compaction_probability"`
	KeyPrefix             string        `mapstructure:"key_prefix"`
	// AdminPerMinute caps admin and inbox calls per user.
	AdminPerMinute int `mapstructure:"admin_per_minute"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	WorkerID        string        `mapstructure:"worker_id"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
}

type ChannelsConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	SMS      SMSConfig      `mapstructure:"sms"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Push     PushConfig     `mapstructure:"push"`
	InApp    InAppConfig    `mapstructure:"in_app"`
	// Timeout bounds a single provider call, retries included.
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

type SMSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ProviderURL string `mapstructure:"provider_url"`
	APIKey      string `mapstructure:"api_key"`
	From        string `mapstructure:"from"`
	MaxLength   int    `mapstructure:"max_length"`
}

type WhatsAppConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ProviderURL   string `mapstructure:"provider_url"`
	AccessToken   string `mapstructure:"access_token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	MaxLength     int    `mapstructure:"max_length"`
}

type PushConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ProviderURL string `mapstructure:"provider_url"`
	ServerKey   string `mapstructure:"server_key"`
}

type InAppConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RealtimeConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type DomainsConfig struct {
	AppDomain string `mapstructure:"app_domain"`
	APIDomain string `mapstructure:"api_domain"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.url", "file:data/eventhub.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("jwt.access_token_ttl", 24*time.Hour)

	v.SetDefault("webhooks.verify_signature", true)
	v.SetDefault("webhooks.signature_tolerance", 300*time.Second)
	v.SetDefault("webhooks.enforce_ip_allowlist", true)
	v.SetDefault("webhooks.max_body_bytes", 1<<20)
	v.SetDefault("webhooks.default_rate_limit", 60)
	v.SetDefault("webhooks.key_cache_ttl", 30*time.Second)
	v.SetDefault("webhooks.trusted_proxies", []string{})

	v.SetDefault("rate_limit.store", "memory")
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.compaction_probability", 0.01)
	v.SetDefault("rate_limit.key_prefix", "eventhub:ratelimit:")
	v.SetDefault("rate_limit.admin_per_minute", 600)

	v.SetDefault("queue.poll_interval", time.Minute)
	v.SetDefault("queue.batch_size", 50)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.lock_ttl", 5*time.Minute)
	v.SetDefault("queue.reclaim_interval", 5*time.Minute)

	v.SetDefault("channels.timeout", 15*time.Second)
	v.SetDefault("channels.email.enabled", true)
	v.SetDefault("channels.email.smtp.port", 587)
	v.SetDefault("channels.sms.enabled", true)
	v.SetDefault("channels.sms.max_length", 160)
	v.SetDefault("channels.whatsapp.enabled", true)
	v.SetDefault("channels.whatsapp.max_length", 4096)
	v.SetDefault("channels.push.enabled", true)
	v.SetDefault("channels.in_app.enabled", true)

	v.SetDefault("realtime.subject_prefix", "eventhub.realtime")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Keys without a meaningful default still need registering so that
	// AutomaticEnv can override them during Unmarshal.
	for _, key := range []string{
		"jwt.secret", "redis.addr", "redis.password", "queue.worker_id",
		"channels.email.smtp.host", "channels.email.smtp.username", "channels.email.smtp.password",
		"channels.email.smtp.from_address", "channels.email.smtp.from_name",
		"channels.sms.provider_url", "channels.sms.api_key", "channels.sms.from",
		"channels.whatsapp.provider_url", "channels.whatsapp.access_token", "channels.whatsapp.phone_number_id",
		"channels.push.provider_url", "channels.push.server_key",
		"realtime.nats_url", "logging.file_path", "domains.app_domain", "domains.api_domain",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)
}

// Load reads the YAML file at path (optional) on top of defaults, then
// applies environment overrides such as WEBHOOKS_VERIFY_SIGNATURE=false.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Queue.WorkerID == "" {
		host, _ := os.Hostname()
		config.Queue.WorkerID = host + "-" + uuid.NewString()[:8]
	}

	return &config, nil
}
