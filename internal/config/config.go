package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置（订单事件推送，默认禁用）
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // 最终主题：<prefix>/<tenant_id>/<event_type>
	QoS         byte
}

// OrderingConfig 下单规则
type OrderingConfig struct {
	Timezone     string // 截止时间参考时区
	Location     *time.Location
	CutoffHour   int             // 周日几点截止（0-23）
	TaxRate      decimal.Decimal // 如 0.08875
	Currency     string
	MenuCacheTTL time.Duration
}

// PaymentConfig 支付网关配置；SecretKey 为空时使用内置 fake 网关
type PaymentConfig struct {
	StripeAPIBase   string
	StripeSecretKey string
	Timeout         time.Duration // 单次扣款调用超时
	StaleAfter      time.Duration // submitted/pending 超过该时长视为中断，可被接管
	RetryCount      int
}

// Config wisefido-meals（住户周订餐 HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled    bool
	Database     DatabaseConfig
	RedisEnabled bool
	Redis        RedisConfig
	MQTT         MQTTConfig
	Ordering     OrderingConfig
	Payment      PaymentConfig
	Events       struct {
		Stream         string        // Redis Stream 名称
		PublishTimeout time.Duration // 单个事件发布的上限，超时只记日志
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// DB 不可用时回退到内存仓库
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "true") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-meals")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "wisefido/meals")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))

	cfg.Ordering.Timezone = getEnv("ORDER_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(cfg.Ordering.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_TIMEZONE %q: %w", cfg.Ordering.Timezone, err)
	}
	cfg.Ordering.Location = loc
	cfg.Ordering.CutoffHour = parseInt(getEnv("ORDER_CUTOFF_HOUR", "12"), 12)
	if cfg.Ordering.CutoffHour < 0 || cfg.Ordering.CutoffHour > 23 {
		return nil, fmt.Errorf("ORDER_CUTOFF_HOUR out of range: %d", cfg.Ordering.CutoffHour)
	}
	rate, err := decimal.NewFromString(getEnv("ORDER_TAX_RATE", "0.08875"))
	if err != nil || rate.IsNegative() {
		return nil, fmt.Errorf("invalid ORDER_TAX_RATE %q", os.Getenv("ORDER_TAX_RATE"))
	}
	cfg.Ordering.TaxRate = rate
	cfg.Ordering.Currency = getEnv("ORDER_CURRENCY", "usd")
	cfg.Ordering.MenuCacheTTL = parseDuration(getEnv("MENU_CACHE_TTL", "5m"), 5*time.Minute)

	cfg.Payment.StripeAPIBase = getEnv("STRIPE_API_BASE", "https://api.stripe.com")
	cfg.Payment.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.Payment.Timeout = parseDuration(getEnv("PAYMENT_TIMEOUT", "15s"), 15*time.Second)
	cfg.Payment.StaleAfter = parseDuration(getEnv("PAYMENT_STALE_AFTER", "2m"), 2*time.Minute)
	cfg.Payment.RetryCount = parseInt(getEnv("PAYMENT_RETRY_COUNT", "2"), 2)

	cfg.Events.Stream = getEnv("ORDER_EVENTS_STREAM", "meals:order_events")
	cfg.Events.PublishTimeout = parseDuration(getEnv("ORDER_EVENTS_PUBLISH_TIMEOUT", "3s"), 3*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
