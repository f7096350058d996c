package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию демона синхронизации.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`

	API struct {
		BaseURL string        `envconfig:"CC_API_BASE_URL" default:"https://api.arceuus.cc"`
		Key     string        `envconfig:"CC_API_KEY"`
		Timeout time.Duration `envconfig:"CC_API_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Poll struct {
		IntervalSeconds     int `envconfig:"POLL_INTERVAL_SECONDS" default:"30"`
		AuthIntervalSeconds int `envconfig:"AUTH_POLL_INTERVAL_SECONDS" default:"30"`
		NewsletterLimit     int `envconfig:"NEWSLETTER_LIST_LIMIT" default:"10"`
	} `envconfig:""`

	Storage struct {
		Backend   string `envconfig:"STORAGE_BACKEND" default:"memory"`
		RedisAddr string `envconfig:"REDIS_ADDR"`
		PGDSN     string `envconfig:"PG_DSN"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHAT_ID"`
	} `envconfig:""`

	AMQP struct {
		URL        string `envconfig:"AMQP_URL"`
		Exchange   string `envconfig:"AMQP_EXCHANGE" default:"cc.notifications"`
		RoutingKey string `envconfig:"AMQP_ROUTING_KEY" default:"intent"`
	} `envconfig:""`

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Notify struct {
		Prefix        string `envconfig:"NOTIFY_PREFIX" default:"Arceuus CC"`
		NewEvents     bool   `envconfig:"NOTIFY_NEW_EVENTS" default:"true"`
		StatusChanges bool   `envconfig:"NOTIFY_STATUS_CHANGES" default:"true"`
		Newsletters   bool   `envconfig:"NOTIFY_NEWSLETTERS" default:"true"`
		LoginCatchUp  bool   `envconfig:"NOTIFY_LOGIN_CATCHUP" default:"true"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
