package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`

	SpreadsheetID string `env:"SPREADSHEET_ID,required=true"`
	SheetsAPIKey  string `env:"SHEETS_API_KEY,required=true"`
	SheetsBaseURL string `env:"SHEETS_BASE_URL,default=https://sheets.googleapis.com"`

	TextMagicUsername string `env:"TEXTMAGIC_USERNAME,required=true"`
	TextMagicAPIKey   string `env:"TEXTMAGIC_API_KEY,required=true"`
	TextMagicFrom     string `env:"TEXTMAGIC_PHONE_NUMBER,required=true"`
	TextMagicBaseURL  string `env:"TEXTMAGIC_BASE_URL,default=https://rest.textmagic.com"`

	WebhookSecret string `env:"WEBHOOK_SECRET,required=true"`

	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
	SMSRateLimitPerSec  int    `env:"SMS_RATE_LIMIT_PER_SEC,default=10"`
	JobTTLHours         int    `env:"JOB_TTL_HOURS,default=4"`
	JobSweepIntervalSec int    `env:"JOB_SWEEP_INTERVAL_SEC,default=60"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
