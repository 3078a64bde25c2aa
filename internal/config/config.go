package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	CronSecret         string `envconfig:"CRON_SECRET" required:"true"`

	// Stripe settings
	StripeSecretKey      string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret  string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripePricePro       string `envconfig:"STRIPE_PRICE_ID_PRO" required:"true"`
	StripePriceUnlimited string `envconfig:"STRIPE_PRICE_ID_UNLIMITED" required:"true"`
	AppBaseURL           string `envconfig:"APP_BASE_URL" default:"http://localhost:3000"`

	// Hedra settings
	HedraBaseURL           string `envconfig:"HEDRA_BASE_URL" default:"https://api.hedra.com/web-app/public"`
	HedraRequestTimeoutSec int    `envconfig:"HEDRA_REQUEST_TIMEOUT_SEC" default:"60"`
	HedraModelID           string `envconfig:"HEDRA_MODEL_ID" default:"d1dd37a3-e39a-4854-a298-6510289f9cf2"`

	// Supabase Storage (S3-compatible) settings
	S3URL       string `envconfig:"SUPABASE_S3_URL" required:"true"`
	S3Bucket    string `envconfig:"SUPABASE_S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"SUPABASE_S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"SUPABASE_S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"SUPABASE_S3_SECRET_KEY" required:"true"`

	// GCP settings (Pub/Sub notifications, Secret Manager API keys)
	GCPProjectID          string `envconfig:"GCP_PROJECT_ID"`
	PubSubCompletionTopic string `envconfig:"PUBSUB_COMPLETION_TOPIC" default:"video-completions"`

	// Completion worker settings
	CompletionQueueName           string `envconfig:"COMPLETION_QUEUE_NAME" default:"video_completion_queue"`
	CompletionPollTimeoutSec      int    `envconfig:"COMPLETION_POLL_TIMEOUT_SEC" default:"30"`
	CompletionPollMaxMsg          int    `envconfig:"COMPLETION_POLL_MAX_MSG" default:"5"`
	CompletionMaxRetries          int    `envconfig:"COMPLETION_MAX_RETRIES" default:"5"`
	CompletionBackoffInitialSec   int    `envconfig:"COMPLETION_BACKOFF_INITIAL_SEC" default:"1"`
	CompletionBackoffMaxSec       int    `envconfig:"COMPLETION_BACKOFF_MAX_SEC" default:"60"`
	CompletionDeadLetterQueueName string `envconfig:"COMPLETION_DEAD_LETTER_QUEUE_NAME" default:"video_completion_queue_dlq"`

	// Diagnostics
	LogBufferCapacity int `envconfig:"LOG_BUFFER_CAPACITY" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
