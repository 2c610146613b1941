package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr         string `env:"ADDR" envDefault:":3001"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"plantmore.db"`
	UploadsDir   string `env:"UPLOADS_DIR" envDefault:"uploads"`

	BioclipURL           string        `env:"BIOCLIP_SERVICE_URL" envDefault:"http://127.0.0.1:5000"`
	BioclipTimeout       time.Duration `env:"BIOCLIP_TIMEOUT" envDefault:"30s"`
	BioclipHealthTimeout time.Duration `env:"BIOCLIP_HEALTH_TIMEOUT" envDefault:"5s"`
	ClassifyQueueSize    int           `env:"CLASSIFY_QUEUE_SIZE" envDefault:"32"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxUploadBytes       int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	LLMBaseURL           string        `env:"OPENAI_BASE_URL"`
	LLMToken             string        `env:"OPENAI_API_KEY"`
	LLMModel             string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env config: %w", err)
	}
	return cfg, nil
}
