package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/trivia/internal/config"
	"github.com/joho/godotenv"
)

const dotenvFile = ".env"

type envConfig struct {
	Env                    string `env:"ENV" envDefault:"production"`
	DiscordToken           string `env:"DISCORD_TOKEN,required"`
	CommandPrefix          string `env:"COMMAND_PREFIX" envDefault:"!"`
	DatabaseDriver         string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	DefaultRoundTimeoutSec int    `env:"DEFAULT_ROUND_TIMEOUT_SEC" envDefault:"20"`
	DefaultQuestionCount   int    `env:"DEFAULT_QUESTION_COUNT" envDefault:"10"`
	QuestionAPIURL         string `env:"QUESTION_API_URL" envDefault:"https://opentdb.com/api.php"`
	QuestionAPITimeoutSec  int    `env:"QUESTION_API_TIMEOUT_SEC" envDefault:"10"`
	RedisAddr              string `env:"REDIS_ADDR"`
	RedisPassword          string `env:"REDIS_PASSWORD"`
	RedisPrefix            string `env:"REDIS_PREFIX" envDefault:"trivia"`
	ResultWebhookURL       string `env:"RESULT_WEBHOOK_URL"`
	OpsAddr                string `env:"OPS_ADDR" envDefault:":9090"`
	OTelExporterEndpoint   string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// Load reads an optional .env file, then parses and validates the environment.
// Variables already present in the process environment win over the file.
func Load() (*internalconfig.Config, error) {
	if err := loadDotenv(dotenvFile); err != nil {
		return nil, err
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                    raw.Env,
		DiscordToken:           raw.DiscordToken,
		CommandPrefix:          raw.CommandPrefix,
		DatabaseDriver:         raw.DatabaseDriver,
		DatabaseURL:            raw.DatabaseURL,
		DefaultRoundTimeoutSec: raw.DefaultRoundTimeoutSec,
		DefaultQuestionCount:   raw.DefaultQuestionCount,
		QuestionAPIURL:         raw.QuestionAPIURL,
		QuestionAPITimeoutSec:  raw.QuestionAPITimeoutSec,
		RedisAddr:              raw.RedisAddr,
		RedisPassword:          raw.RedisPassword,
		RedisPrefix:            raw.RedisPrefix,
		ResultWebhookURL:       raw.ResultWebhookURL,
		OpsAddr:                raw.OpsAddr,
		OTelExporterEndpoint:   raw.OTelExporterEndpoint,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
