package config

import (
	"fmt"
	"time"
)

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"

	MinRoundTimeoutSec    = 10
	MaxRoundTimeoutSec    = 60
	MinQuestionCount      = 1
	MaxQuestionCount      = 20
	questionAPIMinTimeout = 1
)

type Config struct {
	Env                    string
	DiscordToken           string
	CommandPrefix          string
	DatabaseDriver         string
	DatabaseURL            string
	DefaultRoundTimeoutSec int
	DefaultQuestionCount   int
	QuestionAPIURL         string
	QuestionAPITimeoutSec  int
	RedisAddr              string
	RedisPassword          string
	RedisPrefix            string
	ResultWebhookURL       string
	OpsAddr                string
	OTelExporterEndpoint   string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DatabaseDriverPostgres, DatabaseDriverSQLite, c.DatabaseDriver)
	}
	if !ValidRoundTimeout(c.DefaultRoundTimeoutSec) {
		return fmt.Errorf("DEFAULT_ROUND_TIMEOUT_SEC must be between %d and %d, got %d", MinRoundTimeoutSec, MaxRoundTimeoutSec, c.DefaultRoundTimeoutSec)
	}
	if !ValidQuestionCount(c.DefaultQuestionCount) {
		return fmt.Errorf("DEFAULT_QUESTION_COUNT must be between %d and %d, got %d", MinQuestionCount, MaxQuestionCount, c.DefaultQuestionCount)
	}
	if c.QuestionAPITimeoutSec < questionAPIMinTimeout {
		return fmt.Errorf("QUESTION_API_TIMEOUT_SEC must be positive, got %d", c.QuestionAPITimeoutSec)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "COMMAND_PREFIX", value: c.CommandPrefix},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "QUESTION_API_URL", value: c.QuestionAPIURL},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) DefaultRoundTimeout() time.Duration {
	return time.Duration(c.DefaultRoundTimeoutSec) * time.Second
}

func (c *Config) QuestionAPITimeout() time.Duration {
	return time.Duration(c.QuestionAPITimeoutSec) * time.Second
}

// ValidRoundTimeout reports whether seconds is an accepted per-round timeout.
func ValidRoundTimeout(seconds int) bool {
	return seconds >= MinRoundTimeoutSec && seconds <= MaxRoundTimeoutSec
}

// ValidQuestionCount reports whether n is an accepted number of questions per game.
func ValidQuestionCount(n int) bool {
	return n >= MinQuestionCount && n <= MaxQuestionCount
}
