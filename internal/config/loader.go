package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from:
// 1. Default values
// 2. the YAML file at configPath (optional)
// 3. MSG_* environment variables
// and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow a missing config file; env vars and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "messenger.db")

	v.SetDefault("graph.base_url", "https://graph.facebook.com")
	v.SetDefault("graph.api_version", "v19.0")
	// Registered empty so MSG_GRAPH_APP_ID is visible to Unmarshal; validation
	// rejects the empty value.
	v.SetDefault("graph.app_id", "")
	v.SetDefault("graph.send_timeout", 15*time.Second)
	v.SetDefault("graph.request_timeout", 10*time.Second)

	v.SetDefault("messenger.channel", "messenger")
	v.SetDefault("messenger.public_base_url", "https://example.invalid")
	v.SetDefault("messenger.verify_token", "")

	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", 5*time.Minute)
	v.SetDefault("idempotency.max_entries", 10000)

	v.SetDefault("scheduler.tasks.idempotency_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.idempotency_sweep.schedule", "*/1 * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 4 * * *")
}
