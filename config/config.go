package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/organlink/core/dispatch"
	coremetrics "github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/infra/activitylog"
	"github.com/kilianp07/organlink/infra/amqp"
	"github.com/kilianp07/organlink/infra/claim"
	"github.com/kilianp07/organlink/infra/mqtt"
)

type Config struct {
	HTTP        HTTPConfig         `json:"http"`
	AMQP        amqp.Config        `json:"amqp"`
	Stores      StoresConfig       `json:"stores"`
	ORS         MapsConfig         `json:"ors"`
	Cache       CacheConfig        `json:"cache"`
	Redis       claim.Config       `json:"redis"`
	ActivityLog activitylog.Config `json:"activity_log"`
	MQTT        mqtt.Config        `json:"mqtt"`
	Metrics     coremetrics.Config `json:"metrics"`
	Dispatch    dispatch.Config    `json:"dispatch"`
	Tracking    TrackingConfig     `json:"tracking"`
	Logging     LoggingConfig      `json:"logging"`
	Simulator   SimulatorConfig    `json:"simulator"`
}

// Load reads the yaml or json file at path, then applies K_ prefixed
// environment overrides (K_AMQP__URL sets amqp.url). A .env file in the
// working directory is loaded into the environment first. An empty path
// uses defaults and the environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every unset section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	setAMQPDefaults(&c.AMQP)
	c.Stores.SetDefaults()
	c.ORS.SetDefaults()
	c.Cache.SetDefaults()
	setRedisDefaults(&c.Redis)
	setActivityLogDefaults(&c.ActivityLog)
	setMQTTDefaults(&c.MQTT)
	c.Tracking.SetDefaults()
	c.Logging.SetDefaults()
	c.Simulator.SetDefaults()
}

// Validate checks every section and reports the first failure.
func (c Config) Validate() error {
	checks := []struct {
		name string
		err  error
	}{
		{"http", c.HTTP.Validate()},
		{"amqp", validateAMQP(c.AMQP)},
		{"stores", c.Stores.Validate()},
		{"ors", c.ORS.Validate()},
		{"cache", c.Cache.Validate()},
		{"activity_log", validateActivityLog(c.ActivityLog)},
		{"mqtt", validateMQTT(c.MQTT)},
		{"metrics", validateMetrics(c.Metrics)},
		{"tracking", c.Tracking.Validate()},
		{"logging", c.Logging.Validate()},
		{"simulator", c.Simulator.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.name, ch.err)
		}
	}
	return nil
}
