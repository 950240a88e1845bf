package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargeledger/libs/config"
)

// Storage selects the ledger state backend.
type Storage struct {
	Driver       string `yaml:"driver" env:"NODE_STORAGE_DRIVER"`
	DSN          string `yaml:"dsn" env:"NODE_POSTGRES_DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" env:"NODE_POSTGRES_MAX_OPEN_CONNS"`
}

// Redis configures the optional event relay.
type Redis struct {
	Addr     string `yaml:"addr" env:"NODE_REDIS_ADDR"`
	Password string `yaml:"password" env:"NODE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"NODE_REDIS_DB"`
	Channel  string `yaml:"channel" env:"NODE_REDIS_CHANNEL"`
}

// Memberships seeds the organization registry.
type Memberships struct {
	ChargerAdmin   string   `yaml:"chargerAdmin" env:"NODE_CHARGER_ADMIN"`
	Chargers       []string `yaml:"chargers" env:"NODE_CHARGERS"`
	ValidatorAdmin string   `yaml:"validatorAdmin" env:"NODE_VALIDATOR_ADMIN"`
	Validators     []string `yaml:"validators" env:"NODE_VALIDATORS"`
}

// Agent configures the reconciliation loop for the identities this node
// controls. Chargers maps a controlled charger account to the base URL of its
// hardware control API.
type Agent struct {
	IntervalSeconds int               `yaml:"intervalSeconds" env:"NODE_AGENT_INTERVAL"`
	TimeoutSeconds  int               `yaml:"timeoutSeconds" env:"NODE_AGENT_TIMEOUT"`
	Chargers        map[string]string `yaml:"chargers" env:"-"`
	Validators      []string          `yaml:"validators" env:"NODE_AGENT_VALIDATORS"`
}

// Gateway configures the external payment gateway client.
type Gateway struct {
	URL            string `yaml:"url" env:"NODE_GATEWAY_URL"`
	Secret         string `yaml:"secret" env:"NODE_GATEWAY_SECRET"`
	NodeID         string `yaml:"nodeId" env:"NODE_GATEWAY_NODE_ID"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"NODE_GATEWAY_TIMEOUT"`
}

// Config defines the node configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"NODE_HTTP_PORT"`
	} `yaml:"http"`
	Storage     Storage     `yaml:"storage"`
	Redis       Redis       `yaml:"redis"`
	Memberships Memberships `yaml:"memberships"`
	Agent       Agent       `yaml:"agent"`
	Gateway     Gateway     `yaml:"gateway"`
	Tariff      struct {
		InitialPriceCents uint64 `yaml:"initialPriceCents" env:"NODE_INITIAL_PRICE_CENTS"`
	} `yaml:"tariff"`
}

// Load reads configuration via the shared helper and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8090"
	cfg.Storage.Driver = "memory"
	cfg.Agent.IntervalSeconds = 6
	cfg.Agent.TimeoutSeconds = 5

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return nil, errors.New("config: postgres dsn required for postgres storage")
		}
	default:
		return nil, fmt.Errorf("config: unknown storage driver %q", cfg.Storage.Driver)
	}

	if len(cfg.Agent.Validators) > 0 && strings.TrimSpace(cfg.Gateway.URL) == "" {
		return nil, errors.New("config: gateway url required when the node controls validators")
	}
	if strings.TrimSpace(cfg.Gateway.URL) != "" && strings.TrimSpace(cfg.Gateway.Secret) == "" {
		return nil, errors.New("config: gateway secret required")
	}

	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// AgentInterval returns the reconciliation interval as a duration.
func (c *Config) AgentInterval() time.Duration {
	if c.Agent.IntervalSeconds <= 0 {
		return 6 * time.Second
	}
	return time.Duration(c.Agent.IntervalSeconds) * time.Second
}

// AgentTimeout returns the per-call timeout for external calls.
func (c *Config) AgentTimeout() time.Duration {
	if c.Agent.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// GatewayTimeout returns the gateway HTTP timeout.
func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}
