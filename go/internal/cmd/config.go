package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/auction/gateway"
	"github.com/mcdev12/auctionhouse/go/internal/auction/mirror"
	"github.com/mcdev12/auctionhouse/go/internal/items"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables read from AUCTION_CONFIG. Environment variables
// override the file for the settings operators change most.
type Config struct {
	Auction   auction.Config         `yaml:"auction"`
	Gateway   gateway.Config         `yaml:"gateway"`
	Mirror    mirror.Config          `yaml:"mirror"`
	JetStream mirror.JetStreamConfig `yaml:"jetstream"`
	Listener  ListenerConfig         `yaml:"listener"`
	Auth      AuthConfig             `yaml:"auth"`
}

type ListenerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	NotifyChannel    string        `yaml:"notify_channel"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
}

type AuthConfig struct {
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

func defaultConfig() *Config {
	listener := items.DefaultListenerConfig()
	return &Config{
		Auction:   auction.DefaultConfig(),
		Gateway:   gateway.DefaultConfig(),
		Mirror:    mirror.DefaultConfig(),
		JetStream: mirror.DefaultJetStreamConfig(),
		Listener: ListenerConfig{
			Enabled:          true,
			NotifyChannel:    listener.NotifyChannel,
			FallbackInterval: listener.FallbackInterval,
		},
		Auth: AuthConfig{
			Issuer:   "auctionhouse",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// loadConfig reads path over the defaults. An empty path keeps the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Auction.StoreTimeout = getEnvAsDuration("STORE_TIMEOUT", config.Auction.StoreTimeout)
	config.Auction.MailboxSize = getEnvAsInt("MAILBOX_SIZE", config.Auction.MailboxSize)
	config.JetStream.URL = getEnv("NATS_URL", "")
	config.Auth.TokenTTL = getEnvAsDuration("JWT_TTL", config.Auth.TokenTTL)
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
