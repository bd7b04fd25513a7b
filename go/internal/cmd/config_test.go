package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "")
	t.Setenv("NATS_URL", "")

	config, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, config.Auction.StoreTimeout)
	assert.Equal(t, "AUCTION_EVENTS", config.JetStream.StreamName)
	assert.Empty(t, config.JetStream.URL)
	assert.True(t, config.Listener.Enabled)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auction:
  mailbox_size: 8
gateway:
  disconnect_timeout: 2s
listener:
  enabled: false
`), 0o600))
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, config.Auction.MailboxSize)
	assert.Equal(t, 250*time.Millisecond, config.Auction.StoreTimeout)
	assert.Equal(t, 2*time.Second, config.Gateway.DisconnectGrace)
	assert.False(t, config.Listener.Enabled)
	assert.Equal(t, "nats://localhost:4222", config.JetStream.URL)
	// untouched sections keep their defaults
	assert.Equal(t, "auctionhouse", config.Auth.Issuer)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
