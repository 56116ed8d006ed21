package redisutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigAddressesDeduplicates(t *testing.T) {
	cfg := Config{Addr: " cache:6379 ", Addrs: []string{"cache:6379", "", "replica:6379"}}
	assert.Equal(t, []string{"cache:6379", "replica:6379"}, cfg.Addresses())
	assert.True(t, cfg.Enabled())
	assert.False(t, Config{}.Enabled())
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestNewClientIsLazy(t *testing.T) {
	client, err := NewClient(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig(TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = buildTLSConfig(TLSConfig{InsecureSkipVerify: true, ServerName: "redis.internal"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "redis.internal", cfg.ServerName)

	badCA := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0o600))
	_, err = buildTLSConfig(TLSConfig{CAFile: badCA})
	require.Error(t, err)
}
