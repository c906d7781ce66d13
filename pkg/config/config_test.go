package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Server:      ServerConfig{Host: "0.0.0.0", Port: 1081, URL: "/files"},
		Storage:     StorageConfig{Backend: "file", DataDir: "./data"},
		InfoStorage: InfoStorageConfig{Backend: "file", Dir: "./data"},
	}
	cfg.Prepare()
	return cfg
}

func TestConfig_Prepare_NormalizesURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.URL = "files/"
	cfg.Prepare()
	assert.Equal(t, "/files", cfg.BaseURL())
	assert.Equal(t, "/files/abc", cfg.FileURL("abc"))
}

func TestConfig_Prepare_ImpliedCreation(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.TusExtensions = []string{ExtCreationWithUpload}
	cfg.Prepare()

	assert.True(t, cfg.ExtensionEnabled(ExtCreation))
	assert.True(t, cfg.ExtensionEnabled(ExtCreationWithUpload))
	assert.False(t, cfg.ExtensionEnabled(ExtTermination))
}

func TestConfig_ExtensionHeader(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.TusExtensions = []string{ExtCreation, ExtTermination}
	cfg.Prepare()
	assert.Equal(t, "creation,termination", cfg.ExtensionHeader())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	bad := validConfig()
	bad.Storage.Backend = "tape"
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.InfoStorage.Backend = "redis"
	bad.InfoStorage.DSN = ""
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.Storage.Backend = "s3_hybrid"
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.TusExtensions = []string{"telepathy"}
	bad.Prepare()
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.Hooks.Format = "yaml"
	require.Error(t, bad.Validate())
}

func TestConfig_DefaultExtensions(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	for _, ext := range DefaultExtensions {
		assert.True(t, cfg.ExtensionEnabled(ext), ext)
	}
}
