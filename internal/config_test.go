package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	var config Config
	_, err := env.UnmarshalFromEnviron(&config)
	req.NoError(err)
	req.NoError(config.Validate())

	req.Equal("localhost:8080", config.Address())
	req.Equal("evict-old", string(config.Policy()))
	req.Equal([]string{"https://a.example.com", "https://b.example.com"}, config.Origins())
	req.Positive(config.AuthTimeout)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		JWTSecret:            "0123456789abcdef",
		AuthTimeout:          1,
		OutboundBufferSize:   1,
		DeliveryTimeout:      1,
		WriteTimeout:         1,
		DuplicateLoginPolicy: "reject-new",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Unknown policy", func(c *Config) { c.DuplicateLoginPolicy = "coin-flip" }},
		{"No auth timeout", func(c *Config) { c.AuthTimeout = 0 }},
		{"No outbound buffer", func(c *Config) { c.OutboundBufferSize = 0 }},
		{"Short secret", func(c *Config) { c.JWTSecret = "short" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoadDotenv(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	req.NoError(os.WriteFile(file, []byte("RELAY_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("RELAY_DOTENV_PROBE", "")
	req.NoError(os.Unsetenv("RELAY_DOTENV_PROBE"))

	req.NoError(LoadDotenv(filepath.Join(dir, "missing.env"), file))
	req.Equal("loaded", os.Getenv("RELAY_DOTENV_PROBE"))
}
