// Package config loads environment-based configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for mail-connect.
type Config struct {
	// HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8091"`

	// Path to the bbolt state database.
	DBPath string `env:"STATE_DB_PATH" envDefault:"mail-connect.db"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Registered API clients as "client_id:secret,client_id:secret".
	// Secrets are hashed before they reach the store.
	Clients string `env:"CONNECT_CLIENTS"`

	// Outlook OAuth application credentials, used to redeem
	// caller-supplied refresh tokens during account verification.
	OutlookClientID     string `env:"MS_OAUTH_CLIENT_ID"`
	OutlookClientSecret string `env:"MS_OAUTH_CLIENT_SECRET"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Clients == "" {
		return fmt.Errorf("CONNECT_CLIENTS is required: no client could ever authorize")
	}

	if _, err := c.ParseClients(); err != nil {
		return err
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClientCredential holds a client id and plain-text secret parsed
// from CONNECT_CLIENTS. The secret is hashed before storage.
type ClientCredential struct {
	ClientID string
	Secret   string
}

const (
	// clientSecretMinLen is the minimum length for client secrets.
	// Shorter secrets do not provide enough entropy for SHA-256
	// hash-based authentication. 16 characters is a conservative
	// floor that allows a range of secret formats.
	clientSecretMinLen = 16
)

// ParseClients parses the CONNECT_CLIENTS string.
// Format: "client1:secret1,client2:secret2"
// Secrets must be at least 16 characters long.
func (c *Config) ParseClients() ([]ClientCredential, error) {
	if c.Clients == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var creds []ClientCredential

	for _, pair := range strings.Split(c.Clients, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid client entry (missing ':'): %s", pair)
		}

		clientID := pair[:idx]
		secret := pair[idx+1:]

		if clientID == "" || secret == "" {
			return nil, fmt.Errorf("empty client id or secret in CONNECT_CLIENTS")
		}

		if len(secret) < clientSecretMinLen {
			return nil, fmt.Errorf("client %s: secret must be at least %d characters", clientID, clientSecretMinLen)
		}

		if _, dup := seen[clientID]; dup {
			return nil, fmt.Errorf("duplicate client id %s in CONNECT_CLIENTS", clientID)
		}
		seen[clientID] = struct{}{}

		creds = append(creds, ClientCredential{ClientID: clientID, Secret: secret})
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("CONNECT_CLIENTS contains no client entries")
	}

	return creds, nil
}
