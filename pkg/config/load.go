package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables read by LoadEnv.
const (
	EnvAPIBaseURL   = "WALLETSYNC_API_URL"
	EnvSocketURL    = "WALLETSYNC_SOCKET_URL"
	EnvSocketEvent  = "WALLETSYNC_SOCKET_EVENT"
	EnvSecretKey    = "WALLETSYNC_SECRET_KEY"
	EnvAssetBaseURL = "WALLETSYNC_ASSET_URL"
	EnvIPLookupURL  = "WALLETSYNC_IP_LOOKUP_URL"
	EnvGeoLookupURL = "WALLETSYNC_GEO_LOOKUP_URL"
	EnvTimeout      = "WALLETSYNC_REQUEST_TIMEOUT"
	EnvTokenTTL     = "WALLETSYNC_TOKEN_TTL"
	EnvSentryDSN    = "WALLETSYNC_SENTRY_DSN"
)

// LoadFile merges a TOML file into the store.
func (s *Store) LoadFile(path string) error {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	s.Set(c)
	return nil
}

// LoadEnv merges WALLETSYNC_* variables, reading ./.env first when present.
func (s *Store) LoadEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	s.Set(Config{
		APIBaseURL:     os.Getenv(EnvAPIBaseURL),
		SocketURL:      os.Getenv(EnvSocketURL),
		SocketEvent:    os.Getenv(EnvSocketEvent),
		SecretKey:      os.Getenv(EnvSecretKey),
		AssetBaseURL:   os.Getenv(EnvAssetBaseURL),
		IPLookupURL:    os.Getenv(EnvIPLookupURL),
		GeoLookupURL:   os.Getenv(EnvGeoLookupURL),
		RequestTimeout: os.Getenv(EnvTimeout),
		TokenTTL:       os.Getenv(EnvTokenTTL),
		SentryDSN:      os.Getenv(EnvSentryDSN),
	})
	return nil
}
