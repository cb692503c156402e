package geo

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

// Getter fetches and decodes a JSON document.
type Getter interface {
	GetJSON(ctx context.Context, url string, out interface{}) error
}

// Cache resolves the caller's IP and location once and keeps the result for
// the lifetime of the process. Failed lookups are not remembered.
type Cache struct {
	cfg *config.Store
	get Getter

	mu  sync.RWMutex
	rec *model.LocationRecord
}

func NewCache(cfg *config.Store, get Getter) *Cache {
	return &Cache{cfg: cfg, get: get}
}

// Get returns the memoized record, resolving it first if needed. It never
// fails: unresolved fields carry model.Unknown.
func (c *Cache) Get(ctx context.Context) model.LocationRecord {
	if rec, ok := c.Cached(); ok {
		return rec
	}
	ip, err := c.lookupIP(ctx)
	if err != nil {
		log.Printf("geo ip lookup failed: %v", err)
		return model.UnknownLocation()
	}
	rec, err := c.lookupLocation(ctx, ip)
	if err != nil {
		log.Printf("geo location lookup failed ip=%s: %v", ip, err)
		return model.LocationRecord{IPAddress: ip, Location: model.Unknown, CountryCode: model.Unknown}
	}
	c.mu.Lock()
	if c.rec == nil {
		c.rec = &rec
	}
	rec = *c.rec
	c.mu.Unlock()
	return rec
}

// Cached returns the memoized record without any network I/O.
func (c *Cache) Cached() (model.LocationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rec == nil {
		return model.LocationRecord{}, false
	}
	return *c.rec, true
}

func (c *Cache) lookupIP(ctx context.Context) (string, error) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := c.get.GetJSON(ctx, c.cfg.IPLookupURL(), &body); err != nil {
		return "", err
	}
	ip := strings.TrimSpace(body.IP)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid ip %q", body.IP)
	}
	return ip, nil
}

func (c *Cache) lookupLocation(ctx context.Context, ip string) (model.LocationRecord, error) {
	var body struct {
		City        string `json:"city"`
		Region      string `json:"region"`
		CountryName string `json:"country_name"`
		CountryCode string `json:"country_code"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	if err := c.get.GetJSON(ctx, c.cfg.GeoLookupURL(ip), &body); err != nil {
		return model.LocationRecord{}, err
	}
	if body.Error {
		return model.LocationRecord{}, fmt.Errorf("geo service: %s", body.Reason)
	}
	parts := []string{}
	for _, p := range []string{body.City, body.Region, body.CountryName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	rec := model.LocationRecord{IPAddress: ip, Location: model.Unknown, CountryCode: model.Unknown}
	if len(parts) > 0 {
		rec.Location = strings.Join(parts, ", ")
	}
	if cc := strings.TrimSpace(body.CountryCode); cc != "" {
		rec.CountryCode = strings.ToUpper(cc)
	}
	return rec, nil
}
