package macmodal

import (
	"context"

	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

// SettingsSource loads per-user modal settings. A nil result with a nil
// error means the user has no settings.
type SettingsSource interface {
	Settings(ctx context.Context, userID string) (*model.MacModalSettings, error)
}

// Fetcher loads a backend resource on behalf of a user.
type Fetcher interface {
	GetAuthorized(ctx context.Context, userID, url string, out interface{}) error
}

// HTTPSettings reads settings from the backend settings endpoint.
type HTTPSettings struct {
	cfg   *config.Store
	fetch Fetcher
}

func NewHTTPSettings(cfg *config.Store, fetch Fetcher) *HTTPSettings {
	return &HTTPSettings{cfg: cfg, fetch: fetch}
}

func (h *HTTPSettings) Settings(ctx context.Context, userID string) (*model.MacModalSettings, error) {
	var s *model.MacModalSettings
	if err := h.fetch.GetAuthorized(ctx, userID, h.cfg.SettingsURL(userID), &s); err != nil {
		return nil, err
	}
	return s, nil
}
