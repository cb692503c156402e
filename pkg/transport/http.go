package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"walletsync/pkg/auth"
	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

// HTTP is the request/response channel to the backend.
type HTTP struct {
	cfg    *config.Store
	client *http.Client
}

// NewHTTP builds the request channel; a nil client means http.DefaultClient.
// Per-request timeouts come from the config store.
func NewHTTP(cfg *config.Store, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{cfg: cfg, client: client}
}

// SendKey posts one captured key event. It never returns an error: failures
// come back as SendResult{Success: false}.
func (h *HTTP) SendKey(ctx context.Context, p model.KeyPayload) model.SendResult {
	body, err := json.Marshal(p)
	if err != nil {
		return model.Failed(fmt.Errorf("marshal payload: %w", err))
	}
	token, err := h.token(p.UserID)
	if err != nil {
		return model.Failed(err)
	}
	raw, err := h.do(ctx, http.MethodPost, h.cfg.KeyEndpoint(), token, body)
	if err != nil {
		return model.Failed(err)
	}
	var ack struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	// A 2xx is an acceptance; only an explicit success:false rejects. Bodies
	// that are not JSON are not echoed back in Data.
	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		return model.SendResult{Success: true}
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		_ = json.Unmarshal(raw, &ack)
	}
	if ack.Success != nil && !*ack.Success {
		msg := ack.Error
		if msg == "" {
			msg = "backend rejected key"
		}
		return model.SendResult{Success: false, Error: msg, Data: raw}
	}
	return model.SendResult{Success: true, Data: raw}
}

// GetJSON fetches url without credentials and decodes the body into out.
func (h *HTTP) GetJSON(ctx context.Context, url string, out interface{}) error {
	return h.getInto(ctx, url, "", out)
}

// GetAuthorized fetches a backend resource on behalf of userID.
func (h *HTTP) GetAuthorized(ctx context.Context, userID, url string, out interface{}) error {
	token, err := h.token(userID)
	if err != nil {
		return err
	}
	return h.getInto(ctx, url, token, out)
}

func (h *HTTP) getInto(ctx context.Context, url, token string, out interface{}) error {
	raw, err := h.do(ctx, http.MethodGet, url, token, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (h *HTTP) token(userID string) (string, error) {
	tok, err := auth.Generate(h.cfg.SecretKey(), userID, "", false, h.cfg.TokenTTL())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}

func (h *HTTP) do(ctx context.Context, method, url, token string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout())
	defer cancel()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned %s body=%s", method, url, resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
