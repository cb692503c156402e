package model

// WalletType is one wallet option enabled for a user.
type WalletType struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	ShortKey string `json:"shortkey"`
}
