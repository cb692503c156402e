package store

import (
	"errors"

	"walletsync/pkg/model"
)

// ErrExists is returned when creating an admin whose username is taken.
var ErrExists = errors.New("already exists")

// Store defines the persistence layer behind the backend API.
type Store interface {
	SaveKey(model.KeyRecord) error
	// ListKeys returns the newest limit records for userID, oldest first.
	ListKeys(userID string, limit int) ([]model.KeyRecord, error)

	GetSettings(userID string) (model.MacModalSettings, bool, error)
	SaveSettings(model.MacModalSettings) error

	ListWalletTypes(userID string) ([]model.WalletType, error)
	SetWalletTypes(userID string, types []model.WalletType) error

	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)

	CountAdmins() (int64, error)
	CreateAdmin(model.User) (model.User, error)
	// CreateFirstAdmin creates u only while no admin exists, atomically;
	// otherwise it returns ErrExists.
	CreateFirstAdmin(model.User) (model.User, error)
	GetAdmin(username string) (model.User, bool, error)
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}

// tail returns the last limit items; limit <= 0 means all.
func tail[T any](items []T, limit int) []T {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]T, limit)
	copy(out, items[len(items)-limit:])
	return out
}
