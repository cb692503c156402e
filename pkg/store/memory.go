package store

import (
	"sync"
	"time"

	"walletsync/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	keys        map[string][]model.KeyRecord
	settings    map[string]model.MacModalSettings
	walletTypes map[string][]model.WalletType
	audit       []model.AuditEntry
	admins      map[string]model.User
	nextAdminID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:        make(map[string][]model.KeyRecord),
		settings:    make(map[string]model.MacModalSettings),
		walletTypes: make(map[string][]model.WalletType),
		admins:      make(map[string]model.User),
	}
}

func (m *MemoryStore) SaveKey(k model.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.UserID] = append(m.keys[k.UserID], k)
	return nil
}

func (m *MemoryStore) ListKeys(userID string, limit int) ([]model.KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.keys[userID], limit), nil
}

func (m *MemoryStore) GetSettings(userID string) (model.MacModalSettings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[userID]
	return s, ok, nil
}

func (m *MemoryStore) SaveSettings(s model.MacModalSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = s
	return nil
}

func (m *MemoryStore) ListWalletTypes(userID string) ([]model.WalletType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.walletTypes[userID], 0), nil
}

func (m *MemoryStore) SetWalletTypes(userID string, types []model.WalletType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletTypes[userID] = tail(types, 0)
	return nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.audit, limit), nil
}

func (m *MemoryStore) CountAdmins() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.admins)), nil
}

func (m *MemoryStore) CreateAdmin(u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[u.Username]; ok {
		return model.User{}, ErrExists
	}
	return m.insertAdminLocked(u), nil
}

func (m *MemoryStore) CreateFirstAdmin(u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.admins) > 0 {
		return model.User{}, ErrExists
	}
	return m.insertAdminLocked(u), nil
}

func (m *MemoryStore) insertAdminLocked(u model.User) model.User {
	m.nextAdminID++
	u.ID = m.nextAdminID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.admins[u.Username] = u
	return u
}

func (m *MemoryStore) GetAdmin(username string) (model.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.admins[username]
	return u, ok, nil
}
