//go:build consul

package consul

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"walletsync/pkg/model"
)

// ErrExists is returned by CreateAdmin when the username is taken.
var ErrExists = errors.New("already exists")

var errNoClient = fmt.Errorf("consul client not configured")

// Store is a Consul KV-backed implementation of the backend store.
type Store struct {
	cli *consulapi.Client
}

const (
	keyPrefix      = "walletsync/keys/"
	settingsPrefix = "walletsync/settings/"
	walletPrefix   = "walletsync/wallet-types/"
	auditPrefix    = "walletsync/audit/"
	adminPrefix    = "walletsync/admins/"
	firstAdminKey  = "walletsync/first-admin"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // ignore error for build; runtime will report
	return &Store{cli: cli}
}

func (s *Store) put(key string, v interface{}) error {
	if s.cli == nil {
		return errNoClient
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) get(key string, out interface{}) (bool, error) {
	if s.cli == nil {
		return false, errNoClient
	}
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil || kv == nil {
		return false, err
	}
	if err := json.Unmarshal(kv.Value, out); err != nil {
		return false, err
	}
	return true, nil
}

func list[T any](s *Store, prefix string) ([]T, error) {
	if s.cli == nil {
		return nil, errNoClient
	}
	pairs, _, err := s.cli.KV().List(prefix, nil)
	if err != nil {
		return nil, err
	}
	// Consul returns pairs in lexical key order and the keys embed a
	// zero-padded timestamp, so pairs are already oldest first.
	var out []T
	for _, p := range pairs {
		var v T
		if err := json.Unmarshal(p.Value, &v); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

func (s *Store) SaveKey(k model.KeyRecord) error {
	key := fmt.Sprintf("%s%s/%020d-%s", keyPrefix, k.UserID, k.ReceivedAt.UnixNano(), k.ID)
	return s.put(key, k)
}

func (s *Store) ListKeys(userID string, limit int) ([]model.KeyRecord, error) {
	out, err := list[model.KeyRecord](s, keyPrefix+userID+"/")
	if err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}

func (s *Store) GetSettings(userID string) (model.MacModalSettings, bool, error) {
	var m model.MacModalSettings
	ok, err := s.get(settingsPrefix+userID, &m)
	return m, ok, err
}

func (s *Store) SaveSettings(m model.MacModalSettings) error {
	return s.put(settingsPrefix+m.UserID, m)
}

func (s *Store) ListWalletTypes(userID string) ([]model.WalletType, error) {
	out := []model.WalletType{}
	if _, err := s.get(walletPrefix+userID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetWalletTypes(userID string, types []model.WalletType) error {
	if types == nil {
		types = []model.WalletType{}
	}
	return s.put(walletPrefix+userID, types)
}

func (s *Store) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	key := fmt.Sprintf("%s%020d-%s", auditPrefix, entry.Timestamp.UnixNano(), entry.Target)
	return s.put(key, entry)
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	out, err := list[model.AuditEntry](s, auditPrefix)
	if err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}

func (s *Store) CountAdmins() (int64, error) {
	if s.cli == nil {
		return 0, errNoClient
	}
	keys, _, err := s.cli.KV().Keys(adminPrefix, "", nil)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// CreateAdmin writes with CAS index 0 so an existing username is never overwritten.
func (s *Store) CreateAdmin(u model.User) (model.User, error) {
	if s.cli == nil {
		return model.User{}, errNoClient
	}
	n, err := s.CountAdmins()
	if err != nil {
		return model.User{}, err
	}
	u.ID = uint(n + 1)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	b, err := json.Marshal(storedAdmin{User: u, PasswordHash: u.PasswordHash})
	if err != nil {
		return model.User{}, err
	}
	ok, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: adminPrefix + u.Username, Value: b, ModifyIndex: 0}, nil)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, ErrExists
	}
	return u, nil
}

// CreateFirstAdmin claims firstAdminKey with CAS index 0 before creating
// the account, so only one first registration can win.
func (s *Store) CreateFirstAdmin(u model.User) (model.User, error) {
	if s.cli == nil {
		return model.User{}, errNoClient
	}
	n, err := s.CountAdmins()
	if err != nil {
		return model.User{}, err
	}
	if n > 0 {
		return model.User{}, ErrExists
	}
	ok, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: firstAdminKey, Value: []byte(u.Username), ModifyIndex: 0}, nil)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, ErrExists
	}
	out, err := s.CreateAdmin(u)
	if err != nil {
		_, _ = s.cli.KV().Delete(firstAdminKey, nil)
		return model.User{}, err
	}
	return out, nil
}

func (s *Store) GetAdmin(username string) (model.User, bool, error) {
	var a storedAdmin
	ok, err := s.get(adminPrefix+username, &a)
	if !ok || err != nil {
		return model.User{}, false, err
	}
	a.User.PasswordHash = a.PasswordHash
	return a.User, true, nil
}

// storedAdmin keeps the hash that model.User hides from JSON.
type storedAdmin struct {
	model.User
	PasswordHash string `json:"passwordHash"`
}
