package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletsync/pkg/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLite(t)) })
}

func TestKeysNewestTail(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		base := time.Unix(1700000000, 0)
		for i := 0; i < 5; i++ {
			rec := model.KeyRecord{
				ID: fmt.Sprintf("k%d", i), UserID: "u1", KeyType: model.KeyTypeChar,
				Keys: fmt.Sprint(i), Channel: model.ChannelAPI, ReceivedAt: base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, s.SaveKey(rec))
		}
		require.NoError(t, s.SaveKey(model.KeyRecord{ID: "other", UserID: "u2", ReceivedAt: base}))

		all, err := s.ListKeys("u1", 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "k0", all[0].ID)

		last, err := s.ListKeys("u1", 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, "k3", last[0].ID)
		assert.Equal(t, "k4", last[1].ID)
		assert.Equal(t, model.ChannelAPI, last[1].Channel)
		assert.True(t, last[1].ReceivedAt.Equal(base.Add(4*time.Second)))

		none, err := s.ListKeys("nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSettingsUpsert(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, ok, err := s.GetSettings("u1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SaveSettings(model.MacModalSettings{UserID: "u1", DisplayName: "A", TimingSeconds: -1}))
		require.NoError(t, s.SaveSettings(model.MacModalSettings{UserID: "u1", DisplayName: "B", TimingSeconds: 30}))

		got, ok, err := s.GetSettings("u1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.MacModalSettings{UserID: "u1", DisplayName: "B", TimingSeconds: 30}, got)
	})
}

func TestWalletTypesReplace(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		empty, err := s.ListWalletTypes("u1")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		first := []model.WalletType{{ID: "1", Name: "MetaMask", ShortKey: "mm"}, {ID: "2", Name: "Phantom", ShortKey: "ph"}}
		require.NoError(t, s.SetWalletTypes("u1", first))
		require.NoError(t, s.SetWalletTypes("u1", first[1:]))

		got, err := s.ListWalletTypes("u1")
		require.NoError(t, err)
		assert.Equal(t, first[1:], got)
	})
}

func TestAuditTail(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.AppendAudit(model.AuditEntry{Actor: "root", Action: "trigger", Target: fmt.Sprint(i), Timestamp: time.Now()}))
		}
		got, err := s.ListAudit(2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "1", got[0].Target)
		assert.Equal(t, "2", got[1].Target)
	})
}

func TestAdmins(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		n, err := s.CountAdmins()
		require.NoError(t, err)
		assert.Zero(t, n)

		u, err := s.CreateAdmin(model.User{Username: "root", PasswordHash: "h", IsAdmin: true})
		require.NoError(t, err)
		assert.NotZero(t, u.ID)

		_, err = s.CreateAdmin(model.User{Username: "root", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrExists)

		got, ok, err := s.GetAdmin("root")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "h", got.PasswordHash)
		assert.True(t, got.IsAdmin)

		_, ok, err = s.GetAdmin("ghost")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err = s.CountAdmins()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestCreateFirstAdminOnlyOnce(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		var (
			wg      sync.WaitGroup
			created atomic.Int32
			closed  atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.CreateFirstAdmin(model.User{Username: fmt.Sprintf("admin%d", i), PasswordHash: "h", IsAdmin: true})
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, ErrExists):
					closed.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
		assert.Equal(t, int32(7), closed.Load())

		n, err := s.CountAdmins()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestCreateFirstAdminAfterExisting(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		u, err := s.CreateFirstAdmin(model.User{Username: "root", PasswordHash: "h", IsAdmin: true})
		require.NoError(t, err)
		assert.NotZero(t, u.ID)

		_, err = s.CreateFirstAdmin(model.User{Username: "second", PasswordHash: "h"})
		assert.ErrorIs(t, err, ErrExists)
		_, ok, err := s.GetAdmin("second")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
