//go:build consul

package store

import (
	"errors"

	"walletsync/pkg/consul"
	"walletsync/pkg/model"
)

type consulStore struct {
	*consul.Store
}

func (c consulStore) CreateAdmin(u model.User) (model.User, error) {
	out, err := c.Store.CreateAdmin(u)
	if errors.Is(err, consul.ErrExists) {
		return model.User{}, ErrExists
	}
	return out, err
}

func (c consulStore) CreateFirstAdmin(u model.User) (model.User, error) {
	out, err := c.Store.CreateFirstAdmin(u)
	if errors.Is(err, consul.ErrExists) {
		return model.User{}, ErrExists
	}
	return out, err
}

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr string) Store {
	return consulStore{consul.NewStore(addr)}
}
