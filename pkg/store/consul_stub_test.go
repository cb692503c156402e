//go:build !consul

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"walletsync/pkg/model"
)

func TestConsulStubFallsBackToMemory(t *testing.T) {
	s := NewConsulStore("127.0.0.1:8500")
	require.NotNil(t, s)
	require.NoError(t, s.SaveSettings(model.MacModalSettings{UserID: "u1"}))
}
