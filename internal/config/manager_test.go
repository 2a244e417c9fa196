package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRWMutexManagerGetIsClone(t *testing.T) {
	m := NewRWMutexManager(Defaults())
	a := m.Get()
	a.MaxConcurrentWorkcells = 999
	b := m.Get()
	require.NotEqual(t, 999, b.MaxConcurrentWorkcells)
}

func TestRWMutexManagerSet(t *testing.T) {
	m := NewRWMutexManager(Defaults())
	updated := Defaults()
	updated.MaxConcurrentWorkcells = 42
	m.Set(updated)
	require.Equal(t, 42, m.Get().MaxConcurrentWorkcells)
}
