package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBurstGuard_AllowsWithinLimit(t *testing.T) {
	g := NewBurstGuard(2, 100)

	_, ok := g.Allow(`1.2.3.4`)
	require.True(t, ok)
	_, ok = g.Allow(`1.2.3.4`)
	require.True(t, ok)
}

func TestBurstGuard_BlocksOverPerSecond(t *testing.T) {
	g := NewBurstGuard(2, 100)

	g.Allow(`1.2.3.4`)
	g.Allow(`1.2.3.4`)
	retryAt, ok := g.Allow(`1.2.3.4`)
	require.False(t, ok)
	require.False(t, retryAt.IsZero())
}

func TestBurstGuard_SeparateKeysIndependent(t *testing.T) {
	g := NewBurstGuard(1, 100)

	_, ok := g.Allow(`1.2.3.4`)
	require.True(t, ok)
	_, ok = g.Allow(`5.6.7.8`)
	require.True(t, ok)
}

func TestBurstGuard_BlocksOverPerMinute(t *testing.T) {
	g := NewBurstGuard(1000, 1)

	g.Allow(`1.2.3.4`)
	_, ok := g.Allow(`1.2.3.4`)
	require.False(t, ok)
}

func TestBurstGuard_NilIsNoop(t *testing.T) {
	var g *BurstGuard
	_, ok := g.Allow(`1.2.3.4`)
	require.True(t, ok)
}

func TestBurstGuard_Janitor(t *testing.T) {
	g := NewBurstGuard(1, 1)
	g.Allow(`1.2.3.4`)
	require.Len(t, g.buckets, 1)

	g.Janitor(time.Now().Add(2 * time.Minute))
	require.Len(t, g.buckets, 0)
}
