package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestAtRoundTripsTimestamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	got, ok := Time(At(ts))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	_, ok = Time("not-a-ulid")
	assert.False(t, ok)
}
