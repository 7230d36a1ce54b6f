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
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestTime(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got, err := Time(New())
	require.NoError(t, err)
	assert.True(t, got.After(before))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
