package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockReplacer_StartsWithNoCandidates(t *testing.T) {
	c := NewClockReplacer(3)
	assert.Equal(t, 0, c.Size())
	_, ok := c.Victim()
	assert.False(t, ok)
}

func TestClockReplacer_UnpinMakesCandidate(t *testing.T) {
	c := NewClockReplacer(3)
	c.Unpin(0)
	c.Unpin(1)
	assert.Equal(t, 2, c.Size())
}

func TestClockReplacer_SweepConsumesSecondChanceBeforeEvicting(t *testing.T) {
	c := NewClockReplacer(2)
	c.Unpin(0)
	c.Unpin(1)

	// The hand's first full lap clears every second-chance bit without
	// evicting anything; the second lap evicts starting from frame 0.
	victim, ok := c.Victim()
	require.True(t, ok)
	assert.Equal(t, 0, victim)

	victim, ok = c.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestClockReplacer_PinRemovesCandidate(t *testing.T) {
	c := NewClockReplacer(2)
	c.Unpin(0)
	c.Unpin(1)
	c.Pin(0)

	assert.Equal(t, 1, c.Size())
	victim, ok := c.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestClockReplacer_EmptyVictimFails(t *testing.T) {
	c := NewClockReplacer(0)
	_, ok := c.Victim()
	assert.False(t, ok)
}
