package authdelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeventhRejectIsHeld(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := New(5)
	q.now = func() time.Time { return start }

	sent := 0
	send := func() { sent++ }
	for i := 0; i < Threshold; i++ {
		assert.False(t, q.Reject("aa:bb:cc:dd:ee:ff", send))
	}
	assert.Equal(t, Threshold, sent)

	assert.True(t, q.Reject("aa:bb:cc:dd:ee:ff", send))
	assert.Equal(t, 1, q.Len())

	assert.Zero(t, q.Release(start.Add(4*time.Second)))
	assert.Equal(t, Threshold, sent)

	assert.Equal(t, 1, q.Release(start.Add(5*time.Second)))
	assert.Equal(t, Threshold+1, sent)
	assert.Zero(t, q.Len())
}

func TestAcceptClearsCounter(t *testing.T) {
	q := New(5)
	noop := func() {}
	for i := 0; i < Threshold; i++ {
		q.Reject("mac", noop)
	}
	q.Accept("mac")
	assert.False(t, q.Reject("mac", noop))
}

func TestReleaseOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := New(1)
	clock := start
	q.now = func() time.Time { return clock }

	var order []string
	for i := 0; i < Threshold; i++ {
		q.Reject("a", func() {})
		q.Reject("b", func() {})
	}
	q.Reject("a", func() { order = append(order, "a") })
	clock = start.Add(time.Second)
	q.Reject("b", func() { order = append(order, "b") })
	q.Reject("a", func() { order = append(order, "a2") })

	assert.Equal(t, 1, q.Release(start.Add(time.Second)))
	// one Reject per tick even when more are due
	assert.Equal(t, 1, q.Release(start.Add(3*time.Second)))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Release(start.Add(3*time.Second)))
	assert.Zero(t, q.Release(start.Add(3*time.Second)))
	assert.Equal(t, []string{"a", "b", "a2"}, order)
}

func TestZeroDelaySendsImmediately(t *testing.T) {
	q := New(0)
	sent := 0
	for i := 0; i < Threshold+3; i++ {
		q.Reject("mac", func() { sent++ })
	}
	assert.Equal(t, Threshold+3, sent)
	assert.Zero(t, q.Len())
}

func TestDelayClamped(t *testing.T) {
	q := New(42)
	assert.Equal(t, MaxDelay, q.Delay())
	q.SetDelay(-1)
	assert.Zero(t, q.Delay())
}
