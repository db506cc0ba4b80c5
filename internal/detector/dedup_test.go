package detector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestDeduplicator_Admit(t *testing.T) {
	t.Run("suppresses within cooldown and admits after", func(t *testing.T) {
		clock := newFakeClock()
		d := NewDeduplicator(clock.Now)

		assert.True(t, d.Admit("node-1", "error_repetition", 5*time.Minute))
		clock.Advance(4 * time.Minute)
		assert.False(t, d.Admit("node-1", "error_repetition", 5*time.Minute))
		clock.Advance(61 * time.Second)
		assert.True(t, d.Admit("node-1", "error_repetition", 5*time.Minute))
	})

	t.Run("keys are independent", func(t *testing.T) {
		d := NewDeduplicator(newFakeClock().Now)

		assert.True(t, d.Admit("node-1", "high_cpu", 10*time.Minute))
		assert.True(t, d.Admit("node-1", "high_memory", 10*time.Minute))
		assert.True(t, d.Admit("node-2", "high_cpu", 10*time.Minute))
		assert.False(t, d.Admit("node-1", "high_cpu", 10*time.Minute))
		assert.Equal(t, 3, d.Len())
	})

	t.Run("longer cooldown of an earlier emission still applies", func(t *testing.T) {
		clock := newFakeClock()
		d := NewDeduplicator(clock.Now)

		assert.True(t, d.Admit("node-1", "correlated_events", LongCooldown))
		clock.Advance(6 * time.Minute)
		assert.False(t, d.Admit("node-1", "correlated_events", ShortCooldown))
		clock.Advance(4*time.Minute + time.Second)
		assert.True(t, d.Admit("node-1", "correlated_events", ShortCooldown))
	})

	t.Run("longer requested cooldown covers a short emission", func(t *testing.T) {
		clock := newFakeClock()
		d := NewDeduplicator(clock.Now)

		assert.True(t, d.Admit("node-1", "correlated_events", ShortCooldown))
		clock.Advance(6 * time.Minute)
		assert.False(t, d.Admit("node-1", "correlated_events", LongCooldown))
		assert.True(t, d.Admit("node-1", "correlated_events", ShortCooldown))
	})

	t.Run("concurrent callers admit exactly once", func(t *testing.T) {
		d := NewDeduplicator(newFakeClock().Now)

		var admitted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if d.Admit("node-1", "error_repetition", 5*time.Minute) {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), admitted.Load())
	})
}

func TestDeduplicator_OnSuppress(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(clock.Now)

	var suppressed []string
	d.OnSuppress(func(alertType string) { suppressed = append(suppressed, alertType) })

	d.Admit("web-1", "high_cpu", ShortCooldown)
	d.Admit("web-1", "high_cpu", ShortCooldown)
	d.Admit("web-1", "high_disk", ShortCooldown)

	assert.Equal(t, []string{"high_cpu"}, suppressed)
}
