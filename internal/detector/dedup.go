package detector

import (
	"sync"
	"time"
)

// Cooldowns applied per alert kind.
const (
	ShortCooldown = 5 * time.Minute
	LongCooldown  = 10 * time.Minute
)

type dedupKey struct {
	host      string
	alertType string
}

// emission remembers when an alert was admitted and the cooldown it was
// admitted under.
type emission struct {
	at       time.Time
	cooldown time.Duration
}

// Deduplicator suppresses repeated emissions of the same (host, alert type)
// within a cooldown. History lives for the process lifetime only.
type Deduplicator struct {
	mu      sync.Mutex
	history map[dedupKey][]emission
	now     func() time.Time

	onSuppress func(alertType string)
}

// NewDeduplicator creates a Deduplicator. A nil clock means time.Now.
func NewDeduplicator(now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		history: make(map[dedupKey][]emission),
		now:     now,
	}
}

// Admit reports whether an alert for (host, alertType) may be emitted now.
// A previous emission suppresses for the longer of its own cooldown and the
// one requested here, so a short-cooldown tier cannot cut a longer one short.
// Pruning, the check and recording the emission happen under one lock, so
// two concurrent cycles cannot both admit the same condition.
func (d *Deduplicator) Admit(host, alertType string, cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := dedupKey{host: host, alertType: alertType}

	kept := d.history[key][:0]
	for _, e := range d.history[key] {
		if now.Sub(e.at) < max(e.cooldown, cooldown) {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		d.history[key] = kept
		if d.onSuppress != nil {
			d.onSuppress(alertType)
		}
		return false
	}

	d.history[key] = append(kept, emission{at: now, cooldown: cooldown})
	return true
}

// OnSuppress registers fn to be called for every refused admission.
// It must be set before the deduplicator is shared.
func (d *Deduplicator) OnSuppress(fn func(alertType string)) {
	d.onSuppress = fn
}

// Len returns the number of (host, alert type) keys currently tracked,
// including keys whose emissions have expired but were not pruned yet.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}
