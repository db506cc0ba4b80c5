package detector

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Thresholds parameterizes the four detectors.
type Thresholds struct {
	ErrorThreshold      int
	ErrorWindow         time.Duration
	ConnectionThreshold int
	ConnectionWindow    time.Duration
	HighCPU             float64
	HighMemory          float64
	HighDisk            float64
	ResourceWindow      time.Duration
}

// DefaultThresholds returns the built-in detector configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorThreshold:      10,
		ErrorWindow:         60 * time.Second,
		ConnectionThreshold: 5,
		ConnectionWindow:    300 * time.Second,
		HighCPU:             90,
		HighMemory:          90,
		HighDisk:            90,
		ResourceWindow:      5 * time.Minute,
	}
}

// Validate rejects configurations that would make a detector fire on every cycle or never look back.
func (t Thresholds) Validate() error {
	var errs []error
	if t.ErrorThreshold <= 0 {
		errs = append(errs, fmt.Errorf("error threshold must be positive, got %d", t.ErrorThreshold))
	}
	if t.ConnectionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("connection threshold must be positive, got %d", t.ConnectionThreshold))
	}
	for name, w := range map[string]time.Duration{
		"error window":      t.ErrorWindow,
		"connection window": t.ConnectionWindow,
		"resource window":   t.ResourceWindow,
	} {
		if w <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, w))
		}
	}
	for name, v := range map[string]float64{
		"cpu":    t.HighCPU,
		"memory": t.HighMemory,
		"disk":   t.HighDisk,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s threshold must be in (0, 100], got %.1f", name, v))
		}
	}
	return errors.Join(errs...)
}

// Rules holds the thresholds currently in force. Reloads swap the whole
// value so a cycle never sees a half-updated configuration.
type Rules struct {
	current atomic.Pointer[Thresholds]
}

// NewRules creates a Rules holder seeded with t.
func NewRules(t Thresholds) *Rules {
	r := &Rules{}
	r.Store(t)
	return r
}

// Load returns the thresholds in force.
func (r *Rules) Load() Thresholds {
	return *r.current.Load()
}

// Store replaces the thresholds in force.
func (r *Rules) Store(t Thresholds) {
	r.current.Store(&t)
}
