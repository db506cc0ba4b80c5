package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/V4T54L/hostwatch/internal/detector"
)

// RulesFile is the YAML layout of RULES_FILE. Omitted keys keep the value
// from the environment.
type RulesFile struct {
	ErrorRepetition *struct {
		Threshold     *int `yaml:"threshold"`
		WindowSeconds *int `yaml:"window_seconds"`
	} `yaml:"error_repetition"`
	AbnormalConnections *struct {
		Threshold     *int `yaml:"threshold"`
		WindowSeconds *int `yaml:"window_seconds"`
	} `yaml:"abnormal_connections"`
	Resources *struct {
		CPUPercent    *float64 `yaml:"cpu_percent"`
		MemoryPercent *float64 `yaml:"memory_percent"`
		DiskPercent   *float64 `yaml:"disk_percent"`
		WindowSeconds *int     `yaml:"window_seconds"`
	} `yaml:"resources"`
}

// Apply overlays the file's values on base.
func (f *RulesFile) Apply(base detector.Thresholds) detector.Thresholds {
	t := base
	if e := f.ErrorRepetition; e != nil {
		setInt(&t.ErrorThreshold, e.Threshold)
		setSeconds(&t.ErrorWindow, e.WindowSeconds)
	}
	if c := f.AbnormalConnections; c != nil {
		setInt(&t.ConnectionThreshold, c.Threshold)
		setSeconds(&t.ConnectionWindow, c.WindowSeconds)
	}
	if r := f.Resources; r != nil {
		setFloat(&t.HighCPU, r.CPUPercent)
		setFloat(&t.HighMemory, r.MemoryPercent)
		setFloat(&t.HighDisk, r.DiskPercent)
		setSeconds(&t.ResourceWindow, r.WindowSeconds)
	}
	return t
}

// RulesLoader reads RULES_FILE, overlays it on the environment thresholds
// and keeps detector.Rules in sync with the file on disk.
type RulesLoader struct {
	path   string
	base   detector.Thresholds
	rules  *detector.Rules
	logger *slog.Logger

	mu       sync.Mutex
	onChange []func(detector.Thresholds)
}

// NewRulesLoader performs the initial load into rules. An invalid file is an error here.
func NewRulesLoader(path string, base detector.Thresholds, rules *detector.Rules, logger *slog.Logger) (*RulesLoader, error) {
	l := &RulesLoader{
		path:   path,
		base:   base,
		rules:  rules,
		logger: logger.With("component", "rules_loader", "path", path),
	}
	if _, err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// OnChange registers a callback invoked after every successful reload.
func (l *RulesLoader) OnChange(fn func(detector.Thresholds)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload re-reads the file. On error the thresholds in force are kept.
func (l *RulesLoader) Reload() (detector.Thresholds, error) {
	t, err := l.load()
	if err != nil {
		return detector.Thresholds{}, err
	}
	l.rules.Store(t)

	l.mu.Lock()
	callbacks := make([]func(detector.Thresholds), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(t)
	}
	return t, nil
}

// Watch reloads the file whenever it changes until stop is called. The
// parent directory is watched so editors that replace the file are seen.
func (l *RulesLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}

	name := filepath.Clean(l.path)
	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				t, err := l.Reload()
				if err != nil {
					l.logger.Error("rules reload rejected, keeping previous thresholds", "error", err)
					continue
				}
				l.logger.Info("rules reloaded", "thresholds", fmt.Sprintf("%+v", t))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("rules watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func (l *RulesLoader) load() (detector.Thresholds, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return detector.Thresholds{}, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return detector.Thresholds{}, fmt.Errorf("parse rules %s: %w", l.path, err)
	}
	t := f.Apply(l.base)
	if err := t.Validate(); err != nil {
		return detector.Thresholds{}, fmt.Errorf("invalid rules %s: %w", l.path, err)
	}
	return t, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}
