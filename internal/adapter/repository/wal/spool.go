// Package wal keeps alerts that could not be published on local disk as
// newline-delimited JSON segments until they can be replayed.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	segmentPrefix = "alerts-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
)

// ErrSpoolFull is returned when a write would exceed the configured disk budget.
var ErrSpoolFull = errors.New("alert spool is full")

// Spool implements domain.AlertSpool with size-bounded segment files.
type Spool struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	seq            int64
}

// NewSpool opens the spool in dir, resuming the newest segment if one exists.
func NewSpool(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}

	s := &Spool{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "alert_spool"),
	}

	total, err := s.diskUsage()
	if err != nil {
		return nil, err
	}
	s.totalSize = total

	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends alert to the current segment.
func (s *Spool) Write(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert for spool: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d bytes)", ErrSpoolFull, s.totalSize, len(data), s.maxTotalSize)
	}
	if s.currentSegment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.currentSegment.Write(data)
	s.currentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to spool segment: %w", err)
	}

	if s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("failed to rotate spool segment", "error", err)
		}
	}
	return nil
}

// Replay hands every spooled alert to handler, oldest segment first. Lines
// that do not decode are skipped. The first handler error stops the replay.
func (s *Spool) Replay(ctx context.Context, handler func(alert domain.Alert) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	s.logger.Info("replaying alert spool", "segment_count", len(segments))

	replayed := 0
	for _, path := range segments {
		n, err := replaySegment(ctx, path, handler, s.logger)
		replayed += n
		if err != nil {
			return err
		}
	}

	s.logger.Info("alert spool replayed", "alerts", replayed)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.Alert) error, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var alert domain.Alert
		if err := json.Unmarshal(scanner.Bytes(), &alert); err != nil {
			logger.Warn("skipping undecodable spool line", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(alert); err != nil {
			return n, fmt.Errorf("replay handler failed: %w", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return n, nil
}

// Truncate removes every segment and starts a fresh one.
func (s *Spool) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove spool segments: %w", err)
	}

	s.totalSize = 0
	return s.rotate()
}

// Size returns the bytes currently held on disk.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Close flushes and closes the current segment.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSegment == nil {
		return nil
	}
	err := s.currentSegment.Close()
	s.currentSegment = nil
	return err
}

func (s *Spool) closeCurrent() {
	if s.currentSegment == nil {
		return
	}
	if err := s.currentSegment.Sync(); err != nil {
		s.logger.Error("failed to sync spool segment", "error", err)
	}
	if err := s.currentSegment.Close(); err != nil {
		s.logger.Error("failed to close spool segment", "error", err)
	}
	s.currentSegment = nil
}

func (s *Spool) rotate() error {
	s.closeCurrent()

	// A sequence suffix keeps names unique when two rotations share a clock tick.
	s.seq++
	name := fmt.Sprintf("%s%020d-%06d%s", segmentPrefix, time.Now().UnixNano(), s.seq, segmentSuffix)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create spool segment %s: %w", path, err)
	}
	s.currentSegment = f
	s.currentSize = 0
	s.logger.Debug("rotated spool segment", "path", path)
	return nil
}

func (s *Spool) openLatestSegment() error {
	segments, err := s.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat spool segment %s: %w", latest, err)
	}
	if stat.Size() >= s.maxSegmentSize {
		return s.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open spool segment %s: %w", latest, err)
	}
	s.currentSegment = f
	s.currentSize = stat.Size()
	s.logger.Info("resumed alert spool", "path", latest, "size", s.currentSize)
	return nil
}

func (s *Spool) segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isSegment(e.Name()) {
			out = append(out, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Spool) diskUsage() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !isSegment(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func isSegment(name string) bool {
	return strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix)
}
