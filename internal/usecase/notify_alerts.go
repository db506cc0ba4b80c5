package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	defaultNotifyBatchSize = 100
	defaultRetryCount      = 3
	defaultRetryBackoff    = 1 * time.Second
	defaultStaleAfter      = 1 * time.Minute
)

// NotifyAlertsUseCase drains the alert stream into a Notifier. Messages are
// acknowledged only after delivery, so a crashed worker's backlog is claimed
// by the next one.
type NotifyAlertsUseCase struct {
	source   domain.AlertSource
	notifier domain.Notifier
	logger   *slog.Logger

	batchSize    int
	retryBackoff time.Duration
	staleAfter   time.Duration
}

// NewNotifyAlertsUseCase creates a new NotifyAlertsUseCase.
func NewNotifyAlertsUseCase(source domain.AlertSource, notifier domain.Notifier, logger *slog.Logger) *NotifyAlertsUseCase {
	return &NotifyAlertsUseCase{
		source:       source,
		notifier:     notifier,
		logger:       logger.With("component", "alert_notifier"),
		batchSize:    defaultNotifyBatchSize,
		retryBackoff: defaultRetryBackoff,
		staleAfter:   defaultStaleAfter,
	}
}

// ProcessBatch delivers abandoned messages first, then new ones, and
// returns how many were delivered and acknowledged.
func (uc *NotifyAlertsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	stale, err := uc.source.ClaimStale(ctx, uc.staleAfter, uc.batchSize)
	if err != nil {
		uc.logger.Warn("failed to claim stale alerts", "error", err)
	}

	fresh, err := uc.source.Read(ctx, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read alert batch", "error", err)
		return 0, err
	}

	batch := append(stale, fresh...)
	if len(batch) == 0 {
		return 0, nil
	}

	delivered := make([]string, 0, len(batch))
	for _, m := range batch {
		if err := uc.notifyWithRetry(ctx, m.Alert); err != nil {
			if ctx.Err() != nil {
				break
			}
			uc.logger.Error("giving up on alert, leaving it pending", "message_id", m.MessageID, "alert_id", m.Alert.ID, "error", err)
			continue
		}
		delivered = append(delivered, m.MessageID)
	}

	if err := uc.source.Ack(ctx, delivered...); err != nil {
		uc.logger.Error("failed to acknowledge delivered alerts", "error", err)
		return 0, err
	}

	uc.logger.Debug("delivered alert batch", "count", len(delivered))
	return len(delivered), nil
}

func (uc *NotifyAlertsUseCase) notifyWithRetry(ctx context.Context, alert domain.Alert) error {
	var lastErr error
	for i := 0; i < defaultRetryCount; i++ {
		err := uc.notifier.Notify(ctx, alert)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("failed to deliver alert, retrying", "attempt", i+1, "alert_id", alert.ID, "error", err)
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
