package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// AlertConsumer reads the alert stream as a member of a consumer group.
type AlertConsumer struct {
	client   redis.UniversalClient
	stream   string
	dlq      string
	group    string
	consumer string
	block    time.Duration
	logger   *slog.Logger
}

// NewAlertConsumer joins group as consumer, creating the group and stream if needed.
func NewAlertConsumer(ctx context.Context, client redis.UniversalClient, stream, group, consumer string, logger *slog.Logger) (*AlertConsumer, error) {
	c := &AlertConsumer{
		client:   client,
		stream:   stream,
		dlq:      stream + ":dlq",
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
		logger:   logger.With("component", "alert_consumer", "group", group, "consumer", consumer),
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return c, nil
}

// Read blocks briefly for up to count new alerts. Entries that do not decode
// are moved to the dead-letter stream and acknowledged so they are not redelivered.
func (c *AlertConsumer) Read(ctx context.Context, count int) ([]domain.StreamedAlert, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    int64(count),
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return c.decode(ctx, streams[0].Messages), nil
}

// ClaimStale takes over messages another consumer left pending for longer than minIdle.
func (c *AlertConsumer) ClaimStale(ctx context.Context, minIdle time.Duration, count int) ([]domain.StreamedAlert, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XAUTOCLAIM: %w", err)
	}
	if len(msgs) > 0 {
		c.logger.Info("claimed stale alerts", "count", len(msgs))
	}
	return c.decode(ctx, msgs), nil
}

// Ack acknowledges processed messages.
func (c *AlertConsumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to XACK alerts: %w", err)
	}
	return nil
}

func (c *AlertConsumer) decode(ctx context.Context, msgs []redis.XMessage) []domain.StreamedAlert {
	out := make([]domain.StreamedAlert, 0, len(msgs))
	var poison []redis.XMessage
	for _, msg := range msgs {
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			poison = append(poison, msg)
			continue
		}
		var a domain.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			poison = append(poison, msg)
			continue
		}
		out = append(out, domain.StreamedAlert{MessageID: msg.ID, Alert: a})
	}
	if len(poison) > 0 {
		if err := c.deadLetter(ctx, poison); err != nil {
			c.logger.Error("failed to dead-letter undecodable alerts", "error", err)
		}
	}
	return out
}

func (c *AlertConsumer) deadLetter(ctx context.Context, msgs []redis.XMessage) error {
	pipe := c.client.Pipeline()
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		payload, _ := msg.Values[payloadField].(string)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.dlq,
			Values: map[string]any{
				payloadField:      payload,
				"original_msg_id": msg.ID,
				"failed_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
		ids = append(ids, msg.ID)
	}
	pipe.XAck(ctx, c.stream, c.group, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute dead-letter pipeline: %w", err)
	}
	c.logger.Warn("moved undecodable alerts to dead-letter stream", "count", len(msgs), "dlq", c.dlq)
	return nil
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
