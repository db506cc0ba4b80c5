package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/domain/mocks"
)

func streamed(id int64, msgID string) domain.StreamedAlert {
	return domain.StreamedAlert{MessageID: msgID, Alert: domain.Alert{ID: id, Type: domain.AlertHighCPU}}
}

func TestNotifyAlertsUseCase_ProcessBatch(t *testing.T) {
	t.Run("delivers stale then fresh and acks", func(t *testing.T) {
		source := &mocks.MockAlertSource{
			Stale:   []domain.StreamedAlert{streamed(1, "1-0")},
			Pending: []domain.StreamedAlert{streamed(2, "2-0"), streamed(3, "3-0")},
		}
		n := &mocks.MockNotifier{}
		uc := NewNotifyAlertsUseCase(source, n, discardLogger())

		count, err := uc.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Equal(t, []string{"1-0", "2-0", "3-0"}, source.Acked)
		require.Len(t, n.Delivered, 3)
		assert.Equal(t, int64(1), n.Delivered[0].ID)
	})

	t.Run("empty stream", func(t *testing.T) {
		uc := NewNotifyAlertsUseCase(&mocks.MockAlertSource{}, &mocks.MockNotifier{}, discardLogger())
		count, err := uc.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("failed delivery stays pending", func(t *testing.T) {
		source := &mocks.MockAlertSource{Pending: []domain.StreamedAlert{streamed(1, "1-0"), streamed(2, "2-0")}}
		n := &mocks.MockNotifier{FailFor: map[int64]error{1: errors.New("tty gone")}}
		uc := NewNotifyAlertsUseCase(source, n, discardLogger())
		uc.retryBackoff = time.Millisecond

		count, err := uc.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []string{"2-0"}, source.Acked)
		assert.Equal(t, defaultRetryCount+1, n.Attempts)
	})

	t.Run("read error", func(t *testing.T) {
		source := &mocks.MockAlertSource{ReadErr: errors.New("redis down"), ClaimErr: errors.New("redis down")}
		uc := NewNotifyAlertsUseCase(source, &mocks.MockNotifier{}, discardLogger())
		_, err := uc.ProcessBatch(context.Background())
		assert.Error(t, err)
	})

	t.Run("ack error", func(t *testing.T) {
		source := &mocks.MockAlertSource{Pending: []domain.StreamedAlert{streamed(1, "1-0")}, AckErr: errors.New("ack failed")}
		uc := NewNotifyAlertsUseCase(source, &mocks.MockNotifier{}, discardLogger())
		_, err := uc.ProcessBatch(context.Background())
		assert.Error(t, err)
	})
}
