package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsd/internal/capabilities"
	"shortsd/internal/capabilities/capabilitiestest"
)

func TestDeliverSendsInlineWhenUnderLimit(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	store := &capabilitiestest.ObjectStore{
		UploadFunc: func(ctx context.Context, path, folderID string) (capabilities.UploadResult, error) {
			t.Fatal("object store should not be used for small files")
			return capabilities.UploadResult{}, nil
		},
	}
	messenger := capabilitiestest.NewMessenger()
	tracker := NewTracker(store, messenger, clock, 1<<20)

	receipt, err := tracker.Deliver(context.Background(), "run-1", "final-reel.mp4", 1024, "")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, receipt.State)
	assert.Empty(t, receipt.ObjectURL)
	assert.Equal(t, []string{"final-reel.mp4"}, messenger.SentFiles)
}

func TestDeliverUploadsWhenOverLimit(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	store := &capabilitiestest.ObjectStore{}
	messenger := capabilitiestest.NewMessenger()
	tracker := NewTracker(store, messenger, clock, 100)

	receipt, err := tracker.Deliver(context.Background(), "run-1", "final-reel.mp4", 10_000, "folder-1")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, receipt.State)
	assert.NotEmpty(t, receipt.ObjectURL)
	assert.Empty(t, messenger.SentFiles)
	assert.Len(t, messenger.Notified, 1)
}

func TestDeliverFailsOnUploadError(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	boom := errors.New("bucket unreachable")
	store := &capabilitiestest.ObjectStore{
		UploadFunc: func(ctx context.Context, path, folderID string) (capabilities.UploadResult, error) {
			return capabilities.UploadResult{}, boom
		},
	}
	messenger := capabilitiestest.NewMessenger()
	tracker := NewTracker(store, messenger, clock, 100)

	receipt, err := tracker.Deliver(context.Background(), "run-1", "final-reel.mp4", 10_000, "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, receipt.State)
	assert.NotEmpty(t, receipt.Error)
	assert.False(t, receipt.CompletedAt.IsZero())
}

func TestDeliverFailsOnSendFileError(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	store := &capabilitiestest.ObjectStore{}
	messenger := &failingMessenger{}
	tracker := NewTracker(store, messenger, clock, 1<<20)

	receipt, err := tracker.Deliver(context.Background(), "run-1", "final-reel.mp4", 10, "")
	assert.Error(t, err)
	assert.Equal(t, StateFailed, receipt.State)
}

func TestStatusReturnsReceiptCopy(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	tracker := NewTracker(&capabilitiestest.ObjectStore{}, capabilitiestest.NewMessenger(), clock, 1<<20)

	_, ok := tracker.Status("missing")
	assert.False(t, ok)

	_, err := tracker.Deliver(context.Background(), "run-1", "final-reel.mp4", 10, "")
	require.NoError(t, err)

	status, ok := tracker.Status("run-1")
	require.True(t, ok)
	assert.Equal(t, StateDelivered, status.State)
}

type failingMessenger struct{}

func (failingMessenger) Ask(ctx context.Context, question string) (string, error) { return "", nil }
func (failingMessenger) Notify(ctx context.Context, message string) error         { return nil }
func (failingMessenger) SendFile(ctx context.Context, path string, caption string) error {
	return errors.New("send failed")
}
