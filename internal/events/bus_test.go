package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsd/internal/model"
)

func TestSubscribeReceivesOnlyMatchingKind(t *testing.T) {
	bus := New()
	var gotEntered, gotCompleted int
	bus.Subscribe(model.EventStageEntered, SubscriberFunc(func(evt model.PipelineEvent) error {
		gotEntered++
		return nil
	}))
	bus.Subscribe(model.EventStageCompleted, SubscriberFunc(func(evt model.PipelineEvent) error {
		gotCompleted++
		return nil
	}))

	bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})
	assert.Equal(t, 1, gotEntered)
	assert.Equal(t, 0, gotCompleted)
}

func TestSubscribeAllReceivesEveryKind(t *testing.T) {
	bus := New()
	var kinds []model.EventKind
	bus.SubscribeAll(SubscriberFunc(func(evt model.PipelineEvent) error {
		kinds = append(kinds, evt.Kind)
		return nil
	}))

	bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})
	bus.Publish(model.PipelineEvent{Kind: model.EventDelivered})
	assert.Equal(t, []model.EventKind{model.EventStageEntered, model.EventDelivered}, kinds)
}

func TestPublishAssignsMonotonicEventIDs(t *testing.T) {
	bus := New()
	first := bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})
	second := bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})

	assert.Equal(t, int64(1), first.EventID)
	assert.Equal(t, int64(2), second.EventID)
	assert.Equal(t, int64(2), bus.LastEventID())
}

func TestPublishContinuesDispatchAfterSubscriberError(t *testing.T) {
	bus := New()
	var secondCalled bool
	bus.SubscribeAll(SubscriberFunc(func(evt model.PipelineEvent) error {
		return errors.New("boom")
	}))
	bus.SubscribeAll(SubscriberFunc(func(evt model.PipelineEvent) error {
		secondCalled = true
		return nil
	}))

	bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})
	assert.True(t, secondCalled)
}

func TestPublishContinuesDispatchAfterSubscriberPanic(t *testing.T) {
	bus := New()
	var secondCalled bool
	bus.SubscribeAll(SubscriberFunc(func(evt model.PipelineEvent) error {
		panic("unexpected")
	}))
	bus.SubscribeAll(SubscriberFunc(func(evt model.PipelineEvent) error {
		secondCalled = true
		return nil
	}))

	require.NotPanics(t, func() {
		bus.Publish(model.PipelineEvent{Kind: model.EventStageEntered})
	})
	assert.True(t, secondCalled)
}
