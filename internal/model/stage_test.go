package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextAdvancesThroughSequence(t *testing.T) {
	assert.Equal(t, StageResearch, Next(StageRouter))
	assert.Equal(t, StageDelivery, Next(StageAssembly))
}

func TestNextReturnsDoneAfterLastStage(t *testing.T) {
	assert.Equal(t, StageDone, Next(StageDelivery))
}

func TestNextReturnsFailedForUnknownStage(t *testing.T) {
	assert.Equal(t, StageFailed, Next(Stage("bogus")))
}

func TestIndexFindsEachStageInOrder(t *testing.T) {
	for i, st := range StageSequence {
		assert.Equal(t, i, Index(st))
	}
}

func TestIndexReturnsMinusOneForUnknownStage(t *testing.T) {
	assert.Equal(t, -1, Index(Stage("bogus")))
}

func TestDescriptorsCoverEveryStageInOrder(t *testing.T) {
	descs := Descriptors()
	assert.Len(t, descs, len(StageSequence))
	for i, d := range descs {
		assert.Equal(t, StageSequence[i], d.Stage)
	}
}
