package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQACritiqueValidateAcceptsWellFormedCritique(t *testing.T) {
	c := QACritique{Decision: QAPass, Score: 90, Confidence: 0.8}
	assert.NoError(t, c.Validate())
}

func TestQACritiqueValidateRejectsUnknownDecision(t *testing.T) {
	c := QACritique{Decision: QADecision("Unsure"), Score: 50, Confidence: 0.5}
	assert.ErrorIs(t, c.Validate(), ErrInvalidCritique)
}

func TestQACritiqueValidateRejectsOutOfRangeScore(t *testing.T) {
	c := QACritique{Decision: QAPass, Score: 101, Confidence: 0.5}
	assert.ErrorIs(t, c.Validate(), ErrInvalidCritique)

	c.Score = -1
	assert.ErrorIs(t, c.Validate(), ErrInvalidCritique)
}

func TestQACritiqueValidateRejectsOutOfRangeConfidence(t *testing.T) {
	c := QACritique{Decision: QAPass, Score: 50, Confidence: 1.5}
	assert.ErrorIs(t, c.Validate(), ErrInvalidCritique)

	c.Confidence = -0.1
	assert.ErrorIs(t, c.Validate(), ErrInvalidCritique)
}

func TestHasCriticalBlockerDetectsCriticalSeverity(t *testing.T) {
	c := QACritique{Blockers: []Blocker{{Severity: "minor"}, {Severity: "critical"}}}
	assert.True(t, c.HasCriticalBlocker())
}

func TestHasCriticalBlockerFalseWithoutCriticalSeverity(t *testing.T) {
	c := QACritique{Blockers: []Blocker{{Severity: "minor"}, {Severity: "major"}}}
	assert.False(t, c.HasCriticalBlocker())
}

func TestBlockerCountReflectsSliceLength(t *testing.T) {
	c := QACritique{Blockers: []Blocker{{}, {}, {}}}
	assert.Equal(t, 3, c.BlockerCount())
}
