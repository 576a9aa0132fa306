package framing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsd/internal/model"
)

func TestNewRejectsInvalidInitialStyle(t *testing.T) {
	_, err := New(Style("not_a_style"))
	assert.Error(t, err)
}

func TestNewStartsWithEmptyJournal(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)
	assert.Equal(t, StyleSolo, m.Current())
	assert.Empty(t, m.Journal())
}

func TestTransitionRecordsJournalEntry(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err = m.Transition(EventFaceCountIncrease, model.TransitionStyleChange, "two speakers detected", "split frame", at)
	require.NoError(t, err)

	assert.Equal(t, StyleDuoSplit, m.Current())
	journal := m.Journal()
	require.Len(t, journal, 1)
	assert.Equal(t, "solo", journal[0].FromState)
	assert.Equal(t, "duo_split", journal[0].ToState)
	assert.Equal(t, "two speakers detected", journal[0].Trigger)
	assert.Equal(t, "split frame", journal[0].Effect)
	assert.Equal(t, at, journal[0].Timestamp)
}

func TestTransitionWithNoMappedTargetIsNoOp(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	// solo has no screen_share_ended transition: nothing to end.
	err = m.Transition(EventScreenShareEnded, model.TransitionStyleChange, "reaffirm", "none", time.Now())
	require.NoError(t, err)
	assert.Empty(t, m.Journal())
	assert.Equal(t, StyleSolo, m.Current())
}

func TestTransitionRejectsUnknownEvent(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	err = m.Transition(Event("bogus_event"), model.TransitionStyleChange, "x", "y", time.Now())
	assert.Error(t, err)
	assert.Equal(t, StyleSolo, m.Current())
}

func TestPipRequestedIsTheOnlyRouteToDuoPiP(t *testing.T) {
	automaticEvents := []Event{
		EventFaceCountIncrease, EventFaceCountDecrease,
		EventScreenShareDetected, EventScreenShareEnded,
		EventCinematicRequested,
	}
	for _, from := range AllStyles {
		for _, ev := range automaticEvents {
			m, err := New(from)
			require.NoError(t, err)
			require.NoError(t, m.Transition(ev, model.TransitionStyleChange, "t", "e", time.Now()))
			for _, entry := range m.Journal() {
				assert.NotEqualf(t, string(StyleDuoPiP), entry.ToState, "event %s from %s must never reach duo_pip", ev, from)
			}
		}
	}

	for _, from := range []Style{StyleSolo, StyleDuoSplit} {
		m, err := New(from)
		require.NoError(t, err)
		require.NoError(t, m.Transition(EventPipRequested, model.TransitionStyleChange, "user requested pip", "pip frame", time.Now()))
		assert.Equal(t, StyleDuoPiP, m.Current())
	}
}

func TestCinematicRequestedIsTheOnlyRouteToCinematicSolo(t *testing.T) {
	automaticEvents := []Event{
		EventFaceCountIncrease, EventFaceCountDecrease,
		EventScreenShareDetected, EventScreenShareEnded,
		EventPipRequested,
	}
	for _, from := range AllStyles {
		for _, ev := range automaticEvents {
			m, err := New(from)
			require.NoError(t, err)
			require.NoError(t, m.Transition(ev, model.TransitionStyleChange, "t", "e", time.Now()))
			for _, entry := range m.Journal() {
				assert.NotEqualf(t, string(StyleCinematicSolo), entry.ToState, "event %s from %s must never reach cinematic_solo", ev, from)
			}
		}
	}

	for _, from := range []Style{StyleSolo, StyleDuoSplit, StyleDuoPiP, StyleScreenShare} {
		m, err := New(from)
		require.NoError(t, err)
		require.NoError(t, m.Transition(EventCinematicRequested, model.TransitionStyleChange, "user requested cinematic", "cinematic frame", time.Now()))
		assert.Equal(t, StyleCinematicSolo, m.Current())
	}
}

func TestScreenShareDetectedThenEndedReturnsToSolo(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	require.NoError(t, m.Transition(EventScreenShareDetected, model.TransitionStyleChange, "share started", "screen frame", time.Now()))
	assert.Equal(t, StyleScreenShare, m.Current())

	require.NoError(t, m.Transition(EventScreenShareEnded, model.TransitionStyleChange, "share ended", "solo frame", time.Now()))
	assert.Equal(t, StyleSolo, m.Current())
}

func TestFaceCountIncreaseThenDecreaseRoundTrips(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	require.NoError(t, m.Transition(EventFaceCountIncrease, model.TransitionStyleChange, "second speaker", "split frame", time.Now()))
	assert.Equal(t, StyleDuoSplit, m.Current())

	require.NoError(t, m.Transition(EventFaceCountDecrease, model.TransitionStyleChange, "speaker left", "solo frame", time.Now()))
	assert.Equal(t, StyleSolo, m.Current())
}

func TestJournalIsACopyNotALiveView(t *testing.T) {
	m, err := New(StyleSolo)
	require.NoError(t, err)

	require.NoError(t, m.Transition(EventPipRequested, model.TransitionNarrativeBoundary, "t", "e", time.Now()))
	journal := m.Journal()
	journal[0].Trigger = "mutated"

	assert.Equal(t, "t", m.Journal()[0].Trigger)
}
