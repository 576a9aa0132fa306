// Package framing implements the framing style state machine (§4.6): a
// small, pure-data finite automaton over the five camera-framing styles, plus
// the style transition journal entries recorded whenever the active style
// changes mid-run.
package framing

import (
	"fmt"
	"time"

	"shortsd/internal/model"
)

// Style is one of the five framing styles a run's Assembly stage may select
// between segments.
type Style string

const (
	StyleSolo         Style = "solo"
	StyleDuoSplit     Style = "duo_split"
	StyleDuoPiP       Style = "duo_pip"
	StyleScreenShare  Style = "screen_share"
	StyleCinematicSolo Style = "cinematic_solo"
)

// AllStyles lists every valid style, in the order they are presented for
// selection.
var AllStyles = []Style{StyleSolo, StyleDuoSplit, StyleDuoPiP, StyleScreenShare, StyleCinematicSolo}

func validStyle(s Style) bool {
	for _, v := range AllStyles {
		if v == s {
			return true
		}
	}
	return false
}

// Event is one of the six per-segment signals that can drive a framing
// transition. face_count_* and screen_share_* are automatic, derived from
// the segment data itself; pip_requested and cinematic_requested are the
// only events that originate from an explicit user request.
type Event string

const (
	EventFaceCountIncrease   Event = "face_count_increase"
	EventFaceCountDecrease   Event = "face_count_decrease"
	EventScreenShareDetected Event = "screen_share_detected"
	EventScreenShareEnded    Event = "screen_share_ended"
	EventPipRequested        Event = "pip_requested"
	EventCinematicRequested  Event = "cinematic_requested"
)

var allEvents = []Event{
	EventFaceCountIncrease, EventFaceCountDecrease,
	EventScreenShareDetected, EventScreenShareEnded,
	EventPipRequested, EventCinematicRequested,
}

func validEvent(e Event) bool {
	for _, v := range allEvents {
		if v == e {
			return true
		}
	}
	return false
}

// transitions is the guarded transition table: transitions[from][event] = to.
// An event with no entry for the current style is a no-op: the segment data
// didn't call for a change from here. duo_pip and cinematic_solo appear only
// as targets of pip_requested/cinematic_requested — no automatic signal ever
// routes there, per §4.6's "unreachable except by explicit user request"
// invariant.
var transitions = map[Style]map[Event]Style{
	StyleSolo: {
		EventFaceCountIncrease:   StyleDuoSplit,
		EventScreenShareDetected: StyleScreenShare,
		EventPipRequested:        StyleDuoPiP,
		EventCinematicRequested:  StyleCinematicSolo,
	},
	StyleDuoSplit: {
		EventFaceCountDecrease:   StyleSolo,
		EventScreenShareDetected: StyleScreenShare,
		EventPipRequested:        StyleDuoPiP,
		EventCinematicRequested:  StyleCinematicSolo,
	},
	StyleDuoPiP: {
		EventFaceCountDecrease:   StyleSolo,
		EventScreenShareDetected: StyleScreenShare,
		EventCinematicRequested:  StyleCinematicSolo,
	},
	StyleScreenShare: {
		EventScreenShareEnded:   StyleSolo,
		EventCinematicRequested: StyleCinematicSolo,
	},
	StyleCinematicSolo: {
		EventFaceCountIncrease:   StyleDuoSplit,
		EventScreenShareDetected: StyleScreenShare,
	},
}

// Machine tracks the single currently-active framing style for a run's
// Assembly stage and the immutable journal of every transition made.
type Machine struct {
	current Style
	journal []model.StyleTransition
}

// New creates a Machine starting in the given style. The initial style is
// not itself journaled — the journal records only changes.
func New(initial Style) (*Machine, error) {
	if !validStyle(initial) {
		return nil, fmt.Errorf("framing: invalid initial style %q", initial)
	}
	return &Machine{current: initial}, nil
}

// Current returns the active style.
func (m *Machine) Current() Style { return m.current }

// Journal returns a copy of the recorded transitions, in order.
func (m *Machine) Journal() []model.StyleTransition {
	out := make([]model.StyleTransition, len(m.journal))
	copy(out, m.journal)
	return out
}

// Transition applies event to the machine, looking up its target style for
// the current state in the guarded table and recording a journal entry of
// the given kind at the given time if the style actually changes. trigger
// names what prompted the change (e.g. "two speakers detected"); effect
// describes the resulting framing behavior. An event with no mapped target
// for the current style — including an event that would only reaffirm the
// current style — is a no-op: no journal entry is written and no error is
// returned.
func (m *Machine) Transition(event Event, kind model.StyleTransitionKind, trigger, effect string, at time.Time) error {
	if !validEvent(event) {
		return fmt.Errorf("framing: invalid event %q", event)
	}

	to, ok := transitions[m.current][event]
	if !ok || to == m.current {
		return nil
	}

	m.journal = append(m.journal, model.StyleTransition{
		Timestamp: at,
		FromState: string(m.current),
		ToState:   string(to),
		Trigger:   trigger,
		Effect:    effect,
		Kind:      kind,
	})
	m.current = to
	return nil
}
