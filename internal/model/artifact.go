package model

import "time"

// ArtifactKind enumerates the four artifact shapes named in spec §3.
type ArtifactKind string

const (
	ArtifactStructured ArtifactKind = "structured"
	ArtifactBinaryMedia ArtifactKind = "binary_media"
	ArtifactJournal    ArtifactKind = "journal"
	ArtifactCheckpoint ArtifactKind = "checkpoint"
)

// Artifact is a named, content-addressed output of a stage.
type Artifact struct {
	Name      string
	Kind      ArtifactKind
	Stage     Stage
	Path      string
	SHA256    string
	WrittenAt time.Time
}

// QADecision is the closed set of outcomes a critique may report.
type QADecision string

const (
	QAPass   QADecision = "Pass"
	QARework QADecision = "Rework"
	QAFail   QADecision = "Fail"
)

// Blocker is one specific issue raised by a critique.
type Blocker struct {
	Severity    string `json:"severity"` // e.g. "critical", "major", "minor"
	Description string `json:"description"`
}

// QACritique is the bounded, schema-validated result of one reflection round
// (§3). Every critique must round-trip through schema validation; malformed
// critiques are execution errors, never silently coerced into Fail.
type QACritique struct {
	Decision          QADecision `json:"decision"`
	Score             int        `json:"score"` // [0,100]
	Confidence        float64    `json:"confidence"` // [0,1]
	Blockers          []Blocker  `json:"blockers"`
	PrescriptiveFixes []string   `json:"prescriptive_fixes"`
	ModelUsed         string     `json:"model_used"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Validate checks the critique's schema-level invariants: Decision must be
// one of the three literals, Score bounded, Confidence bounded.
func (c QACritique) Validate() error {
	switch c.Decision {
	case QAPass, QARework, QAFail:
	default:
		return ErrInvalidCritique
	}
	if c.Score < 0 || c.Score > 100 {
		return ErrInvalidCritique
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return ErrInvalidCritique
	}
	return nil
}

// HasCriticalBlocker reports whether any blocker is of "critical" severity.
func (c QACritique) HasCriticalBlocker() bool {
	for _, b := range c.Blockers {
		if b.Severity == "critical" {
			return true
		}
	}
	return false
}

// BlockerCount returns the number of blockers, used as the tiebreak key in
// best-of-three selection.
func (c QACritique) BlockerCount() int {
	return len(c.Blockers)
}
