// Package model defines the pipeline's data model: runs, stages, artifacts,
// and the small value types that flow between components. Types here carry
// no behavior beyond simple accessors — stages in particular are pure data,
// per spec.
package model

// Stage identifies one step of the fixed pipeline sequence.
type Stage string

const (
	StageRouter           Stage = "router"
	StageResearch         Stage = "research"
	StageTranscript       Stage = "transcript"
	StageContent          Stage = "content"
	StageLayoutDetective  Stage = "layout_detective"
	StageFFmpegEngineer   Stage = "ffmpeg_engineer"
	StageAssembly         Stage = "assembly"
	StageDelivery         Stage = "delivery"
)

// StageSequence is the fixed, ordered list of stages a run progresses through.
var StageSequence = []Stage{
	StageRouter,
	StageResearch,
	StageTranscript,
	StageContent,
	StageLayoutDetective,
	StageFFmpegEngineer,
	StageAssembly,
	StageDelivery,
}

// StageDone and StageFailed are sentinel values for RunState.CurrentStage
// once a run has left the stage sequence.
const (
	StageDone   Stage = "__done__"
	StageFailed Stage = "__failed__"
)

// Descriptor is the immutable, pure-data description of a stage: its input
// and output artifact names, QA criterion, timeout, and resumability.
type Descriptor struct {
	Stage          Stage
	InputNames     []string
	OutputNames    []string
	QACriterion    string
	Timeout        int64 // seconds
	Resumable      bool
	// QAFloor overrides reflection.DefaultFloor for this stage only. Nil
	// means "use the global floor" (see DESIGN.md Open Question #2).
	QAFloor *int
}

// Descriptors returns the immutable descriptor table for the fixed stage
// sequence, in order. Index i corresponds to StageSequence[i].
func Descriptors() []Descriptor {
	return []Descriptor{
		{
			Stage:       StageRouter,
			InputNames:  []string{"request"},
			OutputNames: []string{"router-output.json"},
			QACriterion: "router-routability",
			Timeout:     120,
			Resumable:   true,
		},
		{
			Stage:       StageResearch,
			InputNames:  []string{"router-output.json"},
			OutputNames: []string{"research-output.json"},
			QACriterion: "research-moment-selection",
			Timeout:     300,
			Resumable:   true,
		},
		{
			Stage:       StageTranscript,
			InputNames:  []string{"research-output.json"},
			OutputNames: []string{"transcript-output.json"},
			QACriterion: "transcript-coverage",
			Timeout:     300,
			Resumable:   true,
		},
		{
			Stage:       StageContent,
			InputNames:  []string{"transcript-output.json"},
			OutputNames: []string{"content-output.json"}, // + publishing-assets.json iff publishing_language set
			QACriterion: "content-quality",
			Timeout:     300,
			Resumable:   true,
		},
		{
			Stage:       StageLayoutDetective,
			InputNames:  []string{"content-output.json"},
			OutputNames: []string{"layout-detective-output.json"},
			QACriterion: "layout-crop-safety",
			Timeout:     300,
			Resumable:   true,
		},
		{
			Stage:       StageFFmpegEngineer,
			InputNames:  []string{"layout-detective-output.json"},
			OutputNames: []string{"encoding-plan.json"},
			QACriterion: "encoding-plan-validity",
			Timeout:     300,
			Resumable:   true,
		},
		{
			Stage:       StageAssembly,
			InputNames:  []string{"encoding-plan.json", "cutaway-manifest.json"},
			OutputNames: []string{"assembly-report.json", "final-reel.mp4"},
			QACriterion: "assembly-quality",
			Timeout:     600,
			Resumable:   true,
		},
		{
			Stage:       StageDelivery,
			InputNames:  []string{"assembly-report.json", "final-reel.mp4"},
			OutputNames: []string{"delivery-receipt.json"},
			QACriterion: "",
			Timeout:     300,
			Resumable:   true,
		},
	}
}

// Next returns the stage following s in StageSequence, or StageDone if s is
// the last stage. If s is not found in the sequence, Next returns StageFailed.
func Next(s Stage) Stage {
	for i, st := range StageSequence {
		if st == s {
			if i == len(StageSequence)-1 {
				return StageDone
			}
			return StageSequence[i+1]
		}
	}
	return StageFailed
}

// Index returns the position of s within StageSequence, or -1 if not found.
func Index(s Stage) int {
	for i, st := range StageSequence {
		if st == s {
			return i
		}
	}
	return -1
}
