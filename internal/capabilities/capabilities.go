// Package capabilities defines the narrow external-collaborator interfaces
// of spec §6.1. Implementations (the actual agent backend, the Telegram
// wire format, yt-dlp, ffmpeg, …) are out of scope for this repository —
// only the interfaces and a handful of trivial, genuinely-local adapters
// (a real clock, a console messenger) live here.
package capabilities

import (
	"context"
	"time"

	"shortsd/internal/model"
)

// AgentRequest is the input to one AgentBackend.Run/Resume call.
type AgentRequest struct {
	Stage   model.Stage
	Inputs  map[string]model.Artifact
	Prompt  string
	Timeout time.Duration
}

// AgentResult is the output of one AgentBackend call.
type AgentResult struct {
	Session  model.SessionHandle
	RawBlob  []byte
	Parsed   map[string]any
	Metadata map[string]string
}

// AgentBackend runs or resumes a conversation with the underlying AI agent.
// Implementations must be idempotent for identical (request, session) pairs.
// Timeouts must surface as a *errtax.Error with Class Transient. There is
// deliberately no "continue most recent" method — resume always takes an
// explicit handle (DESIGN.md Open Question #3).
type AgentBackend interface {
	Run(ctx context.Context, req AgentRequest) (AgentResult, error)
	Resume(ctx context.Context, session model.SessionHandle, req AgentRequest) (AgentResult, error)
}

// ModelDispatcher routes QA/review/consensus work to one or more models.
type ModelDispatcher interface {
	DispatchQA(ctx context.Context, artifact model.Artifact, requirements string, history []model.QACritique) (model.QACritique, error)
	DispatchReview(ctx context.Context, diff string, standards string) (model.QACritique, error)
	Consensus(ctx context.Context, models []string, task string) (model.QACritique, error)
}

// Messenger is the elicitation and notification primitive.
type Messenger interface {
	// Ask blocks until the human replies, or ctx is cancelled.
	Ask(ctx context.Context, question string) (string, error)
	Notify(ctx context.Context, message string) error
	SendFile(ctx context.Context, path string, caption string) error
}

// MediaInfo is the result of probing a media file.
type MediaInfo struct {
	Width, Height int
	DurationSec   float64
	CodecVideo    string
	CodecAudio    string
	SizeBytes     int64
}

// SegmentArtifact is one concrete media segment produced by executing a plan.
type SegmentArtifact struct {
	Path        string
	Index       int
	DurationSec float64
}

// FinalMedia is the result of assembling or overlaying segments.
type FinalMedia struct {
	Path        string
	Width       int
	Height      int
	DurationSec float64
}

// EncodingPlan is the declarative plan produced by the FFmpegEngineer stage
// and executed by the media processor between stages 6 and 7.
type EncodingPlan struct {
	Operations []EncodingOp
}

// EncodingOp is one declarative operation within an EncodingPlan: crop,
// scale, graph-filter, or encode parameters.
type EncodingOp struct {
	Kind   string // "crop" | "scale" | "filter" | "encode"
	Params map[string]string
}

// CutawayManifest is the merged, overlap-resolved list of cutaway clips
// built by hooks.BuildCutawayManifest.
type CutawayManifest struct {
	Clips []CutawayClip
}

// CutawayClip is one resolved cutaway clip entry.
type CutawayClip struct {
	Source     string // "user_provided" | "ai_generated" | "content_suggested"
	Path       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// MediaProcessor performs the actual video/audio work. The agent's
// responsibility stops at producing the plan; this capability executes it.
type MediaProcessor interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
	ExecutePlan(ctx context.Context, plan EncodingPlan) ([]SegmentArtifact, error)
	Assemble(ctx context.Context, segments []SegmentArtifact, transitions []model.StyleTransition) (FinalMedia, error)
	Overlay(ctx context.Context, media FinalMedia, manifest CutawayManifest) (FinalMedia, error)
}

// MediaMetadata describes a downloaded source.
type MediaMetadata struct {
	Path        string
	DurationSec float64
	Title       string
}

// MediaDownloader fetches source media (e.g. via yt-dlp) with retries.
type MediaDownloader interface {
	Download(ctx context.Context, url string, destination string) (MediaMetadata, error)
}

// UploadResult is returned by ObjectStore.Upload.
type UploadResult struct {
	URL       string
	SizeBytes int64
}

// ObjectStore uploads large deliverables that exceed the messenger's inline
// file size limit.
type ObjectStore interface {
	Upload(ctx context.Context, path string, folderID string) (UploadResult, error)
}

// Clock isolates monotonic/wall time for testability, mirroring the
// teacher's scheduler.TimeProvider pattern.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// ResourceSnapshot is one point-in-time reading from a ResourceProbe.
type ResourceSnapshot struct {
	AvailableMemoryBytes int64
	CPUPercent           float64
	ThermalOK            bool
}

// ResourceProbe is polled before heavy operations to decide whether to defer.
type ResourceProbe interface {
	Sample(ctx context.Context) (ResourceSnapshot, error)
}
