// Package capabilitiestest provides fake implementations of every interface
// in internal/capabilities, for use across package tests. This mirrors the
// teacher's in-package fakes (e.g. ingest_test.go's fakeTransport) lifted to
// a shared location since many packages need the same fakes.
package capabilitiestest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shortsd/internal/capabilities"
	"shortsd/internal/model"
)

// Clock is a controllable fake clock, identical in shape to the teacher's
// tests/scheduler_test.go mockClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at the given time.
func NewClock(now time.Time) *Clock { return &Clock{now: now} }

// Now returns the fake's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AgentBackend is a scriptable fake satisfying capabilities.AgentBackend.
type AgentBackend struct {
	mu        sync.Mutex
	RunFunc   func(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error)
	ResumeFunc func(ctx context.Context, session model.SessionHandle, req capabilities.AgentRequest) (capabilities.AgentResult, error)
	RunCalls  int
}

func (f *AgentBackend) Run(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
	f.mu.Lock()
	f.RunCalls++
	f.mu.Unlock()
	if f.RunFunc != nil {
		return f.RunFunc(ctx, req)
	}
	return capabilities.AgentResult{
		Session: model.SessionHandle{Stage: req.Stage, Token: "fake-session", CreatedAt: time.Now()},
		Parsed:  map[string]any{},
	}, nil
}

func (f *AgentBackend) Resume(ctx context.Context, session model.SessionHandle, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
	if f.ResumeFunc != nil {
		return f.ResumeFunc(ctx, session, req)
	}
	return capabilities.AgentResult{Session: session, Parsed: map[string]any{}}, nil
}

// ModelDispatcher is a scriptable fake satisfying capabilities.ModelDispatcher.
// Critiques returns a queue of canned critiques in order, one per call,
// repeating the last entry once the queue is exhausted.
type ModelDispatcher struct {
	mu        sync.Mutex
	Critiques []model.QACritique
	calls     int
}

func NewModelDispatcher(critiques ...model.QACritique) *ModelDispatcher {
	return &ModelDispatcher{Critiques: critiques}
}

func (f *ModelDispatcher) DispatchQA(ctx context.Context, artifact model.Artifact, requirements string, history []model.QACritique) (model.QACritique, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Critiques) == 0 {
		return model.QACritique{}, fmt.Errorf("capabilitiestest: no critiques queued")
	}
	idx := f.calls
	if idx >= len(f.Critiques) {
		idx = len(f.Critiques) - 1
	}
	f.calls++
	return f.Critiques[idx], nil
}

func (f *ModelDispatcher) DispatchReview(ctx context.Context, diff string, standards string) (model.QACritique, error) {
	return model.QACritique{Decision: model.QAPass, Score: 100}, nil
}

func (f *ModelDispatcher) Consensus(ctx context.Context, models []string, task string) (model.QACritique, error) {
	return model.QACritique{Decision: model.QAPass, Score: 100}, nil
}

// Messenger is a recording fake satisfying capabilities.Messenger.
type Messenger struct {
	mu        sync.Mutex
	Answers   []string
	Notified  []string
	SentFiles []string
	askCalls  int
}

func NewMessenger(answers ...string) *Messenger {
	return &Messenger{Answers: answers}
}

func (f *Messenger) Ask(ctx context.Context, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.askCalls >= len(f.Answers) {
		return "", nil
	}
	a := f.Answers[f.askCalls]
	f.askCalls++
	return a, nil
}

func (f *Messenger) Notify(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notified = append(f.Notified, message)
	return nil
}

func (f *Messenger) SendFile(ctx context.Context, path string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentFiles = append(f.SentFiles, path)
	return nil
}

// MediaProcessor is a scriptable fake satisfying capabilities.MediaProcessor.
type MediaProcessor struct {
	ProbeFunc       func(ctx context.Context, path string) (capabilities.MediaInfo, error)
	ExecutePlanFunc func(ctx context.Context, plan capabilities.EncodingPlan) ([]capabilities.SegmentArtifact, error)
	AssembleFunc    func(ctx context.Context, segments []capabilities.SegmentArtifact, transitions []model.StyleTransition) (capabilities.FinalMedia, error)
	OverlayFunc     func(ctx context.Context, media capabilities.FinalMedia, manifest capabilities.CutawayManifest) (capabilities.FinalMedia, error)
}

func (f *MediaProcessor) Probe(ctx context.Context, path string) (capabilities.MediaInfo, error) {
	if f.ProbeFunc != nil {
		return f.ProbeFunc(ctx, path)
	}
	return capabilities.MediaInfo{Width: 1080, Height: 1920}, nil
}

func (f *MediaProcessor) ExecutePlan(ctx context.Context, plan capabilities.EncodingPlan) ([]capabilities.SegmentArtifact, error) {
	if f.ExecutePlanFunc != nil {
		return f.ExecutePlanFunc(ctx, plan)
	}
	return []capabilities.SegmentArtifact{{Path: "segment-000.mp4", Index: 0, DurationSec: 30}}, nil
}

func (f *MediaProcessor) Assemble(ctx context.Context, segments []capabilities.SegmentArtifact, transitions []model.StyleTransition) (capabilities.FinalMedia, error) {
	if f.AssembleFunc != nil {
		return f.AssembleFunc(ctx, segments, transitions)
	}
	return capabilities.FinalMedia{Path: "final-reel.mp4", Width: 1080, Height: 1920}, nil
}

func (f *MediaProcessor) Overlay(ctx context.Context, media capabilities.FinalMedia, manifest capabilities.CutawayManifest) (capabilities.FinalMedia, error) {
	if f.OverlayFunc != nil {
		return f.OverlayFunc(ctx, media, manifest)
	}
	return media, nil
}

// MediaDownloader is a scriptable fake satisfying capabilities.MediaDownloader.
type MediaDownloader struct {
	DownloadFunc func(ctx context.Context, url, destination string) (capabilities.MediaMetadata, error)
}

func (f *MediaDownloader) Download(ctx context.Context, url, destination string) (capabilities.MediaMetadata, error) {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, url, destination)
	}
	return capabilities.MediaMetadata{Path: destination, DurationSec: 600}, nil
}

// ObjectStore is a scriptable fake satisfying capabilities.ObjectStore.
type ObjectStore struct {
	UploadFunc func(ctx context.Context, path, folderID string) (capabilities.UploadResult, error)
}

func (f *ObjectStore) Upload(ctx context.Context, path, folderID string) (capabilities.UploadResult, error) {
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, path, folderID)
	}
	return capabilities.UploadResult{URL: "https://store.example/" + path, SizeBytes: 1024}, nil
}

// ResourceProbe is a scriptable fake satisfying capabilities.ResourceProbe.
type ResourceProbe struct {
	SampleFunc func(ctx context.Context) (capabilities.ResourceSnapshot, error)
}

func (f *ResourceProbe) Sample(ctx context.Context) (capabilities.ResourceSnapshot, error) {
	if f.SampleFunc != nil {
		return f.SampleFunc(ctx)
	}
	return capabilities.ResourceSnapshot{AvailableMemoryBytes: 2 << 30, CPUPercent: 10, ThermalOK: true}, nil
}
