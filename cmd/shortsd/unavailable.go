package main

import (
	"context"

	"shortsd/internal/capabilities"
	"shortsd/internal/errtax"
	"shortsd/internal/model"
)

// unavailableBackend and the other unavailable* types in this file implement
// the external-collaborator capabilities by reporting CapabilityUnavailable;
// alwaysOKProbe, by contrast, always reports a healthy resource snapshot.
// This repository ships the pipeline orchestration, not the AI agent, media
// tooling, or messaging adapters themselves — those are injected by the
// deployment rather than vendored into the server binary. Wiring these stubs
// as the defaults lets shortsd start, accept work, and exercise the full
// recovery chain up through escalation even with no real backend configured.
type unavailableBackend struct{}

func (unavailableBackend) Run(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
	return capabilities.AgentResult{}, errtax.NewTool(errtax.CapabilityUnavailable, string(req.Stage), errUnconfigured)
}

func (unavailableBackend) Resume(ctx context.Context, session model.SessionHandle, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
	return capabilities.AgentResult{}, errtax.NewTool(errtax.CapabilityUnavailable, string(req.Stage), errUnconfigured)
}

type unavailableDispatcher struct{}

func (unavailableDispatcher) DispatchQA(ctx context.Context, artifact model.Artifact, requirements string, history []model.QACritique) (model.QACritique, error) {
	return model.QACritique{}, errtax.NewTool(errtax.CapabilityUnavailable, string(artifact.Stage), errUnconfigured)
}

func (unavailableDispatcher) DispatchReview(ctx context.Context, diff string, standards string) (model.QACritique, error) {
	return model.QACritique{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

func (unavailableDispatcher) Consensus(ctx context.Context, models []string, task string) (model.QACritique, error) {
	return model.QACritique{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

type unavailableMediaProcessor struct{}

func (unavailableMediaProcessor) Probe(ctx context.Context, path string) (capabilities.MediaInfo, error) {
	return capabilities.MediaInfo{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

func (unavailableMediaProcessor) ExecutePlan(ctx context.Context, plan capabilities.EncodingPlan) ([]capabilities.SegmentArtifact, error) {
	return nil, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

func (unavailableMediaProcessor) Assemble(ctx context.Context, segments []capabilities.SegmentArtifact, transitions []model.StyleTransition) (capabilities.FinalMedia, error) {
	return capabilities.FinalMedia{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

func (unavailableMediaProcessor) Overlay(ctx context.Context, media capabilities.FinalMedia, manifest capabilities.CutawayManifest) (capabilities.FinalMedia, error) {
	return capabilities.FinalMedia{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

type unavailableDownloader struct{}

func (unavailableDownloader) Download(ctx context.Context, url string, destination string) (capabilities.MediaMetadata, error) {
	return capabilities.MediaMetadata{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

type unavailableObjectStore struct{}

func (unavailableObjectStore) Upload(ctx context.Context, path string, folderID string) (capabilities.UploadResult, error) {
	return capabilities.UploadResult{}, errtax.NewTool(errtax.CapabilityUnavailable, "", errUnconfigured)
}

type alwaysOKProbe struct{}

func (alwaysOKProbe) Sample(ctx context.Context) (capabilities.ResourceSnapshot, error) {
	return capabilities.ResourceSnapshot{AvailableMemoryBytes: 1 << 31, CPUPercent: 10, ThermalOK: true}, nil
}

var errUnconfigured = errUnconfiguredType{}

type errUnconfiguredType struct{}

func (errUnconfiguredType) Error() string {
	return "no backend configured for this capability; inject a real implementation at deployment time"
}
