package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsd/internal/capabilities"
	"shortsd/internal/capabilities/capabilitiestest"
)

func TestFireAsyncAssetGenPacesSuccessiveSubmissions(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	delay := 30 * time.Millisecond
	s := New(clock, delay)

	start := time.Now()
	s.FireAsyncAssetGen(context.Background(), "run-1", "a", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
	s.FireAsyncAssetGen(context.Background(), "run-1", "b", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, delay)
	s.AwaitAsyncAssetGen(context.Background(), "run-1")
}

func TestFireAsyncAssetGenSkipsPacingWhenDelayIsZero(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)

	start := time.Now()
	s.FireAsyncAssetGen(context.Background(), "run-1", "a", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
	s.FireAsyncAssetGen(context.Background(), "run-1", "b", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 20*time.Millisecond)
	s.AwaitAsyncAssetGen(context.Background(), "run-1")
}

func TestFireAndAwaitAsyncAssetGenJoinsResult(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)

	s.FireAsyncAssetGen(context.Background(), "run-1", "intro-clip", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{Path: "intro.mp4", Title: "intro"}, nil
	})

	results := s.AwaitAsyncAssetGen(context.Background(), "run-1")
	require.Len(t, results, 1)
	assert.Equal(t, "intro-clip", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "intro.mp4", results[0].Media.Path)
}

func TestAwaitAsyncAssetGenCollectsPerTaskErrors(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)
	boom := errors.New("download failed")

	s.FireAsyncAssetGen(context.Background(), "run-1", "ok-clip", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{Path: "ok.mp4"}, nil
	})
	s.FireAsyncAssetGen(context.Background(), "run-1", "bad-clip", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, boom
	})

	results := s.AwaitAsyncAssetGen(context.Background(), "run-1")
	require.Len(t, results, 2)

	byName := map[string]AwaitResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.NoError(t, byName["ok-clip"].Err)
	assert.ErrorIs(t, byName["bad-clip"].Err, boom)
}

func TestAwaitAsyncAssetGenRecoversPanics(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)

	s.FireAsyncAssetGen(context.Background(), "run-1", "panics", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		panic("unexpected")
	})

	results := s.AwaitAsyncAssetGen(context.Background(), "run-1")
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestAwaitAsyncAssetGenRespectsContextCancellation(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)
	release := make(chan struct{})

	s.FireAsyncAssetGen(context.Background(), "run-1", "slow", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		<-release
		return capabilities.MediaMetadata{}, nil
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.AwaitAsyncAssetGen(ctx, "run-1")
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestAwaitAsyncAssetGenClearsRegistry(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)

	s.FireAsyncAssetGen(context.Background(), "run-1", "a", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
	s.AwaitAsyncAssetGen(context.Background(), "run-1")

	results := s.AwaitAsyncAssetGen(context.Background(), "run-1")
	assert.Empty(t, results)
}

func TestCancelPendingDropsWithoutWaiting(t *testing.T) {
	clock := capabilitiestest.NewClock(time.Now())
	s := New(clock, 0)
	release := make(chan struct{})

	s.FireAsyncAssetGen(context.Background(), "run-1", "slow", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		<-release
		return capabilities.MediaMetadata{}, nil
	})
	defer close(release)

	s.CancelPending("run-1")
	results := s.AwaitAsyncAssetGen(context.Background(), "run-1")
	assert.Empty(t, results)
}

func clip(source string, start, end, confidence float64) capabilities.CutawayClip {
	return capabilities.CutawayClip{Source: source, StartSec: start, EndSec: end, Confidence: confidence}
}

func TestBuildCutawayManifestEmptyInput(t *testing.T) {
	manifest := BuildCutawayManifest(nil)
	assert.Empty(t, manifest.Clips)
}

func TestBuildCutawayManifestKeepsDisjointClips(t *testing.T) {
	manifest := BuildCutawayManifest([]capabilities.CutawayClip{
		clip("user_provided", 0, 5, 0.9),
		clip("ai_generated", 10, 15, 0.5),
	})
	require.Len(t, manifest.Clips, 2)
	assert.Equal(t, 0.0, manifest.Clips[0].StartSec)
	assert.Equal(t, 10.0, manifest.Clips[1].StartSec)
}

func TestBuildCutawayManifestMergesOverlapKeepingHigherConfidence(t *testing.T) {
	manifest := BuildCutawayManifest([]capabilities.CutawayClip{
		clip("content_suggested", 0, 6, 0.3),
		clip("ai_generated", 4, 10, 0.8),
	})
	require.Len(t, manifest.Clips, 1)
	assert.Equal(t, 0.0, manifest.Clips[0].StartSec)
	assert.Equal(t, 10.0, manifest.Clips[0].EndSec)
	assert.Equal(t, 0.8, manifest.Clips[0].Confidence)
	assert.Equal(t, "ai_generated", manifest.Clips[0].Source)
}

func TestBuildCutawayManifestUnsortedInputIsSortedFirst(t *testing.T) {
	manifest := BuildCutawayManifest([]capabilities.CutawayClip{
		clip("ai_generated", 20, 25, 0.5),
		clip("user_provided", 0, 5, 0.9),
	})
	require.Len(t, manifest.Clips, 2)
	assert.Equal(t, 0.0, manifest.Clips[0].StartSec)
	assert.Equal(t, 20.0, manifest.Clips[1].StartSec)
}

func TestExecuteEncodingPlanDelegatesToProcessor(t *testing.T) {
	processor := &capabilitiestest.MediaProcessor{}
	segments, err := ExecuteEncodingPlan(context.Background(), processor, capabilities.EncodingPlan{})
	require.NoError(t, err)
	assert.NotEmpty(t, segments)
}

func TestExecuteEncodingPlanWrapsError(t *testing.T) {
	boom := errors.New("ffmpeg exploded")
	processor := &capabilitiestest.MediaProcessor{
		ExecutePlanFunc: func(ctx context.Context, plan capabilities.EncodingPlan) ([]capabilities.SegmentArtifact, error) {
			return nil, boom
		},
	}
	_, err := ExecuteEncodingPlan(context.Background(), processor, capabilities.EncodingPlan{})
	assert.ErrorIs(t, err, boom)
}

func TestStampFormatsStageAndName(t *testing.T) {
	assert.Equal(t, "content:publish-prep", Stamp("content", "publish-prep"))
}
