package variant

import (
	"testing"

	"github.com/bitriver/livepipe/pkg/types"
)

func sourceInfo() types.IngressInfo {
	return types.IngressInfo{Streams: []types.SourceStream{
		{Index: 0, Kind: types.TrackVideo, Width: 1920, Height: 1080, FPS: 30},
		{Index: 1, Kind: types.TrackAudio, Channels: 2, SampleRate: 48000},
	}}
}

func TestPlanLadderProducesEightVariants(t *testing.T) {
	caps := []types.EndpointCapability{
		types.VariantCapability(1080, 6_000_000),
		types.VariantCapability(720, 4_000_000),
		types.VariantCapability(480, 2_000_000),
		types.VariantCapability(240, 1_000_000),
	}
	cfg, err := Plan(sourceInfo(), caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Variants) != 8 {
		t.Fatalf("expected 8 variants (4 groups x 2 tracks), got %d", len(cfg.Variants))
	}

	wantWidths := map[int]bool{1920: false, 1280: false, 854: false, 426: false}
	for _, v := range cfg.Variants {
		if v.IsVideo() {
			if v.Width%2 != 0 || v.Height%2 != 0 {
				t.Fatalf("variant %s has odd dimension %dx%d", v.ID, v.Width, v.Height)
			}
			if _, ok := wantWidths[v.Width]; ok {
				wantWidths[v.Width] = true
			}
		}
	}
	for w, seen := range wantWidths {
		if !seen {
			t.Fatalf("expected a variant with width %d", w)
		}
	}
}

func TestPlanSkipsUpscale(t *testing.T) {
	info := sourceInfo()
	info.Streams[0].Height = 720
	info.Streams[0].Width = 1280

	caps := []types.EndpointCapability{
		types.VariantCapability(1080, 6_000_000),
		types.VariantCapability(720, 4_000_000),
	}
	cfg, err := Plan(info, caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range cfg.Variants {
		if v.IsVideo() && v.Height > 720 {
			t.Fatalf("expected no upscaled variant, got height %d", v.Height)
		}
	}
}

func TestPlanFailsWithoutVideoSource(t *testing.T) {
	info := types.IngressInfo{Streams: []types.SourceStream{
		{Index: 0, Kind: types.TrackAudio, Channels: 2, SampleRate: 48000},
	}}
	_, err := Plan(info, []types.EndpointCapability{types.VariantCapability(720, 1_000_000)})
	if err == nil {
		t.Fatalf("expected NoVideoSource error")
	}
}

func TestPlanGroupsVideoAndAudioTogether(t *testing.T) {
	cfg, err := Plan(sourceInfo(), []types.EndpointCapability{types.VariantCapability(1080, 6_000_000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Variants) != 2 {
		t.Fatalf("expected 1 video + 1 audio, got %d", len(cfg.Variants))
	}
	if cfg.Variants[0].GroupID != cfg.Variants[1].GroupID {
		t.Fatalf("expected video+audio to share a group id")
	}
}

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities("variant:1080:6000000,dvr:720,variant:source")
	if len(caps) != 3 {
		t.Fatalf("expected 3 capabilities, got %d", len(caps))
	}
	if caps[0].Kind != types.CapabilityVariant || caps[0].Height != 1080 || caps[0].Bitrate != 6_000_000 {
		t.Fatalf("unexpected first capability: %+v", caps[0])
	}
	if caps[1].Kind != types.CapabilityDVR || caps[1].Height != 720 {
		t.Fatalf("unexpected second capability: %+v", caps[1])
	}
	if caps[2].Kind != types.CapabilitySourceCopy {
		t.Fatalf("unexpected third capability: %+v", caps[2])
	}
}
