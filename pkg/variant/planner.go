// Package variant plans an output variant ladder from probed ingress
// streams and a configured endpoint capability list.
package variant

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bitriver/livepipe/pkg/errors"
	"github.com/bitriver/livepipe/pkg/types"
)

// ParseCapabilities parses a comma-separated capability string such as
// "variant:1080:6000000,variant:720:4000000,dvr:720,variant:source" into
// the ordered EndpointCapability list.
func ParseCapabilities(raw string) []types.EndpointCapability {
	if raw == "" {
		return nil
	}
	var out []types.EndpointCapability
	for _, c := range strings.Split(strings.ToLower(raw), ",") {
		cs := strings.Split(c, ":")
		if len(cs) == 0 {
			continue
		}
		switch cs[0] {
		case "variant":
			if len(cs) == 2 && cs[1] == "source" {
				out = append(out, types.SourceCopyCapability())
				continue
			}
			if len(cs) == 3 {
				h, errH := strconv.Atoi(cs[1])
				br, errB := strconv.Atoi(cs[2])
				if errH == nil && errB == nil {
					out = append(out, types.VariantCapability(h, br))
				}
			}
		case "dvr":
			if len(cs) == 2 {
				if h, err := strconv.Atoi(cs[1]); err == nil {
					out = append(out, types.DVRCapability(h))
				}
			}
		}
	}
	return out
}

// Plan maps an IngressInfo and an ordered capability list to a
// PipelineConfig. Never upscales: a Variant capability whose height exceeds
// the source's height is silently skipped.
func Plan(info types.IngressInfo, capabilities []types.EndpointCapability) (types.PipelineConfig, error) {
	videoSrc, hasVideo := info.VideoSource()
	audioSrc, hasAudio := info.AudioSource()

	if !hasVideo {
		return types.PipelineConfig{}, errors.NewNoVideoSourceError()
	}

	var variants []types.VariantStream
	groupID := 0
	dstIndex := 0
	dvrGroups := map[int]bool{}

	for _, cap := range capabilities {
		switch cap.Kind {
		case types.CapabilitySourceCopy:
			variants = append(variants, types.VariantStream{
				ID:     uuid.NewString(),
				Kind:   types.VariantCopyVideo,
				SrcIdx: videoSrc.Index,
				DstIdx: dstIndex,
				GroupID: groupID,
			})
			dstIndex++
			if hasAudio {
				variants = append(variants, types.VariantStream{
					ID:      uuid.NewString(),
					Kind:    types.VariantCopyAudio,
					SrcIdx:  audioSrc.Index,
					DstIdx:  dstIndex,
					GroupID: groupID,
				})
				dstIndex++
			}
			groupID++

		case types.CapabilityVariant:
			if videoSrc.Height < cap.Height {
				// never upscale
				continue
			}

			aspect := float64(videoSrc.Width) / float64(videoSrc.Height)
			outWidth := roundEven(int(float64(cap.Height) * aspect))
			outHeight := roundEven(cap.Height)

			videoID := uuid.NewString()
			variants = append(variants, types.VariantStream{
				ID:               videoID,
				Kind:             types.VariantVideo,
				SrcIdx:           videoSrc.Index,
				DstIdx:           dstIndex,
				GroupID:          groupID,
				Width:            outWidth,
				Height:           outHeight,
				FPS:              videoSrc.FPS,
				Bitrate:          cap.Bitrate,
				Codec:            "libx264",
				Profile:          "main",
				Level:            "5.1",
				KeyframeInterval: int(videoSrc.FPS),
				PixelFormat:      "yuv420p",
			})
			dstIndex++

			if hasAudio {
				variants = append(variants, types.VariantStream{
					ID:           uuid.NewString(),
					Kind:         types.VariantAudio,
					SrcIdx:       audioSrc.Index,
					DstIdx:       dstIndex,
					GroupID:      groupID,
					AudioBitrate: 192_000,
					AudioCodec:   "aac",
					Channels:     2,
					SampleRate:   48_000,
					SampleFormat: "fltp",
				})
				dstIndex++
			}
			groupID++

		case types.CapabilityDVR:
			// Mark the matching height's group for recorder egress; applied
			// below once all variants are planned.
			dvrGroups[cap.Height] = true
		}
	}

	if len(dvrGroups) > 0 {
		for i, v := range variants {
			if v.IsVideo() && dvrGroups[v.Height] {
				variants[i].DVR = true
			}
		}
	}

	if len(variants) == 0 {
		return types.PipelineConfig{}, errors.NewNoVideoSourceError()
	}

	var audioIdx *int
	if hasAudio {
		idx := audioSrc.Index
		audioIdx = &idx
	}

	return types.PipelineConfig{
		IngressInfo:   info,
		Variants:      variants,
		VideoSrcIndex: videoSrc.Index,
		AudioSrcIndex: audioIdx,
	}, nil
}

// roundEven rounds an odd dimension up by one to the nearest even number,
// required for H.264 chroma subsampling compatibility.
func roundEven(v int) int {
	if v%2 != 0 {
		return v + 1
	}
	return v
}
