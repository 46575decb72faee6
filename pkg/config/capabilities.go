package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bitriver/livepipe/pkg/types"
)

// ParseCapabilities turns the "--capability"/Ingest.Capabilities config
// strings into the endpoint capability ladder the Overseer hands the
// Variant Planner: "variant:source" (pass the source through untouched),
// "variant:<height>:<bitrate>" (transcode rung), "dvr:<height>" (mark a
// rung for recorder egress).
func ParseCapabilities(specs []string) ([]types.EndpointCapability, error) {
	caps := make([]types.EndpointCapability, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		switch parts[0] {
		case "variant":
			if len(parts) == 2 && parts[1] == "source" {
				caps = append(caps, types.SourceCopyCapability())
				continue
			}
			if len(parts) != 3 {
				return nil, fmt.Errorf("config: malformed capability %q", spec)
			}
			height, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("config: capability %q: bad height: %w", spec, err)
			}
			bitrate, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("config: capability %q: bad bitrate: %w", spec, err)
			}
			caps = append(caps, types.VariantCapability(height, bitrate))
		case "dvr":
			if len(parts) != 2 {
				return nil, fmt.Errorf("config: malformed capability %q", spec)
			}
			height, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("config: capability %q: bad height: %w", spec, err)
			}
			caps = append(caps, types.DVRCapability(height))
		default:
			return nil, fmt.Errorf("config: unknown capability kind %q", spec)
		}
	}
	return caps, nil
}
