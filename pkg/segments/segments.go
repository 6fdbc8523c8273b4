// Package segments models the EUREC4A flight phase segmentation: per
// platform and flight, named time intervals ("circle", "straight_leg",
// ...) with their dropsonde launches.
package segments

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for an unknown segment id.
var ErrNotFound = errors.New("segment not found")

// Segment is a time interval of a flight. PlatformID and FlightID are
// filled in by Flatten.
type Segment struct {
	SegmentID  string              `yaml:"segment_id" json:"segment_id"`
	Name       string              `yaml:"name,omitempty" json:"name,omitempty"`
	Kinds      []string            `yaml:"kinds" json:"kinds"`
	Start      time.Time           `yaml:"start" json:"start"`
	End        time.Time           `yaml:"end" json:"end"`
	Dropsondes map[string][]string `yaml:"dropsondes,omitempty" json:"dropsondes,omitempty"`
	PlatformID string              `yaml:"platform_id,omitempty" json:"platform_id,omitempty"`
	FlightID   string              `yaml:"flight_id,omitempty" json:"flight_id,omitempty"`
	// Extra holds all further properties of the segment.
	Extra map[string]interface{} `yaml:",inline" json:"extra,omitempty"`
}

// Flight is one flight of a platform
type Flight struct {
	FlightID string                 `yaml:"flight_id" json:"flight_id"`
	Name     string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Mission  string                 `yaml:"mission,omitempty" json:"mission,omitempty"`
	Platform string                 `yaml:"platform,omitempty" json:"platform,omitempty"`
	Date     time.Time              `yaml:"date" json:"date"`
	Takeoff  time.Time              `yaml:"takeoff,omitempty" json:"takeoff"`
	Landing  time.Time              `yaml:"landing,omitempty" json:"landing"`
	Segments []Segment              `yaml:"segments" json:"segments"`
	Extra    map[string]interface{} `yaml:",inline" json:"extra,omitempty"`
}

// Metadata maps platform id to flight id to flight.
type Metadata map[string]map[string]Flight

// Decode reads a segmentation file.
func Decode(r io.Reader) (Metadata, error) {
	var meta Metadata
	if err := yaml.NewDecoder(r).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding flight segments: %w", err)
	}

	for platform, flights := range meta {
		for flightID, flight := range flights {
			for i, s := range flight.Segments {
				if s.SegmentID == "" {
					return nil, fmt.Errorf("%s/%s: segment %d has no segment_id", platform, flightID, i)
				}
				if s.End.Before(s.Start) {
					return nil, fmt.Errorf("%s: end %v before start %v", s.SegmentID, s.End, s.Start)
				}
			}
		}
	}
	return meta, nil
}

// Flatten lists all segments of meta, each annotated with its platform and
// flight id. Platforms and flights are visited in lexical order, segments
// in file order.
func Flatten(meta Metadata) []Segment {
	var out []Segment
	for _, platform := range sortedKeys(meta) {
		flights := meta[platform]
		for _, flightID := range sortedKeys(flights) {
			for _, s := range flights[flightID].Segments {
				s.PlatformID = platform
				s.FlightID = flightID
				out = append(out, s)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Duration returns End - Start.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// HasKind reports whether kind is one of the segment's kinds.
func (s Segment) HasKind(kind string) bool {
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Sondes returns the ids of the dropsondes launched in the segment with
// the given quality flag, e.g. "GOOD".
func (s Segment) Sondes(quality string) []string {
	return s.Dropsondes[quality]
}

// Properties returns the names of the properties set on the segment.
func (s Segment) Properties() []string {
	props := []string{"segment_id"}
	if s.Name != "" {
		props = append(props, "name")
	}
	if s.Kinds != nil {
		props = append(props, "kinds")
	}
	if !s.Start.IsZero() {
		props = append(props, "start")
	}
	if !s.End.IsZero() {
		props = append(props, "end")
	}
	if s.Dropsondes != nil {
		props = append(props, "dropsondes")
	}
	if s.PlatformID != "" {
		props = append(props, "platform_id")
	}
	if s.FlightID != "" {
		props = append(props, "flight_id")
	}
	for k := range s.Extra {
		props = append(props, k)
	}
	sort.Strings(props)
	return props
}
