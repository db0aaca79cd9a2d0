// Package monitor enumerates the displays that take part in transitions.
package monitor

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/ddc"
)

// Detector is the part of the control channel the registry needs.
type Detector interface {
	Detect(ctx context.Context) ([]ddc.MonitorID, error)
	DetectRaw(ctx context.Context) (string, error)
}

// Display is a configuration-time view of one monitor.
type Display struct {
	ID       ddc.MonitorID
	Model    string
	Disabled bool
}

// Registry filters detected monitors by the user's disabled set.
// It keeps no state between calls.
type Registry struct {
	detector Detector
	disabled func() []string
}

// NewRegistry creates a registry. disabled is consulted on every scan.
func NewRegistry(detector Detector, disabled func() []string) *Registry {
	if disabled == nil {
		disabled = func() []string { return nil }
	}
	return &Registry{
		detector: detector,
		disabled: disabled,
	}
}

// Scan returns detected monitor ids minus disabled ones, in detection order.
// Any detection failure yields an empty result.
func (r *Registry) Scan(ctx context.Context) []ddc.MonitorID {
	ids, err := r.detector.Detect(ctx)
	if err != nil {
		if !errors.Is(err, ddc.ErrToolUnavailable) {
			log.Warn().Err(err).Msg("Monitor detection failed")
		}
		return nil
	}

	skip := toSet(r.disabled())
	result := make([]ddc.MonitorID, 0, len(ids))
	for _, id := range ids {
		if skip[string(id)] {
			continue
		}
		result = append(result, id)
	}

	log.Debug().Int("detected", len(ids)).Int("enabled", len(result)).Msg("Monitors scanned")
	return result
}

// Describe lists monitors with their model labels for configuration.
// Unlike Scan, entries whose label is marked invalid are left out, and
// disabled monitors are included with Disabled set.
func (r *Registry) Describe(ctx context.Context) ([]Display, error) {
	out, err := r.detector.DetectRaw(ctx)
	if err != nil {
		return nil, err
	}

	skip := toSet(r.disabled())
	parsed := ddc.ParseDisplays(out)
	displays := make([]Display, 0, len(parsed))
	for _, d := range parsed {
		displays = append(displays, Display{
			ID:       d.ID,
			Model:    d.Model,
			Disabled: skip[string(d.ID)],
		})
	}
	return displays, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
