package position

import (
	"math"

	"github.com/pkg/errors"
)

var ErrInvalidSample = errors.New("invalid position sample")

// Sample is a raw fix as delivered by a position source. Speed is in m/s and
// is nil when the source did not report one.
type Sample struct {
	Latitude    float64  `json:"lat"`
	Longitude   float64  `json:"lon"`
	Speed       *float64 `json:"speed,omitempty"`
	TimestampMs int64    `json:"timestampMs"`
}

// Fix is a filtered position estimate.
type Fix struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	TimestampMs int64   `json:"timestampMs"`
}

// SpeedMS is a helper for building samples with a reported speed.
func SpeedMS(v float64) *float64 {
	return &v
}

// Validate rejects samples that would corrupt the filter state.
func Validate(s Sample) error {
	if !finite(s.Latitude) || !finite(s.Longitude) {
		return errors.Wrap(ErrInvalidSample, "non-finite coordinate")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return errors.Wrapf(ErrInvalidSample, "latitude %v out of range", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return errors.Wrapf(ErrInvalidSample, "longitude %v out of range", s.Longitude)
	}
	if s.Speed != nil && (!finite(*s.Speed) || *s.Speed < 0) {
		return errors.Wrapf(ErrInvalidSample, "speed %v", *s.Speed)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
