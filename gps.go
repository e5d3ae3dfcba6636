package telemeter

import (
	"github.com/jd3nn1s/telemeter/geo"
	"github.com/jd3nn1s/telemeter/position"
	log "github.com/sirupsen/logrus"
)

func (m *Meter) onSample(s position.Sample) {
	select {
	case m.sampleChan <- s:
	default:
		log.WithField("session", m.Session).Debug("sample buffer full, dropping sample")
	}
}

func (m *Meter) onError(msg string) {
	select {
	case m.errChan <- msg:
	case <-m.done:
	}
}

// handleSample runs one raw sample through the pipeline. Malformed samples
// are dropped before they reach the filter.
func (m *Meter) handleSample(s position.Sample) bool {
	if err := position.Validate(s); err != nil {
		log.WithField("session", m.Session).
			WithField("err", err).
			Warn("rejecting position sample")
		return false
	}

	fix := m.filter.Filter(s)
	prev := m.state.Snapshot().LastPosition
	delta := geo.DistanceDeltaKm(prev, fix)
	speed := geo.NormalizeSpeedKph(s.Speed)
	m.state.UpdateFromPosition(speed, delta, true, fix)
	m.setGPSError("")

	log.WithFields(log.Fields{
		"session":  m.Session,
		"speedKph": speed,
		"deltaKm":  delta,
	}).Debug("position update")
	return true
}

func (m *Meter) handleError(msg string) bool {
	log.WithField("session", m.Session).
		WithField("reason", msg).
		Error("position stream interrupted")
	m.state.SetGPSStatus(false)
	m.setGPSError(msg)
	// the first fix after a gap starts a fresh estimate
	m.filter.Reset()
	return true
}

func (m *Meter) setGPSError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gpsError = msg
}
