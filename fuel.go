package telemeter

import (
	"sync"

	"github.com/jd3nn1s/telemeter/settings"
	log "github.com/sirupsen/logrus"
)

type FuelConsumer interface {
	ConsumeFuel(liters float64)
}

type EconomySource interface {
	IsReady() bool
	Get() settings.Configuration
}

// FuelEstimator debits fuel for every increase of the odometer it observes,
// using the economy figure configured at that moment.
type FuelEstimator struct {
	fuel     FuelConsumer
	settings EconomySource

	mu         sync.Mutex
	lastSeenKm float64
}

func NewFuelEstimator(odometerKm float64, fuel FuelConsumer, s EconomySource) *FuelEstimator {
	return &FuelEstimator{
		fuel:       fuel,
		settings:   s,
		lastSeenKm: odometerKm,
	}
}

// Observe is an OdometerListener. Until settings are hydrated it does
// nothing, so the distance is debited later at the hydrated economy.
func (e *FuelEstimator) Observe(odometerKm float64) {
	if !e.settings.IsReady() {
		log.WithField("odometerKm", odometerKm).Debug("settings pending, deferring fuel consumption")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delta := odometerKm - e.lastSeenKm
	if delta <= 0 {
		return
	}
	economy := e.settings.Get().FuelEconomyKmPerL
	consumed := delta / economy
	e.fuel.ConsumeFuel(consumed)
	e.lastSeenKm = odometerKm

	log.WithFields(log.Fields{
		"deltaKm":  delta,
		"economy":  economy,
		"consumed": consumed,
	}).Debug("fuel consumed")
}

func (e *FuelEstimator) LastSeenKm() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeenKm
}
