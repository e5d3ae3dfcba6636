package telemeter

import (
	log "github.com/sirupsen/logrus"
)

// AlertForwarder raises an alert whenever the low-fuel or GPS availability
// condition flips. Notify defaults to logging.
type AlertForwarder struct {
	Notify func(alert string, active bool)
}

const (
	AlertLowFuel = "low_fuel"
	AlertNoGPS   = "no_gps"
)

func (fwd *AlertForwarder) Forward(newSnapshot *Snapshot, prevSnapshot *Snapshot) error {
	if newSnapshot.Ready && newSnapshot.LowFuel != prevSnapshot.LowFuel {
		fwd.notify(AlertLowFuel, newSnapshot.LowFuel)
	}
	if newSnapshot.GPSAvailable != prevSnapshot.GPSAvailable {
		fwd.notify(AlertNoGPS, !newSnapshot.GPSAvailable)
	}
	return nil
}

func (fwd *AlertForwarder) notify(alert string, active bool) {
	if fwd.Notify != nil {
		fwd.Notify(alert, active)
		return
	}
	entry := log.WithField("alert", alert)
	if active {
		entry.Warn("alert raised")
	} else {
		entry.Info("alert cleared")
	}
}
