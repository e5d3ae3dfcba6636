package forwarder

import (
	"github.com/jd3nn1s/telemeter"
)

type Header struct {
	Type uint8
}

const (
	TypeTelemetry = 1
)

// Packet is the fixed layout a dashboard receives, little endian.
type Packet struct {
	SpeedKph   float64
	TripKm     float64
	OdometerKm float64
	FuelL      float64
	RangeKm    float64
	Latitude   float64
	Longitude  float64

	GPSAvailable uint8
	LowFuel      uint8
	Ready        uint8
}

func NewPacket(snap *telemeter.Snapshot) Packet {
	p := Packet{
		SpeedKph:     snap.SpeedKph,
		TripKm:       snap.TripKm,
		OdometerKm:   snap.OdometerKm,
		FuelL:        snap.FuelL,
		RangeKm:      snap.RangeKm,
		GPSAvailable: boolByte(snap.GPSAvailable),
		LowFuel:      boolByte(snap.LowFuel),
		Ready:        boolByte(snap.Ready),
	}
	if snap.LastPosition != nil {
		p.Latitude = snap.LastPosition.Latitude
		p.Longitude = snap.LastPosition.Longitude
	}
	return p
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
