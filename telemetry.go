package telemeter

import (
	"math"
	"sync"

	"github.com/jd3nn1s/telemeter/position"
)

// InitialFuelL is the fuel level a new session starts with.
const InitialFuelL = 10.0

type Telemetry struct {
	SpeedKph     float64       `json:"speedKph"`
	TripKm       float64       `json:"tripKm"`
	OdometerKm   float64       `json:"totalOdometerKm"`
	FuelL        float64       `json:"fuelL"`
	GPSAvailable bool          `json:"isGpsAvailable"`
	LastPosition *position.Fix `json:"lastPosition"`
}

// OdometerListener is called with the post-update odometer value every time
// it increases.
type OdometerListener func(odometerKm float64)

// State is the live telemetry record. All mutation goes through its methods,
// each applied as a single step.
type State struct {
	// held across an update and its notifications so listeners observe
	// odometer changes in the order they were applied
	updateMu sync.Mutex

	mu        sync.Mutex
	t         Telemetry
	listeners map[int]OdometerListener
	nextID    int
}

func NewState() *State {
	return &State{
		t: Telemetry{
			FuelL: InitialFuelL,
		},
		listeners: map[int]OdometerListener{},
	}
}

func (s *State) Snapshot() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.t
	if t.LastPosition != nil {
		fix := *t.LastPosition
		t.LastPosition = &fix
	}
	return t
}

// UpdateFromPosition applies one position-driven change. Trip and odometer
// always move by the same delta.
func (s *State) UpdateFromPosition(speedKph, distanceDeltaKm float64, gpsAvailable bool, fix position.Fix) {
	if distanceDeltaKm < 0 || math.IsNaN(distanceDeltaKm) || math.IsInf(distanceDeltaKm, 0) {
		distanceDeltaKm = 0
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	s.t.SpeedKph = speedKph
	s.t.TripKm += distanceDeltaKm
	s.t.OdometerKm += distanceDeltaKm
	s.t.GPSAvailable = gpsAvailable
	s.t.LastPosition = &fix
	odometer := s.t.OdometerKm
	var listeners []OdometerListener
	if distanceDeltaKm > 0 {
		listeners = s.listenersLocked()
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(odometer)
	}
}

// ConsumeFuel lowers the fuel level, never below zero. Non-positive amounts
// are ignored.
func (s *State) ConsumeFuel(liters float64) {
	if !(liters > 0) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.FuelL = math.Max(0, s.t.FuelL-liters)
}

// AddFuel refuels, never exceeding capacityL.
func (s *State) AddFuel(liters, capacityL float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fuel := math.Max(0, s.t.FuelL+liters)
	// an already overfull tank is left alone rather than drained
	if fuel > capacityL {
		fuel = math.Max(capacityL, s.t.FuelL)
	}
	s.t.FuelL = fuel
}

func (s *State) SetGPSStatus(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.GPSAvailable = available
}

func (s *State) ResetTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.TripKm = 0
}

// OnOdometerChange registers fn and returns a func that removes it.
func (s *State) OnOdometerChange(fn OdometerListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

func (s *State) listenersLocked() []OdometerListener {
	ret := make([]OdometerListener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			ret = append(ret, fn)
		}
	}
	return ret
}
