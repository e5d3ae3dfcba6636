package telemeter

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/jd3nn1s/telemeter/filter"
	"github.com/jd3nn1s/telemeter/position"
	"github.com/jd3nn1s/telemeter/settings"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const channelBufferSize = 16

var (
	ErrNotReady      = errors.New("settings not loaded yet")
	ErrInvalidAmount = errors.New("invalid refuel amount")
)

// Snapshot is the read-only view handed to presentation and forwarders.
type Snapshot struct {
	Telemetry
	Settings settings.Configuration `json:"settings"`
	// Ready is false until settings are hydrated; RangeKm and LowFuel are
	// meaningless until then.
	Ready    bool    `json:"ready"`
	RangeKm  float64 `json:"rangeKm"`
	LowFuel  bool    `json:"lowFuel"`
	GPSError string  `json:"gpsError,omitempty"`
	Online   bool    `json:"online"`
}

// Meter owns the telemetry pipeline for one session. Samples and stream
// errors are processed one at a time by whoever drives CheckChannels or Run.
type Meter struct {
	Session string

	source     PositionSource
	state      *State
	settings   *settings.Store
	filter     *filter.Kalman
	fuel       *FuelEstimator
	forwarders []Forwarder

	sampleChan chan position.Sample
	errChan    chan string
	done       chan struct{}

	mu           sync.Mutex
	gpsError     string
	online       bool
	cancelSource func()

	// forwarders see snapshots in the order they were taken
	forwardMu sync.Mutex
	prev      Snapshot

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMeter(source PositionSource, store *settings.Store, params filter.Params) *Meter {
	state := NewState()
	m := &Meter{
		Session:    uuid.New().String(),
		source:     source,
		state:      state,
		settings:   store,
		filter:     filter.NewKalman(params),
		fuel:       NewFuelEstimator(state.Snapshot().OdometerKm, state, store),
		sampleChan: make(chan position.Sample, channelBufferSize),
		errChan:    make(chan string, 1),
		done:       make(chan struct{}),
		online:     true,
	}
	state.OnOdometerChange(m.fuel.Observe)
	return m
}

// AddForwarder must be called before Start.
func (m *Meter) AddForwarder(fwd Forwarder) {
	m.forwarders = append(m.forwarders, fwd)
}

// Start begins hydrating settings and subscribes to the position source.
func (m *Meter) Start() {
	m.startOnce.Do(func() {
		go func() {
			m.settings.Hydrate()
			m.TelemetryUpdate()
		}()
		cancel := m.source.Subscribe(m.onSample, m.onError)
		m.mu.Lock()
		m.cancelSource = cancel
		m.mu.Unlock()
		log.WithField("session", m.Session).Info("subscribed to position source")
	})
}

// Stop cancels the position subscription.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		cancel := m.cancelSource
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		log.WithField("session", m.Session).Info("position source stopped")
	})
}

// Run processes events until ctx is cancelled.
func (m *Meter) Run(ctx context.Context) error {
	m.Start()
	defer m.Stop()
	for {
		changed, err := m.next(ctx)
		if err != nil {
			return err
		}
		if changed {
			m.TelemetryUpdate()
		}
	}
}

// CheckChannels blocks for the next sample or stream error and applies it.
func (m *Meter) CheckChannels() bool {
	changed, _ := m.next(context.Background())
	return changed
}

func (m *Meter) next(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case s := <-m.sampleChan:
		return m.handleSample(s), nil
	case msg := <-m.errChan:
		return m.handleError(msg), nil
	}
}

func (m *Meter) Snapshot() Snapshot {
	cfg := m.settings.Get()
	snap := Snapshot{
		Telemetry: m.state.Snapshot(),
		Settings:  cfg,
		Ready:     cfg.Hydrated,
	}
	if snap.Ready {
		snap.RangeKm = RangeKm(snap.FuelL, cfg.FuelEconomyKmPerL)
		snap.LowFuel = LowFuel(snap.FuelL, cfg.ReserveLiters)
	}
	m.mu.Lock()
	snap.GPSError = m.gpsError
	snap.Online = m.online
	m.mu.Unlock()
	return snap
}

// Range returns the estimated range and false while settings are pending.
func (m *Meter) Range() (float64, bool) {
	cfg := m.settings.Get()
	if !cfg.Hydrated {
		return 0, false
	}
	return RangeKm(m.state.Snapshot().FuelL, cfg.FuelEconomyKmPerL), true
}

// TelemetryUpdate hands the current snapshot to every forwarder.
func (m *Meter) TelemetryUpdate() {
	m.forwardMu.Lock()
	defer m.forwardMu.Unlock()

	snap := m.Snapshot()
	prev := m.prev
	m.prev = snap

	for _, fwd := range m.forwarders {
		if err := fwd.Forward(&snap, &prev); err != nil {
			log.WithField("session", m.Session).
				WithField("err", err).
				Warn("unable to forward telemetry")
		}
	}
}

func (m *Meter) ResetTrip() {
	m.state.ResetTrip()
	m.TelemetryUpdate()
}

// Refuel adds fuel up to the configured tank capacity.
func (m *Meter) Refuel(liters float64) error {
	if liters <= 0 || math.IsNaN(liters) || math.IsInf(liters, 0) {
		return errors.Wrapf(ErrInvalidAmount, "%v", liters)
	}
	if !m.settings.IsReady() {
		return ErrNotReady
	}
	m.state.AddFuel(liters, m.settings.Get().TankCapacityL)
	m.TelemetryUpdate()
	return nil
}

func (m *Meter) Settings() settings.Configuration {
	return m.settings.Get()
}

func (m *Meter) UpdateSettings(p settings.Patch) error {
	if err := m.settings.Set(p); err != nil {
		return err
	}
	m.TelemetryUpdate()
	return nil
}

// SetOnline records network availability; it only affects presentation.
func (m *Meter) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	m.TelemetryUpdate()
}
