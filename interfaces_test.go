package telemeter

import (
	"context"
	"sync"

	"github.com/jd3nn1s/telemeter/position"
	"github.com/jd3nn1s/telemeter/settings"
	"github.com/jd3nn1s/telemeter/storage"
)

type sourceStub struct {
	mu        sync.Mutex
	onSample  func(position.Sample)
	onError   func(string)
	cancelled bool
}

func (s *sourceStub) Subscribe(onSample func(position.Sample), onError func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = onSample
	s.onError = onError
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled = true
	}
}

func (s *sourceStub) sample(lat, lon float64, speedMS float64) {
	s.onSample(position.Sample{
		Latitude:  lat,
		Longitude: lon,
		Speed:     position.SpeedMS(speedMS),
	})
}

func (s *sourceStub) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

type forwarderStub struct {
	mu    sync.Mutex
	calls int
	last  Snapshot
}

func (fwd *forwarderStub) Forward(newSnapshot *Snapshot, prevSnapshot *Snapshot) error {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	fwd.calls++
	fwd.last = *newSnapshot
	return nil
}

// blockingStorage holds reads until release is closed.
type blockingStorage struct {
	*storage.Memory
	release chan struct{}
}

func (b *blockingStorage) Read(ctx context.Context, key string) (string, bool, error) {
	<-b.release
	return b.Memory.Read(ctx, key)
}

type consumerStub struct {
	consumed []float64
}

func (c *consumerStub) ConsumeFuel(liters float64) {
	c.consumed = append(c.consumed, liters)
}

type economyStub struct {
	ready   bool
	economy float64
}

func (e *economyStub) IsReady() bool {
	return e.ready
}

func (e *economyStub) Get() settings.Configuration {
	cfg := settings.Defaults
	cfg.FuelEconomyKmPerL = e.economy
	cfg.Hydrated = e.ready
	return cfg
}

func hydratedStore(values map[string]string) *settings.Store {
	s := settings.NewStore(storage.NewMemory(values))
	s.Hydrate()
	return s
}
