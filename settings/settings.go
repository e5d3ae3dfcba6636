// Package settings holds the persisted vehicle configuration. Values live in
// memory and are written through to durable storage one field at a time.
package settings

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jd3nn1s/telemeter/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	KeyTankCapacity = "tankCapacityL"
	KeyFuelEconomy  = "fuelEconomyKmPerL"
	KeyReserve      = "reserveLiters"
	KeyBikeModel    = "bikeModel"
)

var ErrInvalidPatch = errors.New("invalid settings")

type Configuration struct {
	TankCapacityL     float64 `json:"tankCapacityL" validate:"gt=0"`
	FuelEconomyKmPerL float64 `json:"fuelEconomyKmPerL" validate:"gt=0"`
	ReserveLiters     float64 `json:"reserveLiters" validate:"gte=0,ltfield=TankCapacityL"`
	BikeModel         string  `json:"bikeModel"`
	Hydrated          bool    `json:"hydrated"`
}

var Defaults = Configuration{
	TankCapacityL:     13,
	FuelEconomyKmPerL: 35,
	ReserveLiters:     2.5,
	BikeModel:         "Standard",
}

// Patch carries the fields to change; nil fields are left alone.
type Patch struct {
	TankCapacityL     *float64 `json:"tankCapacityL,omitempty"`
	FuelEconomyKmPerL *float64 `json:"fuelEconomyKmPerL,omitempty"`
	ReserveLiters     *float64 `json:"reserveLiters,omitempty"`
	BikeModel         *string  `json:"bikeModel,omitempty"`
}

type Status int

const (
	Pending Status = iota
	Ready
)

func (s Status) String() string {
	if s == Ready {
		return "ready"
	}
	return "pending"
}

type Store struct {
	storage  storage.Storage
	validate *validator.Validate

	mu     sync.RWMutex
	cfg    Configuration
	status Status
	// keys set while pending; hydration must not overwrite them
	dirty map[string]bool

	ready       chan struct{}
	hydrateOnce sync.Once

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewStore(s storage.Storage) *Store {
	return &Store{
		storage:  s,
		validate: validator.New(),
		cfg:      Defaults,
		dirty:    map[string]bool{},
		ready:    make(chan struct{}),
	}
}

// Get returns the current in-memory values whether or not hydration finished.
func (s *Store) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) IsReady() bool {
	return s.Status() == Ready
}

// Ready is closed once hydration has completed.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) AwaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set applies the patch in memory and schedules a write for every field that
// changed. Write failures are logged, never returned.
func (s *Store) Set(p Patch) error {
	s.mu.Lock()
	next := s.cfg
	changed := p.apply(&next)
	if err := s.validate.Struct(next); err != nil {
		s.mu.Unlock()
		return errors.Wrap(ErrInvalidPatch, err.Error())
	}
	s.cfg = next
	if s.status == Pending {
		for _, key := range changed {
			s.dirty[key] = true
		}
	}
	s.mu.Unlock()

	for _, key := range changed {
		s.persist(key)
	}
	return nil
}

// Flush blocks until every scheduled write has been attempted.
func (s *Store) Flush() {
	s.inflight.Wait()
}

func (s *Store) persist(key string) {
	f := fieldByKey(key)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		// always write the latest value so out of order goroutines converge
		value := f.format(s.Get())
		if err := s.storage.Write(context.Background(), key, value); err != nil {
			log.WithField("key", key).WithField("err", err).Warn("unable to persist setting")
		}
	}()
}

// Hydrate loads persisted values over the defaults exactly once. Later calls
// wait for the first to finish and then return without touching memory.
// A field that cannot be read or parsed keeps its default.
func (s *Store) Hydrate() {
	s.hydrateOnce.Do(s.hydrate)
}

func (s *Store) hydrate() {
	ctx := context.Background()
	loaded := map[string]string{}
	for _, f := range fields {
		v, ok, err := s.storage.Read(ctx, f.key)
		if err != nil {
			log.WithField("key", f.key).WithField("err", err).Warn("unable to read setting, using default")
			continue
		}
		if ok {
			loaded[f.key] = v
		}
	}

	s.mu.Lock()
	next := s.cfg
	for _, f := range fields {
		v, ok := loaded[f.key]
		if !ok || s.dirty[f.key] {
			continue
		}
		if err := f.parse(s.validate, &next, v); err != nil {
			log.WithField("key", f.key).WithField("err", err).Warn("ignoring stored setting")
		}
	}
	// reserve must stay below capacity; drop the stored reserve first, then
	// the stored capacity, leaving every other stored field in place
	if err := s.validate.Struct(next); err != nil {
		log.WithField("err", err).Warn("stored reserve is not below tank capacity, using previous reserve")
		next.ReserveLiters = s.cfg.ReserveLiters
	}
	if err := s.validate.Struct(next); err != nil {
		log.WithField("err", err).Warn("stored tank capacity is below reserve, using previous capacity")
		next.TankCapacityL = s.cfg.TankCapacityL
	}
	next.Hydrated = true
	s.cfg = next
	s.status = Ready
	s.dirty = nil
	close(s.ready)
	s.mu.Unlock()

	log.WithField("loaded", len(loaded)).Info("settings hydrated")
}

func (p Patch) apply(c *Configuration) (changed []string) {
	if p.TankCapacityL != nil && *p.TankCapacityL != c.TankCapacityL {
		c.TankCapacityL = *p.TankCapacityL
		changed = append(changed, KeyTankCapacity)
	}
	if p.FuelEconomyKmPerL != nil && *p.FuelEconomyKmPerL != c.FuelEconomyKmPerL {
		c.FuelEconomyKmPerL = *p.FuelEconomyKmPerL
		changed = append(changed, KeyFuelEconomy)
	}
	if p.ReserveLiters != nil && *p.ReserveLiters != c.ReserveLiters {
		c.ReserveLiters = *p.ReserveLiters
		changed = append(changed, KeyReserve)
	}
	if p.BikeModel != nil && *p.BikeModel != c.BikeModel {
		c.BikeModel = *p.BikeModel
		changed = append(changed, KeyBikeModel)
	}
	return changed
}

type field struct {
	key string
	// validator tag applied to numeric values read back from storage
	rule  string
	float func(*Configuration) *float64
	str   func(*Configuration) *string
}

var fields = []field{
	{key: KeyTankCapacity, rule: "gt=0", float: func(c *Configuration) *float64 { return &c.TankCapacityL }},
	{key: KeyFuelEconomy, rule: "gt=0", float: func(c *Configuration) *float64 { return &c.FuelEconomyKmPerL }},
	{key: KeyReserve, rule: "gte=0", float: func(c *Configuration) *float64 { return &c.ReserveLiters }},
	{key: KeyBikeModel, str: func(c *Configuration) *string { return &c.BikeModel }},
}

func fieldByKey(key string) field {
	for _, f := range fields {
		if f.key == key {
			return f
		}
	}
	panic("unknown settings key " + key)
}

func (f field) format(c Configuration) string {
	if f.str != nil {
		return *f.str(&c)
	}
	return strconv.FormatFloat(*f.float(&c), 'g', -1, 64)
}

func (f field) parse(v *validator.Validate, c *Configuration, value string) error {
	if f.str != nil {
		*f.str(c) = value
		return nil
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return errors.Wrapf(err, "unable to parse %s", f.key)
	}
	if err = v.Var(n, f.rule); err != nil {
		return errors.Wrapf(err, "%s out of range", f.key)
	}
	*f.float(c) = n
	return nil
}

// ParsePatch builds a single-field patch from a storage key and its string
// value, as accepted on the command line.
func ParsePatch(key, value string) (Patch, error) {
	var p Patch
	switch key {
	case KeyBikeModel:
		p.BikeModel = &value
		return p, nil
	case KeyTankCapacity, KeyFuelEconomy, KeyReserve:
	default:
		return p, errors.Wrapf(ErrInvalidPatch, "unknown key %q", key)
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return p, errors.Wrapf(ErrInvalidPatch, "%s: %v", key, err)
	}
	switch key {
	case KeyTankCapacity:
		p.TankCapacityL = &n
	case KeyFuelEconomy:
		p.FuelEconomyKmPerL = &n
	case KeyReserve:
		p.ReserveLiters = &n
	}
	return p, nil
}

// Keys lists every persisted field key in storage order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.key)
	}
	return keys
}
