package settings

import (
	"context"
	"testing"
	"time"

	"github.com/jd3nn1s/telemeter/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 {
	return &v
}

// failingStorage fails reads for a single key.
type failingStorage struct {
	*storage.Memory
	failKey string
}

func (f *failingStorage) Read(ctx context.Context, key string) (string, bool, error) {
	if key == f.failKey {
		return "", false, errors.New("fake read error")
	}
	return f.Memory.Read(ctx, key)
}

// blockingStorage holds every read until released.
type blockingStorage struct {
	*storage.Memory
	release chan struct{}
}

func (b *blockingStorage) Read(ctx context.Context, key string) (string, bool, error) {
	<-b.release
	return b.Memory.Read(ctx, key)
}

func TestPendingBeforeHydrate(t *testing.T) {
	s := NewStore(storage.NewMemory(nil))
	assert.Equal(t, Pending, s.Status())
	assert.False(t, s.Get().Hydrated)
	assert.Equal(t, Defaults, s.Get())

	select {
	case <-s.Ready():
		assert.Fail(t, "ready before hydration")
	default:
	}
}

func TestHydrateDefaults(t *testing.T) {
	s := NewStore(storage.NewMemory(nil))
	s.Hydrate()

	cfg := s.Get()
	assert.True(t, cfg.Hydrated)
	assert.Equal(t, Ready, s.Status())
	assert.Equal(t, Defaults.TankCapacityL, cfg.TankCapacityL)
	assert.Equal(t, Defaults.FuelEconomyKmPerL, cfg.FuelEconomyKmPerL)
	assert.Equal(t, Defaults.ReserveLiters, cfg.ReserveLiters)
	assert.Equal(t, Defaults.BikeModel, cfg.BikeModel)
	assert.NoError(t, s.AwaitReady(context.Background()))
}

func TestHydrateStoredValues(t *testing.T) {
	s := NewStore(storage.NewMemory(map[string]string{
		KeyFuelEconomy: "30",
		KeyBikeModel:   "Himalayan",
	}))
	s.Hydrate()

	cfg := s.Get()
	assert.Equal(t, 30.0, cfg.FuelEconomyKmPerL)
	assert.Equal(t, "Himalayan", cfg.BikeModel)
	assert.Equal(t, Defaults.TankCapacityL, cfg.TankCapacityL)
}

func TestHydrateFallsBackPerField(t *testing.T) {
	mem := storage.NewMemory(map[string]string{
		KeyTankCapacity: "15",
		KeyFuelEconomy:  "30",
		KeyReserve:      "not-a-number",
	})
	s := NewStore(&failingStorage{Memory: mem, failKey: KeyFuelEconomy})
	s.Hydrate()

	cfg := s.Get()
	assert.True(t, cfg.Hydrated)
	assert.Equal(t, 15.0, cfg.TankCapacityL)
	assert.Equal(t, Defaults.FuelEconomyKmPerL, cfg.FuelEconomyKmPerL, "read failure keeps default")
	assert.Equal(t, Defaults.ReserveLiters, cfg.ReserveLiters, "parse failure keeps default")
}

func TestHydrateRejectsOutOfRange(t *testing.T) {
	s := NewStore(storage.NewMemory(map[string]string{
		KeyFuelEconomy: "-4",
	}))
	s.Hydrate()
	assert.Equal(t, Defaults.FuelEconomyKmPerL, s.Get().FuelEconomyKmPerL)

	// reserve above capacity falls back alone
	s = NewStore(storage.NewMemory(map[string]string{
		KeyTankCapacity: "10",
		KeyReserve:      "12",
	}))
	s.Hydrate()
	assert.Equal(t, 10.0, s.Get().TankCapacityL)
	assert.Equal(t, Defaults.ReserveLiters, s.Get().ReserveLiters)
	assert.True(t, s.Get().Hydrated)
}

func TestHydrateInconsistentReserveKeepsOtherFields(t *testing.T) {
	s := NewStore(storage.NewMemory(map[string]string{
		KeyFuelEconomy: "30",
		KeyReserve:     "15",
		KeyBikeModel:   "Meteor",
	}))
	s.Hydrate()

	cfg := s.Get()
	assert.Equal(t, 30.0, cfg.FuelEconomyKmPerL)
	assert.Equal(t, "Meteor", cfg.BikeModel)
	assert.Equal(t, Defaults.TankCapacityL, cfg.TankCapacityL)
	assert.Equal(t, Defaults.ReserveLiters, cfg.ReserveLiters)
}

func TestHydrateCapacityBelowPendingReserve(t *testing.T) {
	s := NewStore(storage.NewMemory(map[string]string{
		KeyTankCapacity: "4",
		KeyFuelEconomy:  "30",
	}))
	require.NoError(t, s.Set(Patch{ReserveLiters: float(5)}))
	s.Hydrate()

	cfg := s.Get()
	assert.Equal(t, 5.0, cfg.ReserveLiters, "value set while pending wins")
	assert.Equal(t, Defaults.TankCapacityL, cfg.TankCapacityL)
	assert.Equal(t, 30.0, cfg.FuelEconomyKmPerL)
}

func TestHydrateIdempotent(t *testing.T) {
	mem := storage.NewMemory(map[string]string{KeyFuelEconomy: "30"})
	s := NewStore(mem)
	s.Hydrate()
	require.NoError(t, s.Set(Patch{FuelEconomyKmPerL: float(40)}))
	s.Flush()

	require.NoError(t, mem.Write(context.Background(), KeyFuelEconomy, "12"))
	s.Hydrate()
	assert.Equal(t, 40.0, s.Get().FuelEconomyKmPerL)
}

func TestHydrateConcurrentCallersWait(t *testing.T) {
	b := &blockingStorage{
		Memory:  storage.NewMemory(map[string]string{KeyFuelEconomy: "30"}),
		release: make(chan struct{}),
	}
	s := NewStore(b)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s.Hydrate()
			done <- struct{}{}
		}()
	}

	select {
	case <-done:
		assert.Fail(t, "hydrate returned before storage answered")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, Pending, s.Status())

	close(b.release)
	<-done
	<-done
	assert.Equal(t, 30.0, s.Get().FuelEconomyKmPerL)
}

func TestSetPersists(t *testing.T) {
	mem := storage.NewMemory(nil)
	s := NewStore(mem)
	s.Hydrate()

	require.NoError(t, s.Set(Patch{
		TankCapacityL: float(18.5),
		BikeModel:     strPtr("Scram 411"),
	}))
	// visible immediately
	assert.Equal(t, 18.5, s.Get().TankCapacityL)
	assert.Equal(t, "Scram 411", s.Get().BikeModel)

	s.Flush()
	v, ok := mem.Value(KeyTankCapacity)
	assert.True(t, ok)
	assert.Equal(t, "18.5", v)
	v, _ = mem.Value(KeyBikeModel)
	assert.Equal(t, "Scram 411", v)
	_, ok = mem.Value(KeyFuelEconomy)
	assert.False(t, ok, "unchanged fields are not written")
}

func TestSetLastWriteWins(t *testing.T) {
	mem := storage.NewMemory(nil)
	s := NewStore(mem)
	s.Hydrate()
	for i := 1; i <= 20; i++ {
		require.NoError(t, s.Set(Patch{FuelEconomyKmPerL: float(float64(i))}))
	}
	s.Flush()
	v, _ := mem.Value(KeyFuelEconomy)
	assert.Equal(t, "20", v)
}

func TestSetInvalid(t *testing.T) {
	s := NewStore(storage.NewMemory(nil))
	s.Hydrate()

	for _, p := range []Patch{
		{TankCapacityL: float(0)},
		{FuelEconomyKmPerL: float(-1)},
		{ReserveLiters: float(-0.1)},
		{ReserveLiters: float(Defaults.TankCapacityL)},
	} {
		err := s.Set(p)
		assert.Equal(t, ErrInvalidPatch, errors.Cause(err))
	}
	assert.Equal(t, Defaults.TankCapacityL, s.Get().TankCapacityL)
	assert.Equal(t, Defaults.ReserveLiters, s.Get().ReserveLiters)
}

func TestSetWriteFailureNotSurfaced(t *testing.T) {
	mem := storage.NewMemory(nil)
	mem.WriteErr = errors.New("fake write error")
	s := NewStore(mem)
	s.Hydrate()

	assert.NoError(t, s.Set(Patch{FuelEconomyKmPerL: float(28)}))
	s.Flush()
	assert.Equal(t, 28.0, s.Get().FuelEconomyKmPerL)
}

func TestSetWhilePendingSurvivesHydrate(t *testing.T) {
	mem := storage.NewMemory(map[string]string{
		KeyFuelEconomy: "30",
		KeyBikeModel:   "Classic",
	})
	s := NewStore(mem)
	require.NoError(t, s.Set(Patch{FuelEconomyKmPerL: float(45)}))
	s.Flush()
	// stored value was replaced by the write-through, reset it to test precedence
	require.NoError(t, mem.Write(context.Background(), KeyFuelEconomy, "30"))

	s.Hydrate()
	assert.Equal(t, 45.0, s.Get().FuelEconomyKmPerL)
	assert.Equal(t, "Classic", s.Get().BikeModel)
}

func TestParsePatch(t *testing.T) {
	p, err := ParsePatch(KeyFuelEconomy, "31.5")
	require.NoError(t, err)
	assert.Equal(t, 31.5, *p.FuelEconomyKmPerL)

	p, err = ParsePatch(KeyBikeModel, "Bullet")
	require.NoError(t, err)
	assert.Equal(t, "Bullet", *p.BikeModel)

	_, err = ParsePatch(KeyReserve, "lots")
	assert.Equal(t, ErrInvalidPatch, errors.Cause(err))
	_, err = ParsePatch("color", "red")
	assert.Equal(t, ErrInvalidPatch, errors.Cause(err))

	assert.Equal(t, []string{KeyTankCapacity, KeyFuelEconomy, KeyReserve, KeyBikeModel}, Keys())
}

func strPtr(s string) *string {
	return &s
}
