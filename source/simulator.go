package source

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jd3nn1s/telemeter/position"
)

const (
	metersPerDegree = 111195.0

	simMaxSpeedMS = 30.0
	simSpeedStep  = 0.5
)

// Simulator generates a ride heading east from a start point, accelerating to
// simMaxSpeedMS and back down again.
type Simulator struct {
	Latitude  float64
	Longitude float64
	Interval  time.Duration
	// JitterM is the standard deviation, in metres, of noise added to each
	// reported coordinate.
	JitterM float64
	// DropoutEvery, when non-zero, reports a signal loss after every n samples.
	DropoutEvery int
	Seed         int64
}

func (sim *Simulator) Subscribe(onSample func(position.Sample), onError func(msg string)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.run(ctx, onSample, onError)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (sim *Simulator) run(ctx context.Context, onSample func(position.Sample), onError func(string)) {
	interval := sim.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rnd := rand.New(rand.NewSource(sim.Seed))
	lat, lon := sim.Latitude, sim.Longitude
	speed := 0.0
	down := false
	count := 0
	jitter := sim.JitterM / metersPerDegree

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		count++
		if sim.DropoutEvery > 0 && count%(sim.DropoutEvery+1) == 0 {
			onError("simulated signal loss")
			continue
		}

		metres := speed * interval.Seconds()
		lon += metres / (metersPerDegree * math.Cos(lat*math.Pi/180))
		onSample(position.Sample{
			Latitude:    lat + rnd.NormFloat64()*jitter,
			Longitude:   lon + rnd.NormFloat64()*jitter,
			Speed:       position.SpeedMS(speed),
			TimestampMs: time.Now().UnixNano() / int64(time.Millisecond),
		})

		if down {
			speed -= simSpeedStep
		} else {
			speed += simSpeedStep
		}
		if speed >= simMaxSpeedMS {
			down = true
		} else if speed <= 0 {
			speed = 0
			down = false
		}
	}
}
