// Package filter smooths raw position samples with a linear recursive
// estimator run jointly over [lat, lon].
package filter

import (
	"github.com/jd3nn1s/telemeter/position"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Params are empirical tuning values for GPS jitter, not a physical model.
type Params struct {
	// MeasurementNoise is R; higher values trust each raw fix less.
	MeasurementNoise float64 `toml:"MeasurementNoise" validate:"gt=0"`
	// ProcessNoise is Q; covariance grows by this much every step.
	ProcessNoise float64 `toml:"ProcessNoise" validate:"gte=0"`
}

var DefaultParams = Params{
	MeasurementNoise: 0.01,
	ProcessNoise:     3,
}

var identity = mat.NewDiagDense(2, []float64{1, 1})

type Kalman struct {
	q *mat.DiagDense
	r *mat.DiagDense

	// nil until the first sample arrives
	x *mat.VecDense
	p *mat.Dense
}

func NewKalman(params Params) *Kalman {
	return &Kalman{
		q: mat.NewDiagDense(2, []float64{params.ProcessNoise, params.ProcessNoise}),
		r: mat.NewDiagDense(2, []float64{params.MeasurementNoise, params.MeasurementNoise}),
	}
}

// Filter folds one raw sample into the estimate and returns the new estimate.
// The caller must reject non-finite samples first.
func (k *Kalman) Filter(s position.Sample) position.Fix {
	z := mat.NewVecDense(2, []float64{s.Latitude, s.Longitude})
	if k.x == nil {
		k.x = z
		k.p = mat.DenseCopyOf(k.r)
		return k.fix(s.TimestampMs)
	}

	// predict
	k.p.Add(k.p, k.q)

	// K = P (P + R)^-1
	var innovCov, innovCovInv, gain mat.Dense
	innovCov.Add(k.p, k.r)
	if err := innovCovInv.Inverse(&innovCov); err != nil {
		log.WithField("err", err).Warn("singular innovation covariance, skipping correction")
		return k.fix(s.TimestampMs)
	}
	gain.Mul(k.p, &innovCovInv)

	// correct
	var residual, correction mat.VecDense
	residual.SubVec(z, k.x)
	correction.MulVec(&gain, &residual)
	k.x.AddVec(k.x, &correction)

	// P = (I - K) P
	var shrink, p mat.Dense
	shrink.Sub(identity, &gain)
	p.Mul(&shrink, k.p)
	k.p = &p

	return k.fix(s.TimestampMs)
}

// Covariance returns the current per-axis error covariance, 0 before the first sample.
func (k *Kalman) Covariance() (lat, lon float64) {
	if k.p == nil {
		return 0, 0
	}
	return k.p.At(0, 0), k.p.At(1, 1)
}

func (k *Kalman) Reset() {
	k.x = nil
	k.p = nil
}

func (k *Kalman) fix(ts int64) position.Fix {
	return position.Fix{
		Latitude:    k.x.AtVec(0),
		Longitude:   k.x.AtVec(1),
		TimestampMs: ts,
	}
}
