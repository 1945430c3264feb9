// Package inference provides the interval machinery attached to estimators
// at fit time: nonparametric bootstrap over refitted replicas, and
// normal-theory intervals from the coefficient covariance of linear final
// stage models.
package inference

import (
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/causalgo/causalgo/cate"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// BootstrapInference builds percentile confidence intervals by refitting
// the estimator on row resamples. The estimator must implement
// cate.Refittable.
type BootstrapInference struct {
	// Samples is the number of bootstrap replicas.
	Samples int

	// Seed drives the resampling.
	Seed uint64

	replicas []cate.Estimator
	logger   log.Logger
}

// BootstrapOption configures a BootstrapInference.
type BootstrapOption func(*BootstrapInference)

// WithBootstrapSeed sets the resampling seed.
func WithBootstrapSeed(seed uint64) BootstrapOption {
	return func(b *BootstrapInference) { b.Seed = seed }
}

// NewBootstrapInference creates a bootstrap inference with the given number
// of replicas.
func NewBootstrapInference(samples int, opts ...BootstrapOption) *BootstrapInference {
	b := &BootstrapInference{Samples: samples, Seed: 42}
	b.logger = log.GetLoggerWithName("inference")
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Clone returns an unfitted copy carrying the same configuration.
func (b *BootstrapInference) Clone() cate.Inference {
	return &BootstrapInference{Samples: b.Samples, Seed: b.Seed, logger: b.logger}
}

// Fit refits one replica per bootstrap resample, concurrently.
func (b *BootstrapInference) Fit(est cate.Estimator, ds *cate.Dataset) error {
	if b.Samples < 2 {
		return cerrors.NewValidationError("samples", "need at least 2 bootstrap replicas", b.Samples)
	}
	rf, ok := est.(cate.Refittable)
	if !ok {
		return cerrors.NewValueError("BootstrapInference.Fit", "estimator does not support refitting")
	}

	b.logger.Info("bootstrapping",
		log.OperationKey, "inference.fit",
		log.ReplicasKey, b.Samples,
		log.SamplesKey, ds.Rows(),
	)

	b.replicas = make([]cate.Estimator, b.Samples)
	var g errgroup.Group
	for r := 0; r < b.Samples; r++ {
		g.Go(func() (err error) {
			defer cerrors.Recover("BootstrapInference.Fit", &err)
			rng := rand.New(rand.NewPCG(b.Seed, uint64(r)))
			clone := rf.CloneUnfitted()
			if err := clone.FitDataset(ds.Resample(rng)); err != nil {
				return cerrors.Wrapf(err, "causalgo: bootstrap replica %d", r)
			}
			b.replicas[r] = clone
			return nil
		})
	}
	return g.Wait()
}

// EffectInterval returns elementwise percentile bounds on Effect across the
// replicas.
func (b *BootstrapInference) EffectInterval(X, T0, T1 mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	return b.interval(alpha, func(e cate.Estimator) (*mat.Dense, error) {
		return e.Effect(X, T0, T1)
	})
}

// ConstMarginalEffectInterval returns elementwise percentile bounds on
// ConstMarginalEffect. The replicas must expose a constant marginal effect.
func (b *BootstrapInference) ConstMarginalEffectInterval(X mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	return b.interval(alpha, func(e cate.Estimator) (*mat.Dense, error) {
		le, ok := e.(cate.LinearEstimator)
		if !ok {
			return nil, cerrors.NewValueError("BootstrapInference", "estimator has no constant marginal effect")
		}
		return le.ConstMarginalEffect(X)
	})
}

func (b *BootstrapInference) interval(alpha float64, eval func(cate.Estimator) (*mat.Dense, error)) (*mat.Dense, *mat.Dense, error) {
	if b.replicas == nil {
		return nil, nil, cerrors.NewNotFittedError("BootstrapInference", "interval")
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = cate.DefaultAlpha
	}

	vals := make([]*mat.Dense, len(b.replicas))
	for i, rep := range b.replicas {
		v, err := eval(rep)
		if err != nil {
			return nil, nil, err
		}
		vals[i] = v
	}

	r, c := vals[0].Dims()
	lo := mat.NewDense(r, c, nil)
	hi := mat.NewDense(r, c, nil)
	buf := make([]float64, len(vals))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			for k, v := range vals {
				buf[k] = v.At(i, j)
			}
			sort.Float64s(buf)
			lo.Set(i, j, stat.Quantile(alpha/2, stat.Empirical, buf, nil))
			hi.Set(i, j, stat.Quantile(1-alpha/2, stat.Empirical, buf, nil))
		}
	}
	return lo, hi, nil
}

// Replicas exposes the fitted bootstrap replicas.
func (b *BootstrapInference) Replicas() []cate.Estimator { return b.replicas }

var _ cate.Inference = (*BootstrapInference)(nil)
