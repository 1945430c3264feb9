// Package cate defines the shared surface of all CATE (conditional average
// treatment effect) estimators: the estimator interfaces, the fit options,
// the dataset container used for refitting, and the BaseCATE helper that
// handles treatment encoding and defers interval queries to an attached
// Inference object.
package cate

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/tensor"
)

// DefaultAlpha is the default significance level of interval queries,
// yielding 90% confidence intervals.
const DefaultAlpha = 0.1

// Estimator is the minimal surface shared by every CATE estimator.
type Estimator interface {
	// Effect computes the heterogeneous treatment effect τ(X, T0, T1) of
	// moving from base treatment T0 to target treatment T1, per row of X.
	// Nil T0/T1 select the estimator defaults (0→1, or the first→second
	// category for discrete treatments); 1×1 matrices broadcast to all rows.
	Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error)

	// MarginalEffect computes ∂τ(T, X) around base treatment T, per row.
	MarginalEffect(T, X mat.Matrix) (*mat.Dense, error)
}

// LinearEstimator is satisfied by estimators whose effect is linear in the
// treatment, so that a constant marginal effect θ(X) exists.
type LinearEstimator interface {
	Estimator

	// ConstMarginalEffect computes θ(X), an m×d_t matrix (a single row when
	// X is nil).
	ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error)
}

// Refittable is satisfied by estimators that can be cloned unfitted and
// refitted on a dataset, which is what bootstrap inference needs.
type Refittable interface {
	Estimator

	// CloneUnfitted returns a fresh estimator with the same hyperparameters
	// and no fitted state.
	CloneUnfitted() Refittable

	// FitDataset fits on the dataset without attaching inference.
	FitDataset(ds *Dataset) error
}

// Inference produces confidence intervals for a fitted estimator. Instances
// are cloned at fit time so one Inference value can be reused across
// estimators.
type Inference interface {
	// Clone returns an unfitted copy carrying the same configuration.
	Clone() Inference

	// Fit prepares the inference for the given fitted estimator and the
	// data it was fitted on. It runs after the estimator's own fit.
	Fit(est Estimator, ds *Dataset) error

	// EffectInterval returns elementwise (1−alpha) bounds on Effect.
	EffectInterval(X, T0, T1 mat.Matrix, alpha float64) (lo, hi *mat.Dense, err error)

	// ConstMarginalEffectInterval returns elementwise (1−alpha) bounds on
	// ConstMarginalEffect.
	ConstMarginalEffectInterval(X mat.Matrix, alpha float64) (lo, hi *mat.Dense, err error)
}

// Dataset bundles the arrays an estimator is fitted on. X, W and Z may be
// nil; SampleWeight may be nil for uniform weights.
type Dataset struct {
	Y mat.Matrix // outcomes, n×1
	T mat.Matrix // treatments, n×1 labels or n×d_t continuous
	X mat.Matrix // heterogeneity features
	W mat.Matrix // controls / confounders
	Z mat.Matrix // instruments

	SampleWeight []float64
}

// Rows returns the number of samples.
func (d *Dataset) Rows() int {
	r, _ := d.Y.Dims()
	return r
}

// Resample returns a bootstrap resample of the dataset: rows drawn with
// replacement, all arrays and weights gathered consistently.
func (d *Dataset) Resample(rng *rand.Rand) *Dataset {
	n := d.Rows()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}

	out := &Dataset{
		Y: tensor.GatherRows(d.Y, idx),
		T: tensor.GatherRows(d.T, idx),
	}
	if d.X != nil {
		out.X = tensor.GatherRows(d.X, idx)
	}
	if d.W != nil {
		out.W = tensor.GatherRows(d.W, idx)
	}
	if d.Z != nil {
		out.Z = tensor.GatherRows(d.Z, idx)
	}
	if d.SampleWeight != nil {
		out.SampleWeight = tensor.GatherVec(d.SampleWeight, idx)
	}
	return out
}

// FitOptions collects the optional arguments of Fit.
type FitOptions struct {
	// Inference is cloned and fitted alongside the estimator.
	Inference Inference

	// SampleWeight holds non-negative per-sample weights.
	SampleWeight []float64
}

// FitOption mutates FitOptions.
type FitOption func(*FitOptions)

// WithInference attaches an inference method to the fit.
func WithInference(inf Inference) FitOption {
	return func(o *FitOptions) { o.Inference = inf }
}

// WithSampleWeight passes per-sample weights to estimators that support
// them.
func WithSampleWeight(w []float64) FitOption {
	return func(o *FitOptions) { o.SampleWeight = w }
}

// NewFitOptions applies the options to a fresh FitOptions.
func NewFitOptions(opts ...FitOption) *FitOptions {
	o := &FitOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
