package dml

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/linear"
)

// SparseLinearDML is the double machine learning estimator with a lasso
// final stage. The L1 penalty selects among the treatment-feature
// interactions, which makes the estimator suitable when Φ(X) is
// high-dimensional. Intervals require bootstrap inference.
type SparseLinearDML struct {
	estimator
	final *lassoFinal
}

type lassoFinal struct {
	alpha float64
	lasso *linear.Lasso
}

// fit runs the lasso on the residual regression. Sample weights are folded
// in by scaling rows with √w, which reproduces the weighted least squares
// loss under the shared penalty.
func (f *lassoFinal) fit(Z, yRes *mat.Dense, sampleWeight []float64) error {
	f.lasso = linear.NewLasso(f.alpha, linear.WithLassoFitIntercept(false))
	if sampleWeight == nil {
		return f.lasso.Fit(Z, yRes)
	}
	n, c := Z.Dims()
	zw := mat.NewDense(n, c, nil)
	yw := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		s := math.Sqrt(sampleWeight[i])
		for j := 0; j < c; j++ {
			zw.Set(i, j, s*Z.At(i, j))
		}
		yw.Set(i, 0, s*yRes.At(i, 0))
	}
	return f.lasso.Fit(zw, yw)
}

func (f *lassoFinal) coef() []float64 {
	if f.lasso == nil {
		return nil
	}
	return f.lasso.Coef
}

// NewSparseLinearDML creates a SparseLinearDML estimator with the given L1
// penalty on the final stage.
func NewSparseLinearDML(alpha float64, opts ...Option) *SparseLinearDML {
	final := &lassoFinal{alpha: alpha}
	d := &SparseLinearDML{final: final}
	d.estimator = *newEstimator("SparseLinearDML", final, opts)
	return d
}

// Fit estimates the nuisances by cross-fitting and the effect model by
// lasso on the interacted residuals.
func (d *SparseLinearDML) Fit(Y, T, X, W mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := d.fit(Y, T, X, W, fo); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, W: W, SampleWeight: fo.SampleWeight}
	return d.FitInference(d, ds, fo)
}

// Effect computes τ(X, T0, T1) per row of X.
func (d *SparseLinearDML) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	return d.effect(X, T0, T1)
}

// MarginalEffect computes ∂τ(T, X).
func (d *SparseLinearDML) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return d.marginalEffect(T, X)
}

// ConstMarginalEffect computes θ(X).
func (d *SparseLinearDML) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	return d.constMarginalEffect(X)
}

// Score computes the mean squared residual moment on held-out data.
func (d *SparseLinearDML) Score(Y, T, X, W mat.Matrix) (float64, error) {
	return d.score(Y, T, X, W)
}

// Coef returns the final stage coefficients, treatment-major.
func (d *SparseLinearDML) Coef() []float64 { return d.final.coef() }

// CloneUnfitted returns an unfitted copy with the same configuration.
func (d *SparseLinearDML) CloneUnfitted() cate.Refittable {
	final := &lassoFinal{alpha: d.final.alpha}
	c := &SparseLinearDML{final: final}
	c.estimator = estimator{opts: d.opts.clone(), final: final}
	c.Name = d.Name
	c.logger = d.logger
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (d *SparseLinearDML) FitDataset(ds *cate.Dataset) error {
	return d.fit(ds.Y, ds.T, ds.X, ds.W, &cate.FitOptions{SampleWeight: ds.SampleWeight})
}

var (
	_ cate.LinearEstimator = (*SparseLinearDML)(nil)
	_ cate.Refittable      = (*SparseLinearDML)(nil)
)
