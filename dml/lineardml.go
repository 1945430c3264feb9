package dml

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/linear"
)

// LinearDML is the double machine learning estimator with an unregularized
// weighted OLS final stage. Because the final stage is plain least squares
// its coefficient covariance is available, so LinearDML works with both
// inference.NewLinearModelInference and inference.NewBootstrapInference.
type LinearDML struct {
	estimator
	ols *linear.WeightedOLS
}

type olsFinal struct{ ols *linear.WeightedOLS }

func (f *olsFinal) fit(Z, yRes *mat.Dense, sampleWeight []float64) error {
	return f.ols.FitWeighted(Z, yRes, sampleWeight)
}

func (f *olsFinal) coef() []float64 { return f.ols.Coef }

// NewLinearDML creates a LinearDML estimator.
func NewLinearDML(opts ...Option) *LinearDML {
	ols := linear.NewWeightedOLS(false)
	d := &LinearDML{ols: ols}
	d.estimator = *newEstimator("LinearDML", &olsFinal{ols: ols}, opts)
	return d
}

// Fit estimates the nuisances by cross-fitting and the effect model by
// weighted OLS on the interacted residuals.
func (d *LinearDML) Fit(Y, T, X, W mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := d.fit(Y, T, X, W, fo); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, W: W, SampleWeight: fo.SampleWeight}
	return d.FitInference(d, ds, fo)
}

// Effect computes τ(X, T0, T1) per row of X.
func (d *LinearDML) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	return d.effect(X, T0, T1)
}

// MarginalEffect computes ∂τ(T, X); for this linear model it equals the
// constant marginal effect for every T.
func (d *LinearDML) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return d.marginalEffect(T, X)
}

// ConstMarginalEffect computes θ(X).
func (d *LinearDML) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	return d.constMarginalEffect(X)
}

// Score computes the mean squared residual moment on held-out data.
func (d *LinearDML) Score(Y, T, X, W mat.Matrix) (float64, error) {
	return d.score(Y, T, X, W)
}

// Coef returns the final stage coefficients, laid out treatment-major:
// entry t·dφ+f multiplies feature f of the treatment-t residual.
func (d *LinearDML) Coef() []float64 { return d.ols.Coef }

// FinalModel exposes the fitted final stage regression, which carries the
// coefficient covariance needed by normal-theory inference.
func (d *LinearDML) FinalModel() *linear.WeightedOLS { return d.ols }

// FeaturizeRows maps X through the fitted feature map Φ.
func (d *LinearDML) FeaturizeRows(X mat.Matrix) (*mat.Dense, error) {
	return d.featurize(X, 1, false)
}

// FeatureWidth returns the width dφ of the feature map.
func (d *LinearDML) FeatureWidth() int { return d.dPhi }

// CloneUnfitted returns an unfitted copy with the same configuration.
func (d *LinearDML) CloneUnfitted() cate.Refittable {
	ols := linear.NewWeightedOLS(false)
	c := &LinearDML{ols: ols}
	c.estimator = estimator{opts: d.opts.clone(), final: &olsFinal{ols: ols}}
	c.Name = d.Name
	c.logger = d.logger
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (d *LinearDML) FitDataset(ds *cate.Dataset) error {
	return d.fit(ds.Y, ds.T, ds.X, ds.W, &cate.FitOptions{SampleWeight: ds.SampleWeight})
}

var (
	_ cate.LinearEstimator = (*LinearDML)(nil)
	_ cate.Refittable      = (*LinearDML)(nil)
)
