package inference

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// linearFinal is the surface LinearModelInference needs from an estimator:
// a weighted OLS final stage over treatment-feature interactions. LinearDML
// satisfies it.
type linearFinal interface {
	cate.Estimator

	FinalModel() *linear.WeightedOLS
	FeaturizeRows(X mat.Matrix) (*mat.Dense, error)
	TreatmentWidth() int
	FeatureWidth() int
	TreatmentDelta(T0, T1 mat.Matrix, rows int, op string) (*mat.Dense, error)
}

// LinearModelInference builds normal-theory confidence intervals from the
// coefficient covariance of the estimator's OLS final stage. It fits
// instantly; the work happens in the interval queries.
type LinearModelInference struct {
	est linearFinal
}

// NewLinearModelInference creates a normal-theory inference.
func NewLinearModelInference() *LinearModelInference {
	return &LinearModelInference{}
}

// Clone returns an unfitted copy.
func (l *LinearModelInference) Clone() cate.Inference {
	return &LinearModelInference{}
}

// Fit binds the inference to the fitted estimator's final stage.
func (l *LinearModelInference) Fit(est cate.Estimator, _ *cate.Dataset) error {
	lf, ok := est.(linearFinal)
	if !ok {
		return cerrors.NewValueError("LinearModelInference.Fit",
			"estimator has no linear final stage; use BootstrapInference")
	}
	l.est = lf
	return nil
}

// EffectInterval returns normal-theory bounds on Effect: per row, a
// t-interval on the linear functional (δ ⊗ Φ(x))'β of the final stage
// coefficients.
func (l *LinearModelInference) EffectInterval(X, T0, T1 mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	if l.est == nil {
		return nil, nil, cerrors.NewNotFittedError("LinearModelInference", "EffectInterval")
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = cate.DefaultAlpha
	}
	phi, err := l.est.FeaturizeRows(X)
	if err != nil {
		return nil, nil, err
	}
	m, _ := phi.Dims()
	delta, err := l.est.TreatmentDelta(T0, T1, m, "LinearModelInference.EffectInterval")
	if err != nil {
		return nil, nil, err
	}

	dT := l.est.TreatmentWidth()
	dPhi := l.est.FeatureWidth()
	final := l.est.FinalModel()

	lo := mat.NewDense(m, 1, nil)
	hi := mat.NewDense(m, 1, nil)
	z := make([]float64, dT*dPhi)
	for i := 0; i < m; i++ {
		for t := 0; t < dT; t++ {
			for f := 0; f < dPhi; f++ {
				z[t*dPhi+f] = delta.At(i, t) * phi.At(i, f)
			}
		}
		_, zl, zh, err := final.LinearFunctionalInterval(z, alpha)
		if err != nil {
			return nil, nil, cerrors.Wrap(err, "LinearModelInference")
		}
		lo.Set(i, 0, zl)
		hi.Set(i, 0, zh)
	}
	return lo, hi, nil
}

// ConstMarginalEffectInterval returns normal-theory bounds on θ(X), one
// t-interval per row and treatment.
func (l *LinearModelInference) ConstMarginalEffectInterval(X mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	if l.est == nil {
		return nil, nil, cerrors.NewNotFittedError("LinearModelInference", "ConstMarginalEffectInterval")
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = cate.DefaultAlpha
	}
	phi, err := l.est.FeaturizeRows(X)
	if err != nil {
		return nil, nil, err
	}
	m, _ := phi.Dims()
	dT := l.est.TreatmentWidth()
	dPhi := l.est.FeatureWidth()
	final := l.est.FinalModel()

	lo := mat.NewDense(m, dT, nil)
	hi := mat.NewDense(m, dT, nil)
	z := make([]float64, dT*dPhi)
	for i := 0; i < m; i++ {
		for t := 0; t < dT; t++ {
			for k := range z {
				z[k] = 0
			}
			for f := 0; f < dPhi; f++ {
				z[t*dPhi+f] = phi.At(i, f)
			}
			_, zl, zh, err := final.LinearFunctionalInterval(z, alpha)
			if err != nil {
				return nil, nil, cerrors.Wrap(err, "LinearModelInference")
			}
			lo.Set(i, t, zl)
			hi.Set(i, t, zh)
		}
	}
	return lo, hi, nil
}

var _ cate.Inference = (*LinearModelInference)(nil)
