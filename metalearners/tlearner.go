package metalearners

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// TLearner fits one outcome model per treatment category and estimates
// effects as differences of their predictions.
type TLearner struct {
	base

	factory model.RegressorFactory
	models  []model.Regressor
	dX      int

	logger log.Logger
}

// NewTLearner creates a TLearner over the given outcome model factory.
func NewTLearner(factory model.RegressorFactory) *TLearner {
	t := &TLearner{factory: factory}
	t.Name = "TLearner"
	t.logger = log.GetLoggerWithName("metalearners").With(log.EstimatorKey, t.Name)
	return t
}

// Fit trains one outcome model per category on that category's subsample.
func (t *TLearner) Fit(Y, T, X mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := t.fitCore(Y, T, X); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, SampleWeight: fo.SampleWeight}
	return t.FitInference(t, ds, fo)
}

func (t *TLearner) fitCore(Y, T, X mat.Matrix) error {
	n, err := t.validate(t.Name+".Fit", Y, T, X)
	if err != nil {
		return err
	}
	if err := t.SetupTreatment(T, true); err != nil {
		return err
	}
	groups, err := t.groups(T, n)
	if err != nil {
		return err
	}
	_, t.dX = X.Dims()

	t.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, len(groups),
	)

	t.models = make([]model.Regressor, len(groups))
	for g, idx := range groups {
		t.models[g] = t.factory()
		Xg := tensor.GatherRows(X, idx)
		Yg := tensor.GatherRows(Y, idx)
		if err := t.models[g].Fit(Xg, Yg); err != nil {
			return cerrors.Wrapf(err, "causalgo: TLearner: category %v", t.Categories()[g])
		}
	}
	t.SetFitted()
	return nil
}

// ConstMarginalEffect returns θ(X)[t] = μ_{t+1}(X) − μ_0(X), the effect of
// each non-control category against the control.
func (t *TLearner) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !t.IsFitted() {
		return nil, cerrors.NewNotFittedError(t.Name, "ConstMarginalEffect")
	}
	m, err := t.checkFeatures(t.Name+".ConstMarginalEffect", X, t.dX)
	if err != nil {
		return nil, err
	}
	mu0, err := predictVec(t.models[0], X, t.Name)
	if err != nil {
		return nil, err
	}
	dT := t.TreatmentWidth()
	theta := mat.NewDense(m, dT, nil)
	for g := 1; g < len(t.models); g++ {
		mug, err := predictVec(t.models[g], X, t.Name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < m; i++ {
			theta.Set(i, g-1, mug[i]-mu0[i])
		}
	}
	return theta, nil
}

// Effect computes τ(X, T0, T1) = μ_{T1}(X) − μ_{T0}(X) per row of X.
func (t *TLearner) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := t.ConstMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	return t.effectFromTheta(theta, T0, T1, t.Name+".Effect")
}

// MarginalEffect equals ConstMarginalEffect for discrete treatments.
func (t *TLearner) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return t.ConstMarginalEffect(X)
}

// CloneUnfitted returns an unfitted copy with the same outcome factory.
func (t *TLearner) CloneUnfitted() cate.Refittable {
	c := NewTLearner(t.factory)
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (t *TLearner) FitDataset(ds *cate.Dataset) error {
	return t.fitCore(ds.Y, ds.T, ds.X)
}

var (
	_ cate.LinearEstimator = (*TLearner)(nil)
	_ cate.Refittable      = (*TLearner)(nil)
)
