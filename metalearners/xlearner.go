package metalearners

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// XLearner estimates effects against the control category in three stages:
// per-category outcome models, CATE models fit on imputed effects, and a
// propensity-weighted blend of the two CATE estimates.
type XLearner struct {
	base

	outcomeFactory model.RegressorFactory
	cateFactory    model.RegressorFactory
	propFactory    model.ClassifierFactory

	// per non-control category: CATE model fit on controls and on treated
	tauControl []model.Regressor
	tauTreated []model.Regressor
	propensity []model.Classifier
	dX         int

	logger log.Logger
}

// XLearnerOption configures an XLearner.
type XLearnerOption func(*XLearner)

// WithCATEModel sets the factory of the second stage effect regressors. The
// default reuses the outcome factory.
func WithCATEModel(f model.RegressorFactory) XLearnerOption {
	return func(x *XLearner) { x.cateFactory = f }
}

// WithPropensityModel sets the propensity classifier factory.
func WithPropensityModel(f model.ClassifierFactory) XLearnerOption {
	return func(x *XLearner) { x.propFactory = f }
}

// NewXLearner creates an XLearner over the given outcome model factory.
func NewXLearner(outcome model.RegressorFactory, opts ...XLearnerOption) *XLearner {
	x := &XLearner{
		outcomeFactory: outcome,
		cateFactory:    outcome,
		propFactory:    func() model.Classifier { return linear.NewLogisticRegression() },
	}
	x.Name = "XLearner"
	x.logger = log.GetLoggerWithName("metalearners").With(log.EstimatorKey, x.Name)
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Fit runs the three stages for every non-control category.
func (x *XLearner) Fit(Y, T, X mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := x.fitCore(Y, T, X); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, SampleWeight: fo.SampleWeight}
	return x.FitInference(x, ds, fo)
}

func (x *XLearner) fitCore(Y, T, X mat.Matrix) error {
	n, err := x.validate(x.Name+".Fit", Y, T, X)
	if err != nil {
		return err
	}
	if err := x.SetupTreatment(T, true); err != nil {
		return err
	}
	groups, err := x.groups(T, n)
	if err != nil {
		return err
	}
	_, x.dX = X.Dims()

	x.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, len(groups)-1,
	)

	ctrl := groups[0]
	Xc := tensor.GatherRows(X, ctrl)
	Yc := tensor.GatherRows(Y, ctrl)

	mu0 := x.outcomeFactory()
	if err := mu0.Fit(Xc, Yc); err != nil {
		return cerrors.Wrap(err, x.Name+": control outcome")
	}

	dT := x.TreatmentWidth()
	x.tauControl = make([]model.Regressor, dT)
	x.tauTreated = make([]model.Regressor, dT)
	x.propensity = make([]model.Classifier, dT)

	for g := 1; g < len(groups); g++ {
		trt := groups[g]
		Xt := tensor.GatherRows(X, trt)
		Yt := tensor.GatherRows(Y, trt)

		mut := x.outcomeFactory()
		if err := mut.Fit(Xt, Yt); err != nil {
			return cerrors.Wrapf(err, "causalgo: XLearner: category %v outcome", x.Categories()[g])
		}

		// Imputed effects: D¹ = Y_t − μ₀(X_t) on treated, D⁰ = μ_t(X_c) − Y_c
		// on controls.
		mu0Xt, err := predictVec(mu0, Xt, x.Name)
		if err != nil {
			return err
		}
		d1 := mat.NewDense(len(trt), 1, nil)
		for i := range trt {
			d1.Set(i, 0, Yt.At(i, 0)-mu0Xt[i])
		}
		mutXc, err := predictVec(mut, Xc, x.Name)
		if err != nil {
			return err
		}
		d0 := mat.NewDense(len(ctrl), 1, nil)
		for i := range ctrl {
			d0.Set(i, 0, mutXc[i]-Yc.At(i, 0))
		}

		x.tauTreated[g-1] = x.cateFactory()
		if err := x.tauTreated[g-1].Fit(Xt, d1); err != nil {
			return cerrors.Wrapf(err, "causalgo: XLearner: category %v treated CATE", x.Categories()[g])
		}
		x.tauControl[g-1] = x.cateFactory()
		if err := x.tauControl[g-1].Fit(Xc, d0); err != nil {
			return cerrors.Wrapf(err, "causalgo: XLearner: category %v control CATE", x.Categories()[g])
		}

		// Propensity of being treated with category g among control + g.
		both := append(append([]int(nil), ctrl...), trt...)
		Xb := tensor.GatherRows(X, both)
		lbl := mat.NewDense(len(both), 1, nil)
		for i := len(ctrl); i < len(both); i++ {
			lbl.Set(i, 0, 1)
		}
		x.propensity[g-1] = x.propFactory()
		if err := x.propensity[g-1].Fit(Xb, lbl); err != nil {
			return cerrors.Wrapf(err, "causalgo: XLearner: category %v propensity", x.Categories()[g])
		}
	}
	x.SetFitted()
	return nil
}

// ConstMarginalEffect blends the two CATE estimates with the propensity:
// θ(X)[t] = g_t(X)·τ_c(X) + (1 − g_t(X))·τ_t(X).
func (x *XLearner) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !x.IsFitted() {
		return nil, cerrors.NewNotFittedError(x.Name, "ConstMarginalEffect")
	}
	m, err := x.checkFeatures(x.Name+".ConstMarginalEffect", X, x.dX)
	if err != nil {
		return nil, err
	}
	dT := x.TreatmentWidth()
	theta := mat.NewDense(m, dT, nil)
	for t := 0; t < dT; t++ {
		tc, err := predictVec(x.tauControl[t], X, x.Name)
		if err != nil {
			return nil, err
		}
		tt, err := predictVec(x.tauTreated[t], X, x.Name)
		if err != nil {
			return nil, err
		}
		proba, err := x.propensity[t].PredictProba(X)
		if err != nil {
			return nil, cerrors.Wrap(err, x.Name)
		}
		// column order follows Classes(); class 1 is the treated indicator
		treatedCol := len(x.propensity[t].Classes()) - 1
		for i := 0; i < m; i++ {
			g := proba.At(i, treatedCol)
			theta.Set(i, t, g*tc[i]+(1-g)*tt[i])
		}
	}
	return theta, nil
}

// Effect computes τ(X, T0, T1) per row of X.
func (x *XLearner) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := x.ConstMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	return x.effectFromTheta(theta, T0, T1, x.Name+".Effect")
}

// MarginalEffect equals ConstMarginalEffect for discrete treatments.
func (x *XLearner) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return x.ConstMarginalEffect(X)
}

// CloneUnfitted returns an unfitted copy with the same factories.
func (x *XLearner) CloneUnfitted() cate.Refittable {
	c := NewXLearner(x.outcomeFactory)
	c.cateFactory = x.cateFactory
	c.propFactory = x.propFactory
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (x *XLearner) FitDataset(ds *cate.Dataset) error {
	return x.fitCore(ds.Y, ds.T, ds.X)
}

var (
	_ cate.LinearEstimator = (*XLearner)(nil)
	_ cate.Refittable      = (*XLearner)(nil)
)
