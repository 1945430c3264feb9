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

// propensityClip keeps the importance weights finite.
const propensityClip = 1e-3

// DomainAdaptationLearner estimates effects against the control category by
// reweighting each group's outcome model toward the other group's covariate
// distribution before imputing effects, then fitting a final effect model on
// the imputed values. The outcome models must support sample weights.
type DomainAdaptationLearner struct {
	base

	outcomeFactory model.RegressorFactory
	finalFactory   model.RegressorFactory
	propFactory    model.ClassifierFactory

	cateModels []model.Regressor
	dX         int

	logger log.Logger
}

// DomainAdaptationOption configures a DomainAdaptationLearner.
type DomainAdaptationOption func(*DomainAdaptationLearner)

// WithFinalModel sets the factory of the final effect regressors. The
// default reuses the outcome factory.
func WithFinalModel(f model.RegressorFactory) DomainAdaptationOption {
	return func(d *DomainAdaptationLearner) { d.finalFactory = f }
}

// WithDomainPropensityModel sets the propensity classifier factory.
func WithDomainPropensityModel(f model.ClassifierFactory) DomainAdaptationOption {
	return func(d *DomainAdaptationLearner) { d.propFactory = f }
}

// NewDomainAdaptationLearner creates a DomainAdaptationLearner over the
// given weighted outcome model factory.
func NewDomainAdaptationLearner(outcome model.RegressorFactory, opts ...DomainAdaptationOption) *DomainAdaptationLearner {
	d := &DomainAdaptationLearner{
		outcomeFactory: outcome,
		finalFactory:   outcome,
		propFactory:    func() model.Classifier { return linear.NewLogisticRegression() },
	}
	d.Name = "DomainAdaptationLearner"
	d.logger = log.GetLoggerWithName("metalearners").With(log.EstimatorKey, d.Name)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fit runs the domain adaptation stages for every non-control category.
func (d *DomainAdaptationLearner) Fit(Y, T, X mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := d.fitCore(Y, T, X); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, SampleWeight: fo.SampleWeight}
	return d.FitInference(d, ds, fo)
}

func (d *DomainAdaptationLearner) fitCore(Y, T, X mat.Matrix) error {
	n, err := d.validate(d.Name+".Fit", Y, T, X)
	if err != nil {
		return err
	}
	if err := d.SetupTreatment(T, true); err != nil {
		return err
	}
	groups, err := d.groups(T, n)
	if err != nil {
		return err
	}
	_, d.dX = X.Dims()

	d.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, len(groups)-1,
	)

	ctrl := groups[0]
	Xc := tensor.GatherRows(X, ctrl)
	Yc := tensor.GatherRows(Y, ctrl)

	dT := d.TreatmentWidth()
	d.cateModels = make([]model.Regressor, dT)

	for g := 1; g < len(groups); g++ {
		trt := groups[g]
		Xt := tensor.GatherRows(X, trt)
		Yt := tensor.GatherRows(Y, trt)

		gc, gt, err := d.propensities(Xc, Xt, g)
		if err != nil {
			return err
		}

		// Controls reweighted toward the treated covariate distribution and
		// vice versa.
		wc := make([]float64, len(ctrl))
		for i, p := range gc {
			wc[i] = p / (1 - p)
		}
		wt := make([]float64, len(trt))
		for i, p := range gt {
			wt[i] = (1 - p) / p
		}

		mu0, err := d.fitWeighted(Xc, Yc, wc, g, "control outcome")
		if err != nil {
			return err
		}
		mu1, err := d.fitWeighted(Xt, Yt, wt, g, "treated outcome")
		if err != nil {
			return err
		}

		// Imputed effects on both groups feed the final model.
		mu1Xc, err := predictVec(mu1, Xc, d.Name)
		if err != nil {
			return err
		}
		mu0Xt, err := predictVec(mu0, Xt, d.Name)
		if err != nil {
			return err
		}
		nb := len(ctrl) + len(trt)
		imputed := mat.NewDense(nb, 1, nil)
		for i := range ctrl {
			imputed.Set(i, 0, mu1Xc[i]-Yc.At(i, 0))
		}
		for i := range trt {
			imputed.Set(len(ctrl)+i, 0, Yt.At(i, 0)-mu0Xt[i])
		}
		both := append(append([]int(nil), ctrl...), trt...)
		Xb := tensor.GatherRows(X, both)

		d.cateModels[g-1] = d.finalFactory()
		if err := d.cateModels[g-1].Fit(Xb, imputed); err != nil {
			return cerrors.Wrapf(err, "causalgo: DomainAdaptationLearner: category %v final", d.Categories()[g])
		}
	}
	d.SetFitted()
	return nil
}

// propensities fits P(treated | X) on the control + category g pool and
// returns the clipped propensity of each control and treated sample.
func (d *DomainAdaptationLearner) propensities(Xc, Xt mat.Matrix, g int) (gc, gt []float64, err error) {
	nc, _ := Xc.Dims()
	nt, _ := Xt.Dims()
	Xb, err := stackRows(Xc, Xt)
	if err != nil {
		return nil, nil, cerrors.Wrap(err, d.Name)
	}
	lbl := mat.NewDense(nc+nt, 1, nil)
	for i := nc; i < nc+nt; i++ {
		lbl.Set(i, 0, 1)
	}
	clf := d.propFactory()
	if err := clf.Fit(Xb, lbl); err != nil {
		return nil, nil, cerrors.Wrapf(err, "causalgo: DomainAdaptationLearner: category %v propensity", d.Categories()[g])
	}
	proba, err := clf.PredictProba(Xb)
	if err != nil {
		return nil, nil, cerrors.Wrap(err, d.Name)
	}
	treatedCol := len(clf.Classes()) - 1
	gc = make([]float64, nc)
	for i := 0; i < nc; i++ {
		gc[i] = cerrors.ClipProbability(proba.At(i, treatedCol), propensityClip)
	}
	gt = make([]float64, nt)
	for i := 0; i < nt; i++ {
		gt[i] = cerrors.ClipProbability(proba.At(nc+i, treatedCol), propensityClip)
	}
	return gc, gt, nil
}

func (d *DomainAdaptationLearner) fitWeighted(X, Y mat.Matrix, w []float64, g int, stage string) (model.Regressor, error) {
	m := d.outcomeFactory()
	wf, ok := m.(model.WeightedFitter)
	if !ok {
		return nil, cerrors.NewValidationError("outcome", "model must support sample weights (implement FitWeighted)", d.Name)
	}
	if err := wf.FitWeighted(X, Y, w); err != nil {
		return nil, cerrors.Wrapf(err, "causalgo: DomainAdaptationLearner: category %v %s", d.Categories()[g], stage)
	}
	return m, nil
}

// ConstMarginalEffect returns θ(X)[t], the final model predictions.
func (d *DomainAdaptationLearner) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !d.IsFitted() {
		return nil, cerrors.NewNotFittedError(d.Name, "ConstMarginalEffect")
	}
	m, err := d.checkFeatures(d.Name+".ConstMarginalEffect", X, d.dX)
	if err != nil {
		return nil, err
	}
	dT := d.TreatmentWidth()
	theta := mat.NewDense(m, dT, nil)
	for t := 0; t < dT; t++ {
		tau, err := predictVec(d.cateModels[t], X, d.Name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < m; i++ {
			theta.Set(i, t, tau[i])
		}
	}
	return theta, nil
}

// Effect computes τ(X, T0, T1) per row of X.
func (d *DomainAdaptationLearner) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := d.ConstMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	return d.effectFromTheta(theta, T0, T1, d.Name+".Effect")
}

// MarginalEffect equals ConstMarginalEffect for discrete treatments.
func (d *DomainAdaptationLearner) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return d.ConstMarginalEffect(X)
}

// CloneUnfitted returns an unfitted copy with the same factories.
func (d *DomainAdaptationLearner) CloneUnfitted() cate.Refittable {
	c := NewDomainAdaptationLearner(d.outcomeFactory)
	c.finalFactory = d.finalFactory
	c.propFactory = d.propFactory
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (d *DomainAdaptationLearner) FitDataset(ds *cate.Dataset) error {
	return d.fitCore(ds.Y, ds.T, ds.X)
}

func stackRows(a, b mat.Matrix) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != cb {
		return nil, cerrors.NewDimensionError("stackRows", ca, cb, 1)
	}
	out := mat.NewDense(ra+rb, ca, nil)
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			out.Set(i, j, a.At(i, j))
		}
	}
	for i := 0; i < rb; i++ {
		for j := 0; j < ca; j++ {
			out.Set(ra+i, j, b.At(i, j))
		}
	}
	return out, nil
}

var (
	_ cate.LinearEstimator = (*DomainAdaptationLearner)(nil)
	_ cate.Refittable      = (*DomainAdaptationLearner)(nil)
)
