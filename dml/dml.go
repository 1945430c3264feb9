// Package dml implements double machine learning estimators of conditional
// average treatment effects. The estimators residualize the outcome and the
// treatment on (X, W) with cross-fitted nuisance models, then regress the
// outcome residuals on the treatment residuals interacted with a feature map
// of X. LinearDML uses an OLS final stage, SparseLinearDML a lasso final
// stage, and KernelDML a ridge final stage on random Fourier features.
package dml

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/crossfit"
	"github.com/causalgo/causalgo/linear"
	"github.com/causalgo/causalgo/metrics"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// overlapThreshold is the propensity below which an OverlapWarning fires.
const overlapThreshold = 0.01

// propensityEps clips predicted propensities away from 0 and 1.
const propensityEps = 1e-6

type options struct {
	modelY      model.RegressorFactory
	modelT      model.RegressorFactory
	modelTProba model.ClassifierFactory

	discrete      bool
	folds         int
	splitter      crossfit.Splitter
	featurizer    model.TransformerFactory
	cateIntercept bool
	seed          uint64

	kernelDim   int
	kernelGamma float64
	ridgeAlpha  float64
}

func defaultOptions() *options {
	return &options{
		modelY:        func() model.Regressor { return linear.NewLinearRegression() },
		modelT:        func() model.Regressor { return linear.NewLinearRegression() },
		modelTProba:   func() model.Classifier { return linear.NewLogisticRegression() },
		folds:         2,
		cateIntercept: true,
		seed:          42,
		kernelDim:     20,
		kernelGamma:   0, // 1/d_x, resolved at fit
		ridgeAlpha:    0.1,
	}
}

func (o *options) clone() *options {
	c := *o
	return &c
}

// Option configures a DML estimator.
type Option func(*options)

// WithModelY sets the factory of the outcome nuisance model E[Y|X,W].
func WithModelY(f model.RegressorFactory) Option {
	return func(o *options) { o.modelY = f }
}

// WithModelT sets the factory of the continuous treatment nuisance model
// E[T|X,W].
func WithModelT(f model.RegressorFactory) Option {
	return func(o *options) { o.modelT = f }
}

// WithModelTClassifier sets the factory of the propensity model P(T|X,W)
// used for discrete treatments.
func WithModelTClassifier(f model.ClassifierFactory) Option {
	return func(o *options) { o.modelTProba = f }
}

// WithDiscreteTreatment declares the treatment categorical. The treatment
// column then holds category labels, effects are expressed against the
// lowest (control) category, and the propensity classifier replaces the
// treatment regressor.
func WithDiscreteTreatment() Option {
	return func(o *options) { o.discrete = true }
}

// WithFolds sets the number of cross-fitting folds.
func WithFolds(k int) Option {
	return func(o *options) { o.folds = k }
}

// WithSplitter overrides the cross-fitting splitter. The default is a
// shuffled KFold, or a StratifiedKFold for discrete treatments.
func WithSplitter(s crossfit.Splitter) Option {
	return func(o *options) { o.splitter = s }
}

// WithFeaturizer sets the factory of the transformation applied to X before
// the final stage. Every fit constructs its own transformer from the
// factory, so bootstrap replicas never share featurizer state. The default
// feature map is X itself.
func WithFeaturizer(f model.TransformerFactory) Option {
	return func(o *options) { o.featurizer = f }
}

// WithCATEIntercept controls whether the feature map carries a constant
// column. On by default.
func WithCATEIntercept(fit bool) Option {
	return func(o *options) { o.cateIntercept = fit }
}

// WithSeed sets the seed of the cross-fitting shuffle and of the random
// Fourier features of KernelDML.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithKernelDim sets the number of random Fourier features of KernelDML.
func WithKernelDim(dim int) Option {
	return func(o *options) { o.kernelDim = dim }
}

// WithKernelGamma sets the RBF bandwidth of KernelDML. Zero means 1/d_x.
func WithKernelGamma(gamma float64) Option {
	return func(o *options) { o.kernelGamma = gamma }
}

// WithRidgeAlpha sets the L2 penalty of the KernelDML final stage.
func WithRidgeAlpha(alpha float64) Option {
	return func(o *options) { o.ridgeAlpha = alpha }
}

// finalStage fits θ coefficients from the interacted residual regression
// Z = T̃ ⊗ Φ(X) against Ỹ.
type finalStage interface {
	fit(Z, yRes *mat.Dense, sampleWeight []float64) error
	coef() []float64
}

// estimator is the machinery shared by the DML variants.
type estimator struct {
	cate.BaseCATE

	opts  *options
	final finalStage

	featurizer model.Transformer
	dPhi       int
	hasX       bool

	// full-data nuisances, kept for out-of-sample scoring
	scoreY  model.Regressor
	scoreT  []model.Regressor
	scoreTC model.Classifier

	meanOnly bool
	meanY    float64
	meanT    []float64

	logger log.Logger
}

func newEstimator(name string, final finalStage, opts []Option) *estimator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	e := &estimator{opts: o, final: final}
	e.Name = name
	e.logger = log.GetLoggerWithName("dml").With(log.EstimatorKey, name)
	return e
}

func (e *estimator) fit(Y, T, X, W mat.Matrix, fo *cate.FitOptions) error {
	if fo == nil {
		fo = &cate.FitOptions{}
	}
	n, err := validateInputs(e.Name, Y, T, X, W)
	if err != nil {
		return err
	}
	if e.opts.folds < 2 {
		return cerrors.NewValidationError("folds", "need at least 2 cross-fitting folds", e.opts.folds)
	}
	if err := e.SetupTreatment(T, e.opts.discrete); err != nil {
		return err
	}
	e.hasX = X != nil

	e.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, e.TreatmentWidth(),
		log.FoldsKey, e.opts.folds,
	)

	XW, err := tensor.HStack(X, W)
	if err != nil {
		return cerrors.Wrap(err, e.Name)
	}

	yRes, tRes, err := e.residualize(Y, T, XW, n)
	if err != nil {
		return err
	}

	phi, err := e.featurize(X, n, true)
	if err != nil {
		return err
	}
	Z, err := tensor.CrossProduct(tRes, phi)
	if err != nil {
		return cerrors.Wrap(err, e.Name)
	}

	if err := e.final.fit(Z, yRes, fo.SampleWeight); err != nil {
		return cerrors.Wrap(err, e.Name+": final stage")
	}

	if err := e.fitScoreNuisances(Y, T, XW, n); err != nil {
		return err
	}

	e.SetFitted()
	return nil
}

// residualize computes the cross-fitted residuals Ỹ = Y − Ê[Y|X,W] and
// T̃ = T − Ê[T|X,W] (encoded T minus predicted propensities for discrete
// treatments). With neither X nor W present the nuisance estimate is the
// sample mean.
func (e *estimator) residualize(Y, T mat.Matrix, XW *mat.Dense, n int) (yRes, tRes *mat.Dense, err error) {
	tEnc, err := e.EncodeTreatment(T, n, e.Name+".Fit")
	if err != nil {
		return nil, nil, err
	}

	if XW == nil {
		e.meanOnly = true
		return centeredResiduals(Y, tEnc)
	}

	labels := nuisanceLabels(T, e.opts.discrete)
	folds, err := e.splitter(n).Split(n, labels)
	if err != nil {
		return nil, nil, cerrors.Wrap(err, e.Name)
	}

	yHat, err := crossfit.Predict(e.opts.modelY, XW, Y, folds)
	if err != nil {
		return nil, nil, cerrors.Wrap(err, e.Name+": outcome nuisance")
	}
	yRes = tensorSub(Y, yHat)

	if e.opts.discrete {
		proba, err := crossfit.PredictProba(e.opts.modelTProba, XW, T, e.Categories(), folds)
		if err != nil {
			return nil, nil, cerrors.Wrap(err, e.Name+": propensity nuisance")
		}
		tRes = e.propensityResiduals(tEnc, proba)
		return yRes, tRes, nil
	}

	dT := e.TreatmentWidth()
	tRes = mat.NewDense(n, dT, nil)
	for j := 0; j < dT; j++ {
		col := tensor.ColVec(tEnc, j)
		tHat, err := crossfit.Predict(e.opts.modelT, XW, col, folds)
		if err != nil {
			return nil, nil, cerrors.Wrap(err, e.Name+": treatment nuisance")
		}
		for i := 0; i < n; i++ {
			tRes.Set(i, j, col.At(i, 0)-tHat.At(i, 0))
		}
	}
	return yRes, tRes, nil
}

// propensityResiduals subtracts the clipped propensities (all categories but
// the control) from the one-hot encoding and warns when overlap is poor.
func (e *estimator) propensityResiduals(tEnc, proba *mat.Dense) *mat.Dense {
	n, k := proba.Dims()
	minP := math.Inf(1)
	poor := 0
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			p := proba.At(i, j)
			if p < minP {
				minP = p
			}
			if p < overlapThreshold || p > 1-overlapThreshold {
				poor++
			}
		}
	}
	if poor > 0 {
		cerrors.Warn(cerrors.NewOverlapWarning(e.Name, minP, overlapThreshold, poor))
	}

	dT := e.TreatmentWidth()
	res := mat.NewDense(n, dT, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < dT; j++ {
			p := cerrors.ClipProbability(proba.At(i, j+1), propensityEps)
			res.Set(i, j, tEnc.At(i, j)-p)
		}
	}
	return res
}

func (e *estimator) splitter(n int) crossfit.Splitter {
	if e.opts.splitter != nil {
		return e.opts.splitter
	}
	if e.opts.discrete {
		return crossfit.NewStratifiedKFold(e.opts.folds, e.opts.seed)
	}
	return crossfit.NewKFold(e.opts.folds, true, e.opts.seed)
}

// featurize maps X into the final stage feature matrix Φ(X), prepending the
// constant column when the CATE intercept is on. A nil X yields rows constant
// columns.
func (e *estimator) featurize(X mat.Matrix, rows int, fitting bool) (*mat.Dense, error) {
	op := e.Name + ".featurize"
	if X == nil {
		if e.hasX && !fitting {
			return nil, cerrors.NewValueError(op, "estimator was fitted with X, cannot evaluate without it")
		}
		if !e.opts.cateIntercept {
			return nil, cerrors.NewValueError(op, "no features: X is nil and the CATE intercept is off")
		}
		e.dPhi = 1
		return tensor.Ones(rows), nil
	}
	if !e.hasX {
		return nil, cerrors.NewValueError(op, "estimator was fitted without X")
	}

	feat := X
	if e.opts.featurizer != nil {
		var err error
		if fitting {
			e.featurizer = e.opts.featurizer()
			feat, err = e.featurizer.FitTransform(X)
		} else {
			feat, err = e.featurizer.Transform(X)
		}
		if err != nil {
			return nil, cerrors.Wrap(err, op)
		}
	}

	var phi *mat.Dense
	if e.opts.cateIntercept {
		r, _ := feat.Dims()
		var err error
		phi, err = tensor.HStack(tensor.Constant(r, 1, 1), feat)
		if err != nil {
			return nil, cerrors.Wrap(err, op)
		}
	} else {
		phi = tensor.Clone(feat)
	}
	if fitting {
		_, e.dPhi = phi.Dims()
	} else if _, c := phi.Dims(); c != e.dPhi {
		return nil, cerrors.NewDimensionError(op, e.dPhi, c, 1)
	}
	return phi, nil
}

// fitScoreNuisances fits the nuisance models on the full sample so that
// Score can residualize held-out data.
func (e *estimator) fitScoreNuisances(Y, T mat.Matrix, XW *mat.Dense, n int) error {
	tEnc, err := e.EncodeTreatment(T, n, e.Name+".Fit")
	if err != nil {
		return err
	}
	if XW == nil {
		e.meanY = colMean(Y, 0)
		e.meanT = make([]float64, e.TreatmentWidth())
		for j := range e.meanT {
			e.meanT[j] = colMean(tEnc, j)
		}
		return nil
	}

	e.scoreY = e.opts.modelY()
	if err := e.scoreY.Fit(XW, Y); err != nil {
		return cerrors.Wrap(err, e.Name+": outcome nuisance")
	}
	if e.opts.discrete {
		e.scoreTC = e.opts.modelTProba()
		if err := e.scoreTC.Fit(XW, T); err != nil {
			return cerrors.Wrap(err, e.Name+": propensity nuisance")
		}
		return nil
	}
	e.scoreT = make([]model.Regressor, e.TreatmentWidth())
	for j := range e.scoreT {
		e.scoreT[j] = e.opts.modelT()
		if err := e.scoreT[j].Fit(XW, tensor.ColVec(tEnc, j)); err != nil {
			return cerrors.Wrap(err, e.Name+": treatment nuisance")
		}
	}
	return nil
}

// constMarginalEffect computes θ(X), an m×d_t matrix of marginal effects.
func (e *estimator) constMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, cerrors.NewNotFittedError(e.Name, "ConstMarginalEffect")
	}
	phi, err := e.featurize(X, 1, false)
	if err != nil {
		return nil, err
	}
	return effectsFromCoef(e.final.coef(), phi, e.TreatmentWidth(), e.dPhi, e.Name)
}

// effectsFromCoef evaluates θ(x)[t] = Σ_f coef[t·dφ+f]·Φ(x)[f] per row.
func effectsFromCoef(coef []float64, phi *mat.Dense, dT, dPhi int, name string) (*mat.Dense, error) {
	if len(coef) != dT*dPhi {
		return nil, cerrors.NewDimensionError(name, dT*dPhi, len(coef), 1)
	}
	m, _ := phi.Dims()
	theta := mat.NewDense(m, dT, nil)
	for i := 0; i < m; i++ {
		for t := 0; t < dT; t++ {
			var s float64
			for f := 0; f < dPhi; f++ {
				s += coef[t*dPhi+f] * phi.At(i, f)
			}
			theta.Set(i, t, s)
		}
	}
	return theta, nil
}

func (e *estimator) effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := e.constMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	m, dT := theta.Dims()
	delta, err := e.TreatmentDelta(T0, T1, m, e.Name+".Effect")
	if err != nil {
		return nil, err
	}
	eff := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		var s float64
		for t := 0; t < dT; t++ {
			s += theta.At(i, t) * delta.At(i, t)
		}
		eff.Set(i, 0, s)
	}
	return eff, nil
}

// marginalEffect returns θ(X) broadcast to the rows of T. The effect is
// linear in the treatment, so the base treatment is irrelevant.
func (e *estimator) marginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	theta, err := e.constMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	if X != nil || T == nil {
		return theta, nil
	}
	rows, _ := T.Dims()
	_, dT := theta.Dims()
	out := mat.NewDense(rows, dT, nil)
	for i := 0; i < rows; i++ {
		for t := 0; t < dT; t++ {
			out.Set(i, t, theta.At(0, t))
		}
	}
	return out, nil
}

// score computes the mean squared residual moment E[(Ỹ − θ(X)·T̃)²] on
// held-out data, using nuisance models refit on the training sample. Values
// near zero indicate a well-specified effect model.
func (e *estimator) score(Y, T, X, W mat.Matrix) (float64, error) {
	if !e.IsFitted() {
		return 0, cerrors.NewNotFittedError(e.Name, "Score")
	}
	n, err := validateInputs(e.Name+".Score", Y, T, X, W)
	if err != nil {
		return 0, err
	}
	XW, err := tensor.HStack(X, W)
	if err != nil {
		return 0, cerrors.Wrap(err, e.Name)
	}
	tEnc, err := e.EncodeTreatment(T, n, e.Name+".Score")
	if err != nil {
		return 0, err
	}

	var yRes, tRes *mat.Dense
	if XW == nil {
		if !e.meanOnly {
			return 0, cerrors.NewValueError(e.Name+".Score", "estimator was fitted with controls, cannot score without them")
		}
		yRes = mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			yRes.Set(i, 0, Y.At(i, 0)-e.meanY)
		}
		dT := e.TreatmentWidth()
		tRes = mat.NewDense(n, dT, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < dT; j++ {
				tRes.Set(i, j, tEnc.At(i, j)-e.meanT[j])
			}
		}
	} else {
		yHat, err := e.scoreY.Predict(XW)
		if err != nil {
			return 0, cerrors.Wrap(err, e.Name+".Score")
		}
		yRes = tensorSub(Y, yHat)

		dT := e.TreatmentWidth()
		tRes = mat.NewDense(n, dT, nil)
		if e.opts.discrete {
			proba, err := e.scoreTC.PredictProba(XW)
			if err != nil {
				return 0, cerrors.Wrap(err, e.Name+".Score")
			}
			for i := 0; i < n; i++ {
				for j := 0; j < dT; j++ {
					p := cerrors.ClipProbability(proba.At(i, j+1), propensityEps)
					tRes.Set(i, j, tEnc.At(i, j)-p)
				}
			}
		} else {
			for j := 0; j < dT; j++ {
				tHat, err := e.scoreT[j].Predict(XW)
				if err != nil {
					return 0, cerrors.Wrap(err, e.Name+".Score")
				}
				for i := 0; i < n; i++ {
					tRes.Set(i, j, tEnc.At(i, j)-tHat.At(i, 0))
				}
			}
		}
	}

	theta, err := e.constMarginalEffect(X)
	if err != nil {
		return 0, err
	}
	if r, _ := theta.Dims(); r == 1 && n > 1 {
		dT := e.TreatmentWidth()
		full := mat.NewDense(n, dT, nil)
		for i := 0; i < n; i++ {
			for t := 0; t < dT; t++ {
				full.Set(i, t, theta.At(0, t))
			}
		}
		theta = full
	}
	return metrics.ResidualMomentScore(yRes, tRes, theta)
}

func validateInputs(op string, Y, T, X, W mat.Matrix) (int, error) {
	if Y == nil || T == nil {
		return 0, cerrors.NewValueError(op, "Y and T are required")
	}
	n, cy := Y.Dims()
	if n == 0 {
		return 0, cerrors.ErrEmptyData
	}
	if cy != 1 {
		return 0, cerrors.NewDimensionError(op, 1, cy, 1)
	}
	for _, m := range []mat.Matrix{T, X, W} {
		if m == nil {
			continue
		}
		if r, _ := m.Dims(); r != n {
			return 0, cerrors.NewDimensionError(op, n, r, 0)
		}
	}
	return n, nil
}

func nuisanceLabels(T mat.Matrix, discrete bool) []float64 {
	if !discrete {
		return nil
	}
	n, _ := T.Dims()
	labels := make([]float64, n)
	for i := range labels {
		labels[i] = T.At(i, 0)
	}
	return labels
}

func centeredResiduals(Y mat.Matrix, tEnc *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	n, _ := Y.Dims()
	_, dT := tEnc.Dims()
	my := colMean(Y, 0)
	yRes := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		yRes.Set(i, 0, Y.At(i, 0)-my)
	}
	tRes := mat.NewDense(n, dT, nil)
	for j := 0; j < dT; j++ {
		mt := colMean(tEnc, j)
		for i := 0; i < n; i++ {
			tRes.Set(i, j, tEnc.At(i, j)-mt)
		}
	}
	return yRes, tRes, nil
}

func colMean(m mat.Matrix, j int) float64 {
	r, _ := m.Dims()
	var s float64
	for i := 0; i < r; i++ {
		s += m.At(i, j)
	}
	return s / float64(r)
}

func tensorSub(a, b mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, a.At(i, j)-b.At(i, j))
		}
	}
	return out
}
