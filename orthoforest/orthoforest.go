// Package orthoforest implements the orthogonal random forest estimator of
// heterogeneous treatment effects. The treatment and outcome are first
// residualized on (X, W) with cross-fitted nuisance models, then an honest
// random forest grown on X supplies similarity weights, and the effect at a
// target point solves a locally weighted moment equation over the residuals.
package orthoforest

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/parallel"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/crossfit"
	"github.com/causalgo/causalgo/forest"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// momentRidge stabilizes the local moment solve against degenerate weights.
const momentRidge = 1e-6

type options struct {
	modelY      model.RegressorFactory
	modelT      model.RegressorFactory
	modelTProba model.ClassifierFactory
	discrete    bool
	folds       int
	seed        uint64
	forestOpts  []forest.ForestOption
}

// Option configures an OrthoForest.
type Option func(*options)

// WithModelY sets the factory of the outcome nuisance model E[Y|X,W].
func WithModelY(f model.RegressorFactory) Option {
	return func(o *options) { o.modelY = f }
}

// WithModelT sets the factory of the continuous treatment nuisance model.
func WithModelT(f model.RegressorFactory) Option {
	return func(o *options) { o.modelT = f }
}

// WithModelTClassifier sets the propensity model for discrete treatments.
func WithModelTClassifier(f model.ClassifierFactory) Option {
	return func(o *options) { o.modelTProba = f }
}

// WithDiscreteTreatment declares the treatment categorical.
func WithDiscreteTreatment() Option {
	return func(o *options) { o.discrete = true }
}

// WithFolds sets the number of cross-fitting folds.
func WithFolds(k int) Option {
	return func(o *options) { o.folds = k }
}

// WithSeed seeds the cross-fitting shuffle and the forest.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithForestOptions passes options through to the underlying honest forest.
func WithForestOptions(opts ...forest.ForestOption) Option {
	return func(o *options) { o.forestOpts = append(o.forestOpts, opts...) }
}

// OrthoForest estimates θ(x) nonparametrically. Intervals require bootstrap
// inference.
type OrthoForest struct {
	cate.BaseCATE

	opts   *options
	forest *forest.RandomForestRegressor

	xTrain *mat.Dense
	yRes   *mat.Dense
	tRes   *mat.Dense

	logger log.Logger
}

// NewOrthoForest creates an orthogonal random forest estimator.
func NewOrthoForest(opts ...Option) *OrthoForest {
	o := &options{
		modelY:      func() model.Regressor { return linear.NewLinearRegression() },
		modelT:      func() model.Regressor { return linear.NewLinearRegression() },
		modelTProba: func() model.Classifier { return linear.NewLogisticRegression() },
		folds:       2,
		seed:        42,
	}
	for _, opt := range opts {
		opt(o)
	}
	e := &OrthoForest{opts: o}
	e.Name = "OrthoForest"
	e.logger = log.GetLoggerWithName("orthoforest").With(log.EstimatorKey, e.Name)
	return e
}

// Fit residualizes (Y, T) on (X, W) and grows the honest forest on X. X is
// required; W is optional.
func (e *OrthoForest) Fit(Y, T, X, W mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := e.fitCore(Y, T, X, W); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, W: W, SampleWeight: fo.SampleWeight}
	return e.FitInference(e, ds, fo)
}

func (e *OrthoForest) fitCore(Y, T, X, W mat.Matrix) error {
	if Y == nil || T == nil || X == nil {
		return cerrors.NewValueError("OrthoForest.Fit", "Y, T and X are required")
	}
	n, cy := Y.Dims()
	if n == 0 {
		return cerrors.ErrEmptyData
	}
	if cy != 1 {
		return cerrors.NewDimensionError("OrthoForest.Fit", 1, cy, 1)
	}
	for _, m := range []mat.Matrix{T, X, W} {
		if m == nil {
			continue
		}
		if r, _ := m.Dims(); r != n {
			return cerrors.NewDimensionError("OrthoForest.Fit", n, r, 0)
		}
	}
	if e.opts.folds < 2 {
		return cerrors.NewValidationError("folds", "need at least 2 cross-fitting folds", e.opts.folds)
	}
	if err := e.SetupTreatment(T, e.opts.discrete); err != nil {
		return err
	}

	e.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, e.TreatmentWidth(),
		log.FoldsKey, e.opts.folds,
	)

	XW, err := tensor.HStack(X, W)
	if err != nil {
		return cerrors.Wrap(err, "OrthoForest.Fit")
	}

	tEnc, err := e.EncodeTreatment(T, n, "OrthoForest.Fit")
	if err != nil {
		return err
	}

	var splitter crossfit.Splitter
	var labels []float64
	if e.opts.discrete {
		labels = make([]float64, n)
		for i := range labels {
			labels[i] = T.At(i, 0)
		}
		splitter = crossfit.NewStratifiedKFold(e.opts.folds, e.opts.seed)
	} else {
		splitter = crossfit.NewKFold(e.opts.folds, true, e.opts.seed)
	}
	folds, err := splitter.Split(n, labels)
	if err != nil {
		return cerrors.Wrap(err, "OrthoForest.Fit")
	}

	yHat, err := crossfit.Predict(e.opts.modelY, XW, Y, folds)
	if err != nil {
		return cerrors.Wrap(err, "OrthoForest: outcome nuisance")
	}
	e.yRes = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		e.yRes.Set(i, 0, Y.At(i, 0)-yHat.At(i, 0))
	}

	dT := e.TreatmentWidth()
	e.tRes = mat.NewDense(n, dT, nil)
	if e.opts.discrete {
		proba, err := crossfit.PredictProba(e.opts.modelTProba, XW, T, e.Categories(), folds)
		if err != nil {
			return cerrors.Wrap(err, "OrthoForest: propensity nuisance")
		}
		for i := 0; i < n; i++ {
			for j := 0; j < dT; j++ {
				p := cerrors.ClipProbability(proba.At(i, j+1), 1e-6)
				e.tRes.Set(i, j, tEnc.At(i, j)-p)
			}
		}
	} else {
		for j := 0; j < dT; j++ {
			col := tensor.ColVec(tEnc, j)
			tHat, err := crossfit.Predict(e.opts.modelT, XW, col, folds)
			if err != nil {
				return cerrors.Wrap(err, "OrthoForest: treatment nuisance")
			}
			for i := 0; i < n; i++ {
				e.tRes.Set(i, j, col.At(i, 0)-tHat.At(i, 0))
			}
		}
	}

	// The splitting target ỹ·t̃ points the trees at effect heterogeneity;
	// leaf values are irrelevant, only co-membership is used.
	target := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		target.Set(i, 0, e.yRes.At(i, 0)*e.tRes.At(i, 0))
	}

	fOpts := append([]forest.ForestOption{
		forest.WithHonest(true),
		forest.WithSeed(e.opts.seed),
	}, e.opts.forestOpts...)
	e.forest = forest.NewRandomForestRegressor(fOpts...)
	if err := e.forest.Fit(X, target); err != nil {
		return cerrors.Wrap(err, "OrthoForest: forest")
	}

	e.xTrain = tensor.Clone(X)
	e.SetFitted()
	return nil
}

// ConstMarginalEffect solves the locally weighted moment equation
// θ(x) = (Σ aᵢ t̃ᵢt̃ᵢ')⁻¹ Σ aᵢ t̃ᵢỹᵢ per row of X, with forest similarity
// weights aᵢ.
func (e *OrthoForest) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, cerrors.NewNotFittedError(e.Name, "ConstMarginalEffect")
	}
	if X == nil {
		return nil, cerrors.NewValueError("OrthoForest.ConstMarginalEffect", "X is required")
	}
	m, cx := X.Dims()
	if _, want := e.xTrain.Dims(); cx != want {
		return nil, cerrors.NewDimensionError("OrthoForest.ConstMarginalEffect", want, cx, 1)
	}

	dT := e.TreatmentWidth()
	theta := mat.NewDense(m, dT, nil)

	var mu sync.Mutex
	var firstErr error
	parallel.Parallelize(m, func(start, end int) {
		x := make([]float64, cx)
		for i := start; i < end; i++ {
			for j := 0; j < cx; j++ {
				x[j] = X.At(i, j)
			}
			row, err := e.solveLocal(x)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for t := 0; t < dT; t++ {
				theta.Set(i, t, row[t])
			}
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return theta, nil
}

func (e *OrthoForest) solveLocal(x []float64) ([]float64, error) {
	a, err := e.forest.SimilarityWeights(x)
	if err != nil {
		return nil, cerrors.Wrap(err, "OrthoForest")
	}
	n, _ := e.xTrain.Dims()
	dT := e.TreatmentWidth()

	A := mat.NewDense(dT, dT, nil)
	b := mat.NewVecDense(dT, nil)
	for i := 0; i < n; i++ {
		if a[i] == 0 {
			continue
		}
		for s := 0; s < dT; s++ {
			ts := e.tRes.At(i, s)
			b.SetVec(s, b.AtVec(s)+a[i]*ts*e.yRes.At(i, 0))
			for t := 0; t < dT; t++ {
				A.Set(s, t, A.At(s, t)+a[i]*ts*e.tRes.At(i, t))
			}
		}
	}
	for s := 0; s < dT; s++ {
		A.Set(s, s, A.At(s, s)+momentRidge)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(A, b); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrSingularMatrix, "OrthoForest: local moment")
	}
	out := make([]float64, dT)
	for t := 0; t < dT; t++ {
		out[t] = sol.AtVec(t)
	}
	return out, nil
}

// Effect computes τ(X, T0, T1) per row of X.
func (e *OrthoForest) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := e.ConstMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	m, dT := theta.Dims()
	delta, err := e.TreatmentDelta(T0, T1, m, "OrthoForest.Effect")
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

// MarginalEffect computes ∂τ(T, X), which equals θ(X) because the local
// moment model is linear in the treatment.
func (e *OrthoForest) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return e.ConstMarginalEffect(X)
}

// CloneUnfitted returns an unfitted copy with the same configuration.
func (e *OrthoForest) CloneUnfitted() cate.Refittable {
	o := *e.opts
	o.forestOpts = append([]forest.ForestOption(nil), e.opts.forestOpts...)
	c := &OrthoForest{opts: &o}
	c.Name = e.Name
	c.logger = e.logger
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (e *OrthoForest) FitDataset(ds *cate.Dataset) error {
	return e.fitCore(ds.Y, ds.T, ds.X, ds.W)
}

var (
	_ cate.LinearEstimator = (*OrthoForest)(nil)
	_ cate.Refittable      = (*OrthoForest)(nil)
)
