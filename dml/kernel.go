package dml

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// KernelDML is the double machine learning estimator with a nonparametric
// effect model: Φ(X) approximates an RBF kernel space through random Fourier
// features, and the final stage is a ridge regression on the interacted
// residuals. Intervals require bootstrap inference.
type KernelDML struct {
	estimator
	final *ridgeFinal
}

// NewKernelDML creates a KernelDML estimator. Use WithKernelDim,
// WithKernelGamma and WithRidgeAlpha to tune the feature map and the final
// penalty.
func NewKernelDML(opts ...Option) *KernelDML {
	d := &KernelDML{}
	d.estimator = *newEstimator("KernelDML", nil, opts)
	d.final = &ridgeFinal{alpha: d.opts.ridgeAlpha}
	d.estimator.final = d.final
	if d.opts.featurizer == nil {
		dim, gamma, seed := d.opts.kernelDim, d.opts.kernelGamma, d.opts.seed
		d.opts.featurizer = func() model.Transformer {
			return newFourierFeatures(dim, gamma, seed)
		}
	}
	return d
}

// Fit estimates the nuisances by cross-fitting and the effect model by
// ridge regression on the random-feature interactions.
func (d *KernelDML) Fit(Y, T, X, W mat.Matrix, opts ...cate.FitOption) error {
	if X == nil {
		return cerrors.NewValueError("KernelDML.Fit", "X is required for a kernel effect model")
	}
	fo := cate.NewFitOptions(opts...)
	if err := d.fit(Y, T, X, W, fo); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, W: W, SampleWeight: fo.SampleWeight}
	return d.FitInference(d, ds, fo)
}

// Effect computes τ(X, T0, T1) per row of X.
func (d *KernelDML) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	return d.effect(X, T0, T1)
}

// MarginalEffect computes ∂τ(T, X).
func (d *KernelDML) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return d.marginalEffect(T, X)
}

// ConstMarginalEffect computes θ(X).
func (d *KernelDML) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	return d.constMarginalEffect(X)
}

// Score computes the mean squared residual moment on held-out data.
func (d *KernelDML) Score(Y, T, X, W mat.Matrix) (float64, error) {
	return d.score(Y, T, X, W)
}

// CloneUnfitted returns an unfitted copy with the same configuration. The
// clone builds its own feature map from the shared factory when fitted.
func (d *KernelDML) CloneUnfitted() cate.Refittable {
	c := &KernelDML{}
	c.estimator = estimator{opts: d.opts.clone()}
	c.final = &ridgeFinal{alpha: c.opts.ridgeAlpha}
	c.estimator.final = c.final
	c.Name = d.Name
	c.logger = d.logger
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (d *KernelDML) FitDataset(ds *cate.Dataset) error {
	return d.fit(ds.Y, ds.T, ds.X, ds.W, &cate.FitOptions{SampleWeight: ds.SampleWeight})
}

var (
	_ cate.LinearEstimator = (*KernelDML)(nil)
	_ cate.Refittable      = (*KernelDML)(nil)
)

// ridgeFinal solves (Z'WZ + n·α·I)θ = Z'Wy.
type ridgeFinal struct {
	alpha float64
	coefs []float64
}

func (f *ridgeFinal) fit(Z, yRes *mat.Dense, sampleWeight []float64) error {
	n, p := Z.Dims()
	if sampleWeight != nil && len(sampleWeight) != n {
		return cerrors.NewDimensionError("KernelDML.finalStage", n, len(sampleWeight), 0)
	}

	A := mat.NewDense(p, p, nil)
	b := mat.NewVecDense(p, nil)
	for i := 0; i < n; i++ {
		wi := 1.0
		if sampleWeight != nil {
			wi = sampleWeight[i]
		}
		for j := 0; j < p; j++ {
			zij := Z.At(i, j)
			b.SetVec(j, b.AtVec(j)+wi*zij*yRes.At(i, 0))
			for k := j; k < p; k++ {
				A.Set(j, k, A.At(j, k)+wi*zij*Z.At(i, k))
			}
		}
	}
	ridge := float64(n) * f.alpha
	for j := 0; j < p; j++ {
		A.Set(j, j, A.At(j, j)+ridge)
		for k := j + 1; k < p; k++ {
			A.Set(k, j, A.At(j, k))
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(A, b); err != nil {
		return cerrors.Wrap(cerrors.ErrSingularMatrix, "KernelDML.finalStage")
	}
	f.coefs = make([]float64, p)
	for j := 0; j < p; j++ {
		f.coefs[j] = sol.AtVec(j)
	}
	return nil
}

func (f *ridgeFinal) coef() []float64 { return f.coefs }

// fourierFeatures approximates an RBF kernel exp(−γ‖x−x'‖²) with the random
// cosine map √(2/D)·cos(xΩ + b), Ω ~ N(0, 2γI), b ~ U[0, 2π).
type fourierFeatures struct {
	dim   int
	gamma float64
	seed  uint64

	omega  *mat.Dense
	offset []float64
	fitted bool
}

func newFourierFeatures(dim int, gamma float64, seed uint64) *fourierFeatures {
	return &fourierFeatures{dim: dim, gamma: gamma, seed: seed}
}

// Fit samples the random frequencies and phases.
func (f *fourierFeatures) Fit(X mat.Matrix) error {
	if X == nil {
		return cerrors.NewValueError("fourierFeatures.Fit", "X is required")
	}
	_, dX := X.Dims()
	if dX == 0 {
		return cerrors.ErrEmptyData
	}
	gamma := f.gamma
	if gamma <= 0 {
		gamma = 1 / float64(dX)
	}
	rng := rand.New(rand.NewPCG(f.seed, uint64(f.dim)))
	scale := math.Sqrt(2 * gamma)
	f.omega = mat.NewDense(dX, f.dim, nil)
	for i := 0; i < dX; i++ {
		for j := 0; j < f.dim; j++ {
			f.omega.Set(i, j, scale*rng.NormFloat64())
		}
	}
	f.offset = make([]float64, f.dim)
	for j := range f.offset {
		f.offset[j] = 2 * math.Pi * rng.Float64()
	}
	f.fitted = true
	return nil
}

// Transform maps X to its random cosine features.
func (f *fourierFeatures) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !f.fitted {
		return nil, cerrors.NewNotFittedError("fourierFeatures", "Transform")
	}
	n, dX := X.Dims()
	if oDX, _ := f.omega.Dims(); dX != oDX {
		return nil, cerrors.NewDimensionError("fourierFeatures.Transform", oDX, dX, 1)
	}
	var proj mat.Dense
	proj.Mul(X, f.omega)
	norm := math.Sqrt(2 / float64(f.dim))
	out := mat.NewDense(n, f.dim, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < f.dim; j++ {
			out.Set(i, j, norm*math.Cos(proj.At(i, j)+f.offset[j]))
		}
	}
	return out, nil
}

// FitTransform fits and transforms in one step.
func (f *fourierFeatures) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := f.Fit(X); err != nil {
		return nil, err
	}
	return f.Transform(X)
}
