// Package tsls implements sieve two stage least squares estimation of
// treatment effects with instruments. The treatment is expanded in a
// Hermite polynomial sieve, each sieve column is instrumented by a first
// stage regression on a basis of (Z, X, W), and the outcome is regressed on
// the predicted sieve interacted with polynomial features of X.
package tsls

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
	"github.com/causalgo/causalgo/preprocessing"
)

// SieveTSLS estimates E[Y | do(T), X] = β·(ψ(T) ⊗ φ(X)) + γ·[X, W] with
// instrumented sieve features. The treatment must be continuous; intervals
// require bootstrap inference.
type SieveTSLS struct {
	cate.BaseCATE

	treatmentDegree  int
	instrumentDegree int
	featureDegree    int

	psi    *preprocessing.HermiteFeatures
	phiX   *preprocessing.PolynomialFeatures
	basis  *preprocessing.HermiteFeatures
	second *linear.WeightedOLS

	firstStage []*linear.LinearRegression

	dT, dPsi, dPhi, dX, dW int
	hasX, hasW             bool

	logger log.Logger
}

// Option configures a SieveTSLS.
type Option func(*SieveTSLS)

// WithTreatmentDegree sets the Hermite degree of the treatment sieve ψ(T).
func WithTreatmentDegree(d int) Option {
	return func(s *SieveTSLS) { s.treatmentDegree = d }
}

// WithInstrumentDegree sets the Hermite degree of the first stage basis
// over (Z, X).
func WithInstrumentDegree(d int) Option {
	return func(s *SieveTSLS) { s.instrumentDegree = d }
}

// WithFeatureDegree sets the polynomial degree of the heterogeneity
// features φ(X).
func WithFeatureDegree(d int) Option {
	return func(s *SieveTSLS) { s.featureDegree = d }
}

// NewSieveTSLS creates a sieve two stage least squares estimator.
func NewSieveTSLS(opts ...Option) *SieveTSLS {
	s := &SieveTSLS{
		treatmentDegree:  2,
		instrumentDegree: 2,
		featureDegree:    1,
	}
	s.Name = "SieveTSLS"
	s.logger = log.GetLoggerWithName("tsls").With(log.EstimatorKey, s.Name)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit runs both stages. Y, T and Z are required; X and W are optional.
func (s *SieveTSLS) Fit(Y, T, X, W, Z mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := s.fitCore(Y, T, X, W, Z, fo.SampleWeight); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, W: W, Z: Z, SampleWeight: fo.SampleWeight}
	return s.FitInference(s, ds, fo)
}

func (s *SieveTSLS) fitCore(Y, T, X, W, Z mat.Matrix, sampleWeight []float64) error {
	if Y == nil || T == nil || Z == nil {
		return cerrors.NewValueError("SieveTSLS.Fit", "Y, T and Z are required")
	}
	n, cy := Y.Dims()
	if n == 0 {
		return cerrors.ErrEmptyData
	}
	if cy != 1 {
		return cerrors.NewDimensionError("SieveTSLS.Fit", 1, cy, 1)
	}
	for _, m := range []mat.Matrix{T, X, W, Z} {
		if m == nil {
			continue
		}
		if r, _ := m.Dims(); r != n {
			return cerrors.NewDimensionError("SieveTSLS.Fit", n, r, 0)
		}
	}
	if err := s.SetupTreatment(T, false); err != nil {
		return err
	}
	_, s.dT = T.Dims()
	s.hasX = X != nil
	s.hasW = W != nil
	if s.hasX {
		_, s.dX = X.Dims()
	}
	if s.hasW {
		_, s.dW = W.Dims()
	}

	s.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, s.dT,
		log.InstrumentsKey, func() int { _, c := Z.Dims(); return c }(),
	)

	// Treatment sieve ψ(T).
	s.psi = preprocessing.NewHermiteFeatures(s.treatmentDegree, false)
	psiT, err := s.psi.FitTransform(T)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}
	_, s.dPsi = psiT.Dims()

	// First stage basis over (Z, X).
	ZX, err := tensor.HStack(Z, X)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}
	s.basis = preprocessing.NewHermiteFeatures(s.instrumentDegree, false)
	B, err := s.basis.FitTransform(ZX)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}
	BW, err := tensor.HStack(B, W)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}

	// Instrument each sieve column.
	psiHat := mat.NewDense(n, s.dPsi, nil)
	s.firstStage = make([]*linear.LinearRegression, s.dPsi)
	for j := 0; j < s.dPsi; j++ {
		reg := linear.NewLinearRegression()
		if err := reg.Fit(BW, tensor.ColVec(psiT, j)); err != nil {
			return cerrors.Wrap(err, "SieveTSLS: first stage")
		}
		pred, err := reg.Predict(BW)
		if err != nil {
			return cerrors.Wrap(err, "SieveTSLS: first stage")
		}
		for i := 0; i < n; i++ {
			psiHat.Set(i, j, pred.At(i, 0))
		}
		s.firstStage[j] = reg
	}

	phi, err := s.featurizeX(X, n)
	if err != nil {
		return err
	}
	_, s.dPhi = phi.Dims()

	inter, err := tensor.CrossProduct(psiHat, phi)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}
	design, err := tensor.HStack(inter, X, W)
	if err != nil {
		return cerrors.Wrap(err, "SieveTSLS")
	}

	s.second = linear.NewWeightedOLS(true)
	if err := s.second.FitWeighted(design, Y, sampleWeight); err != nil {
		return cerrors.Wrap(err, "SieveTSLS: second stage")
	}

	s.SetFitted()
	return nil
}

// featurizeX builds φ(X) = [1, poly(X)]; a nil X yields the constant column.
func (s *SieveTSLS) featurizeX(X mat.Matrix, rows int) (*mat.Dense, error) {
	if X == nil {
		if s.hasX {
			return nil, cerrors.NewValueError("SieveTSLS", "estimator was fitted with X, cannot evaluate without it")
		}
		return tensor.Ones(rows), nil
	}
	if !s.hasX {
		return nil, cerrors.NewValueError("SieveTSLS", "estimator was fitted without X")
	}
	var poly mat.Matrix
	var err error
	if s.phiX == nil {
		s.phiX = preprocessing.NewPolynomialFeatures(s.featureDegree, false)
		poly, err = s.phiX.FitTransform(X)
	} else {
		poly, err = s.phiX.Transform(X)
	}
	if err != nil {
		return nil, cerrors.Wrap(err, "SieveTSLS")
	}
	r, _ := poly.Dims()
	return tensor.HStack(tensor.Constant(r, 1, 1), poly)
}

// interactionEffect evaluates β·(ψdiff ⊗ φ(X)) per row, using only the
// interaction block of the second stage coefficients.
func (s *SieveTSLS) interactionEffect(psiDiff, phi *mat.Dense) (*mat.Dense, error) {
	m, _ := phi.Dims()
	coef := s.second.Coef
	if len(coef) < s.dPsi*s.dPhi {
		return nil, cerrors.NewDimensionError("SieveTSLS", s.dPsi*s.dPhi, len(coef), 1)
	}
	out := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		var v float64
		for j := 0; j < s.dPsi; j++ {
			for f := 0; f < s.dPhi; f++ {
				v += coef[j*s.dPhi+f] * psiDiff.At(i, j) * phi.At(i, f)
			}
		}
		out.Set(i, 0, v)
	}
	return out, nil
}

// Effect computes τ(X, T0, T1) = β·((ψ(T1) − ψ(T0)) ⊗ φ(X)). Nil treatments
// default to 0 and 1.
func (s *SieveTSLS) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, cerrors.NewNotFittedError(s.Name, "Effect")
	}
	rows := 1
	if X != nil {
		rows, _ = X.Dims()
	}
	phi, err := s.featurizeX(X, rows)
	if err != nil {
		return nil, err
	}
	if T0 == nil {
		T0 = tensor.Constant(1, s.dT, 0)
	}
	if T1 == nil {
		T1 = tensor.Constant(1, s.dT, 1)
	}
	e0, err := s.EncodeTreatment(T0, rows, "SieveTSLS.Effect")
	if err != nil {
		return nil, err
	}
	e1, err := s.EncodeTreatment(T1, rows, "SieveTSLS.Effect")
	if err != nil {
		return nil, err
	}
	p0, err := s.psi.Transform(e0)
	if err != nil {
		return nil, cerrors.Wrap(err, "SieveTSLS")
	}
	p1, err := s.psi.Transform(e1)
	if err != nil {
		return nil, cerrors.Wrap(err, "SieveTSLS")
	}
	diff, err := tensor.Sub(p1, p0)
	if err != nil {
		return nil, cerrors.Wrap(err, "SieveTSLS")
	}
	return s.interactionEffect(diff, phi)
}

// MarginalEffect computes ∂τ/∂T at T using the Hermite derivative
// He'_k = k·He_{k−1}. The result is m×d_t.
func (s *SieveTSLS) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, cerrors.NewNotFittedError(s.Name, "MarginalEffect")
	}
	rows := 1
	if X != nil {
		rows, _ = X.Dims()
	} else if T != nil {
		rows, _ = T.Dims()
	}
	phi, err := s.featurizeX(X, rows)
	if err != nil {
		return nil, err
	}
	if T == nil {
		T = tensor.Constant(1, s.dT, 0)
	}
	enc, err := s.EncodeTreatment(T, rows, "SieveTSLS.MarginalEffect")
	if err != nil {
		return nil, err
	}

	out := mat.NewDense(rows, s.dT, nil)
	for i := 0; i < rows; i++ {
		for tj := 0; tj < s.dT; tj++ {
			// dψ/dT_j is nonzero only on treatment tj's sieve columns; the
			// sieve is laid out degree-major, He_k of column j at (k−1)·d_t+j.
			he := hermiteSequence(enc.At(i, tj), s.treatmentDegree)
			diff := mat.NewDense(1, s.dPsi, nil)
			for k := 1; k <= s.treatmentDegree; k++ {
				diff.Set(0, (k-1)*s.dT+tj, float64(k)*he[k-1])
			}
			phiRow := mat.NewDense(1, s.dPhi, nil)
			for f := 0; f < s.dPhi; f++ {
				phiRow.Set(0, f, phi.At(i, f))
			}
			v, err := s.interactionEffect(diff, phiRow)
			if err != nil {
				return nil, err
			}
			out.Set(i, tj, v.At(0, 0))
		}
	}
	return out, nil
}

// hermiteSequence returns He_0..He_degree at x.
func hermiteSequence(x float64, degree int) []float64 {
	he := make([]float64, degree+1)
	he[0] = 1
	if degree >= 1 {
		he[1] = x
	}
	for k := 1; k < degree; k++ {
		he[k+1] = x*he[k] - float64(k)*he[k-1]
	}
	return he
}

// CloneUnfitted returns an unfitted copy with the same configuration.
func (s *SieveTSLS) CloneUnfitted() cate.Refittable {
	return NewSieveTSLS(
		WithTreatmentDegree(s.treatmentDegree),
		WithInstrumentDegree(s.instrumentDegree),
		WithFeatureDegree(s.featureDegree),
	)
}

// FitDataset fits on a dataset without attaching inference.
func (s *SieveTSLS) FitDataset(ds *cate.Dataset) error {
	return s.fitCore(ds.Y, ds.T, ds.X, ds.W, ds.Z, ds.SampleWeight)
}

var (
	_ cate.Estimator  = (*SieveTSLS)(nil)
	_ cate.Refittable = (*SieveTSLS)(nil)
)
