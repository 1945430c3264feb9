package metalearners

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// SLearner fits a single outcome model on the features stacked with the
// encoded treatment, and estimates effects by toggling the treatment input.
type SLearner struct {
	base

	factory model.RegressorFactory
	model   model.Regressor
	dX      int

	logger log.Logger
}

// NewSLearner creates an SLearner over the given outcome model factory.
func NewSLearner(factory model.RegressorFactory) *SLearner {
	s := &SLearner{factory: factory}
	s.Name = "SLearner"
	s.logger = log.GetLoggerWithName("metalearners").With(log.EstimatorKey, s.Name)
	return s
}

// Fit trains the outcome model on [X, onehot(T)].
func (s *SLearner) Fit(Y, T, X mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := s.fitCore(Y, T, X); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, SampleWeight: fo.SampleWeight}
	return s.FitInference(s, ds, fo)
}

func (s *SLearner) fitCore(Y, T, X mat.Matrix) error {
	n, err := s.validate(s.Name+".Fit", Y, T, X)
	if err != nil {
		return err
	}
	if err := s.SetupTreatment(T, true); err != nil {
		return err
	}
	_, s.dX = X.Dims()

	tEnc, err := s.EncodeTreatment(T, n, s.Name+".Fit")
	if err != nil {
		return err
	}
	feats, err := tensor.HStack(X, tEnc)
	if err != nil {
		return cerrors.Wrap(err, s.Name)
	}

	s.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.TreatmentsKey, s.TreatmentWidth(),
	)

	s.model = s.factory()
	if err := s.model.Fit(feats, Y); err != nil {
		return cerrors.Wrap(err, s.Name)
	}
	s.SetFitted()
	return nil
}

// predictAt predicts the outcome with every row's treatment input fixed to
// the encoded category enc.
func (s *SLearner) predictAt(X mat.Matrix, enc []float64) ([]float64, error) {
	m, _ := X.Dims()
	tcols := mat.NewDense(m, len(enc), nil)
	for i := 0; i < m; i++ {
		for j, v := range enc {
			tcols.Set(i, j, v)
		}
	}
	feats, err := tensor.HStack(X, tcols)
	if err != nil {
		return nil, cerrors.Wrap(err, s.Name)
	}
	return predictVec(s.model, feats, s.Name)
}

// ConstMarginalEffect returns θ(X)[t] = μ(X, t+1) − μ(X, control).
func (s *SLearner) ConstMarginalEffect(X mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, cerrors.NewNotFittedError(s.Name, "ConstMarginalEffect")
	}
	m, err := s.checkFeatures(s.Name+".ConstMarginalEffect", X, s.dX)
	if err != nil {
		return nil, err
	}
	dT := s.TreatmentWidth()
	zero := make([]float64, dT)
	mu0, err := s.predictAt(X, zero)
	if err != nil {
		return nil, err
	}
	theta := mat.NewDense(m, dT, nil)
	for t := 0; t < dT; t++ {
		enc := make([]float64, dT)
		enc[t] = 1
		mut, err := s.predictAt(X, enc)
		if err != nil {
			return nil, err
		}
		for i := 0; i < m; i++ {
			theta.Set(i, t, mut[i]-mu0[i])
		}
	}
	return theta, nil
}

// Effect computes τ(X, T0, T1) per row of X.
func (s *SLearner) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	theta, err := s.ConstMarginalEffect(X)
	if err != nil {
		return nil, err
	}
	return s.effectFromTheta(theta, T0, T1, s.Name+".Effect")
}

// MarginalEffect equals ConstMarginalEffect for discrete treatments.
func (s *SLearner) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	return s.ConstMarginalEffect(X)
}

// CloneUnfitted returns an unfitted copy with the same outcome factory.
func (s *SLearner) CloneUnfitted() cate.Refittable {
	return NewSLearner(s.factory)
}

// FitDataset fits on a dataset without attaching inference.
func (s *SLearner) FitDataset(ds *cate.Dataset) error {
	return s.fitCore(ds.Y, ds.T, ds.X)
}

var (
	_ cate.LinearEstimator = (*SLearner)(nil)
	_ cate.Refittable      = (*SLearner)(nil)
)
