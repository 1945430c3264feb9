package cate

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/preprocessing"
)

// BaseCATE carries the state shared by every estimator: fitted flag,
// treatment encoding, and the attached inference. Estimators embed it and
// call SetupTreatment during fit.
type BaseCATE struct {
	model.BaseEstimator

	// Name identifies the estimator in error messages.
	Name string

	discrete  bool
	encoder   *preprocessing.OneHotEncoder
	dT        int
	inference Inference
}

// SetupTreatment inspects the training treatments and fixes the encoded
// treatment width. For discrete treatments it fits a one-hot encoder that
// drops the control (first) category.
func (b *BaseCATE) SetupTreatment(T mat.Matrix, discrete bool) error {
	r, c := T.Dims()
	if r == 0 {
		return cerrors.ErrEmptyData
	}
	b.discrete = discrete
	if !discrete {
		b.encoder = nil
		b.dT = c
		return nil
	}
	if c != 1 {
		return cerrors.NewDimensionError(b.Name+".Fit", 1, c, 1)
	}
	enc := &preprocessing.OneHotEncoder{DropFirst: true}
	if err := enc.Fit(T); err != nil {
		return err
	}
	b.encoder = enc
	b.dT = enc.Width()
	return nil
}

// Discrete reports whether the estimator was fitted on categorical
// treatments.
func (b *BaseCATE) Discrete() bool { return b.discrete }

// TreatmentWidth returns the encoded treatment dimension d_t.
func (b *BaseCATE) TreatmentWidth() int { return b.dT }

// Categories returns the sorted treatment categories, or nil for continuous
// treatments.
func (b *BaseCATE) Categories() []float64 {
	if b.encoder == nil {
		return nil
	}
	return b.encoder.Categories
}

// EncodeTreatment maps a user-supplied treatment matrix to the encoded
// d_t-wide representation, broadcasting a single row to rows samples.
// Discrete estimators accept category labels (n×1) and warn when handed an
// already encoded matrix of the right width.
func (b *BaseCATE) EncodeTreatment(T mat.Matrix, rows int, op string) (*mat.Dense, error) {
	if T == nil {
		return nil, cerrors.NewValueError(op, "treatment matrix is nil")
	}
	_, c := T.Dims()

	if b.discrete {
		switch {
		case c == 1:
			enc, err := b.encoder.Transform(T)
			if err != nil {
				return nil, cerrors.Wrap(err, op)
			}
			return broadcastRows(mat.DenseCopyOf(enc), rows, op)
		case c == b.dT:
			cerrors.Warn(cerrors.NewTreatmentExpansionWarning(op, c))
			return broadcastRows(mat.DenseCopyOf(T), rows, op)
		default:
			return nil, cerrors.NewDimensionError(op, 1, c, 1)
		}
	}

	if c != b.dT {
		return nil, cerrors.NewDimensionError(op, b.dT, c, 1)
	}
	return broadcastRows(mat.DenseCopyOf(T), rows, op)
}

// TreatmentDelta computes the encoded T1−T0 difference for an Effect query.
// Nil arguments take the estimator defaults: 0 and 1 for continuous
// treatments, the first and second category for discrete ones.
func (b *BaseCATE) TreatmentDelta(T0, T1 mat.Matrix, rows int, op string) (*mat.Dense, error) {
	if T0 == nil {
		T0 = b.defaultTreatment(0, op)
	}
	if T1 == nil {
		var err error
		T1, err = b.defaultTarget(op)
		if err != nil {
			return nil, err
		}
	}
	e0, err := b.EncodeTreatment(T0, rows, op)
	if err != nil {
		return nil, err
	}
	e1, err := b.EncodeTreatment(T1, rows, op)
	if err != nil {
		return nil, err
	}
	var delta mat.Dense
	delta.Sub(e1, e0)
	return &delta, nil
}

func (b *BaseCATE) defaultTreatment(continuous float64, op string) mat.Matrix {
	if b.discrete {
		return mat.NewDense(1, 1, []float64{b.encoder.Categories[0]})
	}
	d := mat.NewDense(1, b.dT, nil)
	for j := 0; j < b.dT; j++ {
		d.Set(0, j, continuous)
	}
	return d
}

func (b *BaseCATE) defaultTarget(op string) (mat.Matrix, error) {
	if !b.discrete {
		return b.defaultTreatment(1, op), nil
	}
	if len(b.encoder.Categories) < 2 {
		return nil, cerrors.NewValueError(op, "a single treatment category admits no default target")
	}
	return mat.NewDense(1, 1, []float64{b.encoder.Categories[1]}), nil
}

// AttachInference stores the fitted inference object.
func (b *BaseCATE) AttachInference(inf Inference) { b.inference = inf }

// AttachedInference returns the inference fitted alongside the estimator,
// or nil.
func (b *BaseCATE) AttachedInference() Inference { return b.inference }

// EffectInterval delegates to the attached inference.
func (b *BaseCATE) EffectInterval(X, T0, T1 mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	if err := b.requireInference("EffectInterval"); err != nil {
		return nil, nil, err
	}
	return b.inference.EffectInterval(X, T0, T1, alpha)
}

// ConstMarginalEffectInterval delegates to the attached inference.
func (b *BaseCATE) ConstMarginalEffectInterval(X mat.Matrix, alpha float64) (*mat.Dense, *mat.Dense, error) {
	if err := b.requireInference("ConstMarginalEffectInterval"); err != nil {
		return nil, nil, err
	}
	return b.inference.ConstMarginalEffectInterval(X, alpha)
}

func (b *BaseCATE) requireInference(op string) error {
	if !b.IsFitted() {
		return cerrors.NewNotFittedError(b.Name, op)
	}
	if b.inference == nil {
		return cerrors.NewInferenceMissingError(b.Name, op)
	}
	return nil
}

// FitInference clones and fits the optional inference from opts against the
// freshly fitted estimator. Estimators call it at the end of Fit.
func (b *BaseCATE) FitInference(est Estimator, ds *Dataset, opts *FitOptions) error {
	b.inference = nil
	if opts == nil || opts.Inference == nil {
		return nil
	}
	inf := opts.Inference.Clone()
	if err := inf.Fit(est, ds); err != nil {
		return cerrors.Wrap(err, b.Name+": inference fit")
	}
	b.inference = inf
	return nil
}

func broadcastRows(m *mat.Dense, rows int, op string) (*mat.Dense, error) {
	r, c := m.Dims()
	if r == rows {
		return m, nil
	}
	if r != 1 {
		return nil, cerrors.NewDimensionError(op, rows, r, 0)
	}
	out := mat.NewDense(rows, c, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(0, j))
		}
	}
	return out, nil
}
