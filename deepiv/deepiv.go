// Package deepiv implements the deep instrumental variables estimator. A
// mixture density network models the conditional treatment distribution
// T | X, Z, then a response network h(T, X) is trained on outcomes against
// treatments sampled from that distribution, integrating the first stage
// out of the response surface. Effects are differences of the fitted
// response network.
package deepiv

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/nnet"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// DeepIV estimates E[Y | do(T), X] with neural first and second stages. The
// treatment must be a single continuous column; intervals require bootstrap
// inference.
type DeepIV struct {
	cate.BaseCATE

	samples int
	seed    uint64
	mdnOpts []nnet.MDNOption
	mlpOpts []nnet.MLPOption

	treatmentModel *nnet.MixtureDensityNetwork
	response       *nnet.MLPRegressor
	dX, dZ         int
	hasX           bool

	logger log.Logger
}

// Option configures a DeepIV.
type Option func(*DeepIV)

// WithSamples sets how many treatments are drawn per observation when
// training the response network.
func WithSamples(n int) Option {
	return func(d *DeepIV) { d.samples = n }
}

// WithSeed seeds treatment sampling.
func WithSeed(seed uint64) Option {
	return func(d *DeepIV) { d.seed = seed }
}

// WithTreatmentNetwork passes options to the first stage mixture density
// network.
func WithTreatmentNetwork(opts ...nnet.MDNOption) Option {
	return func(d *DeepIV) { d.mdnOpts = append(d.mdnOpts, opts...) }
}

// WithResponseNetwork passes options to the response network.
func WithResponseNetwork(opts ...nnet.MLPOption) Option {
	return func(d *DeepIV) { d.mlpOpts = append(d.mlpOpts, opts...) }
}

// NewDeepIV creates a DeepIV estimator.
func NewDeepIV(opts ...Option) *DeepIV {
	d := &DeepIV{samples: 2, seed: 42}
	d.Name = "DeepIV"
	d.logger = log.GetLoggerWithName("deepiv").With(log.EstimatorKey, d.Name)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fit trains both networks. Y, T and Z are required; X is optional.
func (d *DeepIV) Fit(Y, T, X, Z mat.Matrix, opts ...cate.FitOption) error {
	fo := cate.NewFitOptions(opts...)
	if err := d.fitCore(Y, T, X, Z); err != nil {
		return err
	}
	ds := &cate.Dataset{Y: Y, T: T, X: X, Z: Z}
	return d.FitInference(d, ds, fo)
}

func (d *DeepIV) fitCore(Y, T, X, Z mat.Matrix) error {
	if Y == nil || T == nil || Z == nil {
		return cerrors.NewValueError("DeepIV.Fit", "Y, T and Z are required")
	}
	n, cy := Y.Dims()
	if n == 0 {
		return cerrors.ErrEmptyData
	}
	if cy != 1 {
		return cerrors.NewDimensionError("DeepIV.Fit", 1, cy, 1)
	}
	if _, ct := T.Dims(); ct != 1 {
		return cerrors.NewValueError("DeepIV.Fit", "a single continuous treatment column is required")
	}
	for _, m := range []mat.Matrix{T, X, Z} {
		if m == nil {
			continue
		}
		if r, _ := m.Dims(); r != n {
			return cerrors.NewDimensionError("DeepIV.Fit", n, r, 0)
		}
	}
	if d.samples < 1 {
		return cerrors.NewValidationError("samples", "need at least one treatment sample per observation", d.samples)
	}
	if err := d.SetupTreatment(T, false); err != nil {
		return err
	}
	d.hasX = X != nil
	if d.hasX {
		_, d.dX = X.Dims()
	}
	_, d.dZ = Z.Dims()

	d.logger.Info("fitting",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.InstrumentsKey, d.dZ,
	)

	XZ, err := tensor.HStack(X, Z)
	if err != nil {
		return cerrors.Wrap(err, "DeepIV")
	}

	d.treatmentModel = nnet.NewMixtureDensityNetwork(d.mdnOpts...)
	if err := d.treatmentModel.Fit(XZ, T); err != nil {
		return cerrors.Wrap(err, "DeepIV: treatment network")
	}

	// Response training set: rows ([t_s, x_i], y_i) with t_s drawn from the
	// fitted treatment distribution at (x_i, z_i).
	rng := rand.New(rand.NewPCG(d.seed, uint64(d.samples)))
	nOut := n * d.samples
	feats := mat.NewDense(nOut, 1+d.dX, nil)
	targets := mat.NewDense(nOut, 1, nil)
	xz := make([]float64, d.dX+d.dZ)
	for i := 0; i < n; i++ {
		for j := range xz {
			xz[j] = XZ.At(i, j)
		}
		for s := 0; s < d.samples; s++ {
			t, err := d.treatmentModel.Sample(xz, rng)
			if err != nil {
				return cerrors.Wrap(err, "DeepIV: treatment sampling")
			}
			row := i*d.samples + s
			feats.Set(row, 0, t)
			for j := 0; j < d.dX; j++ {
				feats.Set(row, 1+j, X.At(i, j))
			}
			targets.Set(row, 0, Y.At(i, 0))
		}
	}

	d.response = nnet.NewMLPRegressor(d.mlpOpts...)
	if err := d.response.Fit(feats, targets); err != nil {
		return cerrors.Wrap(err, "DeepIV: response network")
	}

	d.SetFitted()
	return nil
}

// respond evaluates h(t, x) with every row's treatment fixed to enc[i].
func (d *DeepIV) respond(X mat.Matrix, t *mat.Dense) ([]float64, error) {
	rows, _ := t.Dims()
	feats := mat.NewDense(rows, 1+d.dX, nil)
	for i := 0; i < rows; i++ {
		feats.Set(i, 0, t.At(i, 0))
		for j := 0; j < d.dX; j++ {
			feats.Set(i, 1+j, X.At(i, j))
		}
	}
	pred, err := d.response.Predict(feats)
	if err != nil {
		return nil, cerrors.Wrap(err, "DeepIV")
	}
	return tensor.ToSlice(pred)
}

func (d *DeepIV) queryRows(X mat.Matrix, op string) (int, error) {
	if X == nil {
		if d.hasX {
			return 0, cerrors.NewValueError(op, "estimator was fitted with X, cannot evaluate without it")
		}
		return 1, nil
	}
	if !d.hasX {
		return 0, cerrors.NewValueError(op, "estimator was fitted without X")
	}
	m, c := X.Dims()
	if c != d.dX {
		return 0, cerrors.NewDimensionError(op, d.dX, c, 1)
	}
	return m, nil
}

// Effect computes τ(X, T0, T1) = h(T1, X) − h(T0, X). Nil treatments
// default to 0 and 1.
func (d *DeepIV) Effect(X, T0, T1 mat.Matrix) (*mat.Dense, error) {
	if !d.IsFitted() {
		return nil, cerrors.NewNotFittedError(d.Name, "Effect")
	}
	m, err := d.queryRows(X, "DeepIV.Effect")
	if err != nil {
		return nil, err
	}
	if T0 == nil {
		T0 = tensor.Constant(1, 1, 0)
	}
	if T1 == nil {
		T1 = tensor.Constant(1, 1, 1)
	}
	e0, err := d.EncodeTreatment(T0, m, "DeepIV.Effect")
	if err != nil {
		return nil, err
	}
	e1, err := d.EncodeTreatment(T1, m, "DeepIV.Effect")
	if err != nil {
		return nil, err
	}
	h0, err := d.respond(X, e0)
	if err != nil {
		return nil, err
	}
	h1, err := d.respond(X, e1)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		out.Set(i, 0, h1[i]-h0[i])
	}
	return out, nil
}

// marginalStep is the finite difference step of MarginalEffect.
const marginalStep = 1e-4

// MarginalEffect computes ∂h/∂T at T by central finite differences.
func (d *DeepIV) MarginalEffect(T, X mat.Matrix) (*mat.Dense, error) {
	if !d.IsFitted() {
		return nil, cerrors.NewNotFittedError(d.Name, "MarginalEffect")
	}
	m, err := d.queryRows(X, "DeepIV.MarginalEffect")
	if err != nil {
		return nil, err
	}
	if T == nil {
		T = tensor.Constant(1, 1, 0)
	}
	enc, err := d.EncodeTreatment(T, m, "DeepIV.MarginalEffect")
	if err != nil {
		return nil, err
	}
	lo := mat.NewDense(m, 1, nil)
	hi := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		lo.Set(i, 0, enc.At(i, 0)-marginalStep)
		hi.Set(i, 0, enc.At(i, 0)+marginalStep)
	}
	hLo, err := d.respond(X, lo)
	if err != nil {
		return nil, err
	}
	hHi, err := d.respond(X, hi)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		out.Set(i, 0, (hHi[i]-hLo[i])/(2*marginalStep))
	}
	return out, nil
}

// CloneUnfitted returns an unfitted copy with the same configuration.
func (d *DeepIV) CloneUnfitted() cate.Refittable {
	c := NewDeepIV(WithSamples(d.samples), WithSeed(d.seed))
	c.mdnOpts = append([]nnet.MDNOption(nil), d.mdnOpts...)
	c.mlpOpts = append([]nnet.MLPOption(nil), d.mlpOpts...)
	return c
}

// FitDataset fits on a dataset without attaching inference.
func (d *DeepIV) FitDataset(ds *cate.Dataset) error {
	return d.fitCore(ds.Y, ds.T, ds.X, ds.Z)
}

var (
	_ cate.Estimator  = (*DeepIV)(nil)
	_ cate.Refittable = (*DeepIV)(nil)
)
