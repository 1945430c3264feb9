// Package nnet provides the small feedforward networks used by the DeepIV
// estimator: an MLP regressor for the response surface and a Gaussian
// mixture density network for the first-stage treatment distribution. Both
// train with stochastic gradient descent from seeded RNG streams.
package nnet

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// denseLayer is a fully connected layer with tanh or identity activation.
type denseLayer struct {
	w    [][]float64 // out × in
	b    []float64
	tanh bool

	// scratch for backprop
	in  []float64
	out []float64
}

func newDenseLayer(in, out int, tanh bool, rng *rand.Rand) *denseLayer {
	l := &denseLayer{
		w:    make([][]float64, out),
		b:    make([]float64, out),
		tanh: tanh,
		in:   make([]float64, in),
		out:  make([]float64, out),
	}
	// Xavier-style init keeps tanh units out of saturation.
	scale := math.Sqrt(2 / float64(in+out))
	for o := range l.w {
		row := make([]float64, in)
		for i := range row {
			row[i] = rng.NormFloat64() * scale
		}
		l.w[o] = row
	}
	return l
}

func (l *denseLayer) forward(x []float64) []float64 {
	copy(l.in, x)
	for o := range l.w {
		s := l.b[o]
		row := l.w[o]
		for i, xi := range x {
			s += row[i] * xi
		}
		if l.tanh {
			s = math.Tanh(s)
		}
		l.out[o] = s
	}
	return l.out
}

// backward consumes dL/dout, applies the SGD update and returns dL/din.
func (l *denseLayer) backward(dOut []float64, lr float64) []float64 {
	dIn := make([]float64, len(l.in))
	for o := range l.w {
		d := dOut[o]
		if l.tanh {
			d *= 1 - l.out[o]*l.out[o]
		}
		row := l.w[o]
		for i := range row {
			dIn[i] += row[i] * d
			row[i] -= lr * d * l.in[i]
		}
		l.b[o] -= lr * d
	}
	return dIn
}

// MLPRegressor is a feedforward network with tanh hidden layers and a linear
// output, trained by stochastic gradient descent on squared error.
type MLPRegressor struct {
	model.BaseEstimator

	// HiddenSizes lists the hidden layer widths.
	HiddenSizes []int

	// Epochs is the number of passes over the data.
	Epochs int

	// LearningRate is the SGD step size.
	LearningRate float64

	// Seed drives weight init and shuffling.
	Seed uint64

	layers    []*denseLayer
	nFeatures int
}

// MLPOption configures an MLPRegressor.
type MLPOption func(*MLPRegressor)

// WithHiddenSizes sets the hidden layer widths.
func WithHiddenSizes(sizes ...int) MLPOption {
	return func(m *MLPRegressor) { m.HiddenSizes = sizes }
}

// WithEpochs sets the number of training passes.
func WithEpochs(n int) MLPOption {
	return func(m *MLPRegressor) { m.Epochs = n }
}

// WithLearningRate sets the SGD step size.
func WithLearningRate(lr float64) MLPOption {
	return func(m *MLPRegressor) { m.LearningRate = lr }
}

// WithMLPSeed fixes the RNG seed.
func WithMLPSeed(seed uint64) MLPOption {
	return func(m *MLPRegressor) { m.Seed = seed }
}

// NewMLPRegressor creates an MLP regressor.
func NewMLPRegressor(options ...MLPOption) *MLPRegressor {
	m := &MLPRegressor{
		HiddenSizes:  []int{32, 32},
		Epochs:       200,
		LearningRate: 0.01,
		Seed:         42,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *MLPRegressor) build(nFeatures int, rng *rand.Rand) {
	m.layers = nil
	in := nFeatures
	for _, h := range m.HiddenSizes {
		m.layers = append(m.layers, newDenseLayer(in, h, true, rng))
		in = h
	}
	m.layers = append(m.layers, newDenseLayer(in, 1, false, rng))
}

func (m *MLPRegressor) forward(x []float64) float64 {
	h := x
	for _, l := range m.layers {
		h = l.forward(h)
	}
	return h[0]
}

func (m *MLPRegressor) backward(dOut float64) {
	grad := []float64{dOut}
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(grad, m.LearningRate)
	}
}

// Fit trains the network with SGD on squared error, one sample at a time.
func (m *MLPRegressor) Fit(X, y mat.Matrix) error {
	n, c := X.Dims()
	ry, cy := y.Dims()
	if n == 0 || c == 0 {
		return errors.NewModelError("MLPRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != n {
		return errors.NewDimensionError("MLPRegressor.Fit", n, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("MLPRegressor.Fit", "y must be a column vector")
	}
	if m.Epochs <= 0 {
		return errors.NewValidationError("epochs", "must be positive", m.Epochs)
	}
	m.nFeatures = c

	rng := rand.New(rand.NewPCG(m.Seed, 0))
	m.build(c, rng)

	rows := make([][]float64, n)
	yv := make([]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = X.At(i, j)
		}
		rows[i] = row
		yv[i] = y.At(i, 0)
	}

	for epoch := 0; epoch < m.Epochs; epoch++ {
		perm := rng.Perm(n)
		for _, i := range perm {
			pred := m.forward(rows[i])
			if err := errors.CheckScalar("MLPRegressor.Fit", pred, epoch); err != nil {
				return err
			}
			m.backward(pred - yv[i])
		}
	}

	m.SetFitted()
	return nil
}

// Predict returns the network output per row.
func (m *MLPRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MLPRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != m.nFeatures {
		return nil, errors.NewDimensionError("MLPRegressor.Predict", m.nFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x[j] = X.At(i, j)
		}
		out.Set(i, 0, m.forward(x))
	}
	return out, nil
}
