package nnet

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// MixtureDensityNetwork models a scalar target as a Gaussian mixture whose
// parameters (weights, means, log standard deviations) are produced by a
// tanh hidden layer over the inputs. DeepIV fits it as the first-stage
// treatment distribution T | X, Z and samples treatments from it when
// training the response network.
type MixtureDensityNetwork struct {
	model.BaseEstimator

	// Components is the number of mixture components.
	Components int

	// HiddenSize is the width of the hidden layer.
	HiddenSize int

	// Epochs is the number of passes over the data.
	Epochs int

	// LearningRate is the SGD step size.
	LearningRate float64

	// Seed drives weight init, shuffling and Sample.
	Seed uint64

	hidden    *denseLayer
	outLayer  *denseLayer // 3K outputs: logits | means | log sigmas
	nFeatures int
}

// MDNOption configures a MixtureDensityNetwork.
type MDNOption func(*MixtureDensityNetwork)

// WithComponents sets the number of mixture components.
func WithComponents(k int) MDNOption {
	return func(m *MixtureDensityNetwork) { m.Components = k }
}

// WithMDNHiddenSize sets the hidden layer width.
func WithMDNHiddenSize(h int) MDNOption {
	return func(m *MixtureDensityNetwork) { m.HiddenSize = h }
}

// WithMDNEpochs sets the number of training passes.
func WithMDNEpochs(n int) MDNOption {
	return func(m *MixtureDensityNetwork) { m.Epochs = n }
}

// WithMDNLearningRate sets the SGD step size.
func WithMDNLearningRate(lr float64) MDNOption {
	return func(m *MixtureDensityNetwork) { m.LearningRate = lr }
}

// WithMDNSeed fixes the RNG seed.
func WithMDNSeed(seed uint64) MDNOption {
	return func(m *MixtureDensityNetwork) { m.Seed = seed }
}

// NewMixtureDensityNetwork creates a mixture density network.
func NewMixtureDensityNetwork(options ...MDNOption) *MixtureDensityNetwork {
	m := &MixtureDensityNetwork{
		Components:   5,
		HiddenSize:   32,
		Epochs:       200,
		LearningRate: 0.01,
		Seed:         42,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// params runs the forward pass and splits the outputs into mixture
// parameters.
func (m *MixtureDensityNetwork) params(x []float64) (pi, mu, sigma []float64) {
	h := m.hidden.forward(x)
	raw := m.outLayer.forward(h)
	k := m.Components

	pi = make([]float64, k)
	mu = make([]float64, k)
	sigma = make([]float64, k)

	maxLogit := math.Inf(-1)
	for c := 0; c < k; c++ {
		if raw[c] > maxLogit {
			maxLogit = raw[c]
		}
	}
	var z float64
	for c := 0; c < k; c++ {
		pi[c] = math.Exp(raw[c] - maxLogit)
		z += pi[c]
	}
	for c := 0; c < k; c++ {
		pi[c] /= z
		mu[c] = raw[k+c]
		// Clamp log sigma to keep densities finite.
		ls := raw[2*k+c]
		if ls < -7 {
			ls = -7
		} else if ls > 7 {
			ls = 7
		}
		sigma[c] = math.Exp(ls)
	}
	return pi, mu, sigma
}

// Fit trains the network by SGD on the mixture negative log likelihood.
// y is the n×1 target (the treatment in DeepIV).
func (m *MixtureDensityNetwork) Fit(X, y mat.Matrix) error {
	n, c := X.Dims()
	ry, cy := y.Dims()
	if n == 0 || c == 0 {
		return errors.NewModelError("MixtureDensityNetwork.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != n {
		return errors.NewDimensionError("MixtureDensityNetwork.Fit", n, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("MixtureDensityNetwork.Fit", "y must be a column vector")
	}
	if m.Components < 1 {
		return errors.NewValidationError("components", "must be positive", m.Components)
	}
	m.nFeatures = c

	rng := rand.New(rand.NewPCG(m.Seed, 0))
	m.hidden = newDenseLayer(c, m.HiddenSize, true, rng)
	m.outLayer = newDenseLayer(m.HiddenSize, 3*m.Components, false, rng)

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

	k := m.Components
	grad := make([]float64, 3*k)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		perm := rng.Perm(n)
		for _, i := range perm {
			pi, mu, sigma := m.params(rows[i])
			t := yv[i]

			// Posterior responsibilities r_c ∝ π_c N(t; μ_c, σ_c).
			resp := make([]float64, k)
			var total float64
			for c := 0; c < k; c++ {
				d := (t - mu[c]) / sigma[c]
				resp[c] = pi[c] * math.Exp(-0.5*d*d) / sigma[c]
				total += resp[c]
			}
			if total <= 0 || math.IsNaN(total) {
				return errors.NewNumericalInstabilityError("MixtureDensityNetwork.Fit", []float64{total}, epoch)
			}
			for c := 0; c < k; c++ {
				resp[c] /= total
			}

			// NLL gradients w.r.t. raw outputs.
			for c := 0; c < k; c++ {
				grad[c] = pi[c] - resp[c]
				d := (t - mu[c]) / (sigma[c] * sigma[c])
				grad[k+c] = -resp[c] * d
				grad[2*k+c] = resp[c] * (1 - (t-mu[c])*(t-mu[c])/(sigma[c]*sigma[c]))
			}

			dHidden := m.outLayer.backward(grad, m.LearningRate)
			m.hidden.backward(dHidden, m.LearningRate)
		}
	}

	m.SetFitted()
	return nil
}

// Predict returns the mixture mean per row.
func (m *MixtureDensityNetwork) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MixtureDensityNetwork", "Predict")
	}
	r, c := X.Dims()
	if c != m.nFeatures {
		return nil, errors.NewDimensionError("MixtureDensityNetwork.Predict", m.nFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x[j] = X.At(i, j)
		}
		pi, mu, _ := m.params(x)
		var mean float64
		for c := range pi {
			mean += pi[c] * mu[c]
		}
		out.Set(i, 0, mean)
	}
	return out, nil
}

// Sample draws one target value from the fitted conditional mixture at x.
func (m *MixtureDensityNetwork) Sample(x []float64, rng *rand.Rand) (float64, error) {
	if !m.IsFitted() {
		return 0, errors.NewNotFittedError("MixtureDensityNetwork", "Sample")
	}
	if len(x) != m.nFeatures {
		return 0, errors.NewDimensionError("MixtureDensityNetwork.Sample", m.nFeatures, len(x), 1)
	}

	pi, mu, sigma := m.params(x)
	u := rng.Float64()
	var cum float64
	for c := range pi {
		cum += pi[c]
		if u <= cum || c == len(pi)-1 {
			return mu[c] + sigma[c]*rng.NormFloat64(), nil
		}
	}
	return mu[len(mu)-1], nil
}
