package linear

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// LogisticRegression is a multinomial (softmax) classifier fitted by batch
// gradient descent with L2 regularization. Labels are numeric category codes
// in an n×1 matrix; binary problems are the two-class special case. Discrete
// treatment estimators use it as the default propensity model.
type LogisticRegression struct {
	model.BaseEstimator

	// C is the inverse regularization strength (larger means weaker
	// regularization), matching the scikit-learn convention.
	C float64

	// MaxIter bounds the number of gradient steps.
	MaxIter int

	// Tol is the convergence tolerance on the gradient norm.
	Tol float64

	// LearningRate is the gradient step size.
	LearningRate float64

	// Weights holds the fitted k×p coefficient matrix.
	Weights *mat.Dense

	// Intercepts holds the fitted per-class intercepts.
	Intercepts []float64

	classes   []float64
	nFeatures int

	// NIter is the number of gradient steps actually performed.
	NIter int
}

// LogisticRegressionOption configures a LogisticRegression.
type LogisticRegressionOption func(*LogisticRegression)

// WithLogisticC sets the inverse regularization strength.
func WithLogisticC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticMaxIter sets the gradient step budget.
func WithLogisticMaxIter(n int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MaxIter = n }
}

// WithLogisticTol sets the convergence tolerance.
func WithLogisticTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

// NewLogisticRegression creates a logistic regression classifier.
func NewLogisticRegression(options ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		C:            1.0,
		MaxIter:      500,
		Tol:          1e-5,
		LearningRate: 0.1,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// Fit trains the classifier on numeric labels.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	n, p, err := validateXy("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	lr.nFeatures = p

	// Discover sorted distinct labels.
	seen := make(map[float64]struct{})
	for i := 0; i < n; i++ {
		seen[y.At(i, 0)] = struct{}{}
	}
	lr.classes = make([]float64, 0, len(seen))
	for v := range seen {
		lr.classes = append(lr.classes, v)
	}
	sort.Float64s(lr.classes)
	k := len(lr.classes)
	if k < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "need at least two classes")
	}

	classIdx := make([]int, n)
	for i := 0; i < n; i++ {
		classIdx[i] = sort.SearchFloat64s(lr.classes, y.At(i, 0))
	}

	W := mat.NewDense(k, p, nil)
	b := make([]float64, k)
	lambda := 1 / (lr.C * float64(n))

	probs := make([]float64, k)
	gradW := mat.NewDense(k, p, nil)
	gradB := make([]float64, k)
	converged := false

	for iter := 0; iter < lr.MaxIter; iter++ {
		gradW.Zero()
		for c := range gradB {
			gradB[c] = 0
		}

		for i := 0; i < n; i++ {
			// softmax over class scores
			maxScore := math.Inf(-1)
			for c := 0; c < k; c++ {
				s := b[c]
				for j := 0; j < p; j++ {
					s += W.At(c, j) * X.At(i, j)
				}
				probs[c] = s
				if s > maxScore {
					maxScore = s
				}
			}
			var z float64
			for c := 0; c < k; c++ {
				probs[c] = math.Exp(probs[c] - maxScore)
				z += probs[c]
			}
			for c := 0; c < k; c++ {
				probs[c] /= z
			}

			for c := 0; c < k; c++ {
				d := probs[c]
				if c == classIdx[i] {
					d -= 1
				}
				gradB[c] += d
				for j := 0; j < p; j++ {
					gradW.Set(c, j, gradW.At(c, j)+d*X.At(i, j))
				}
			}
		}

		var gradNorm float64
		for c := 0; c < k; c++ {
			gb := gradB[c] / float64(n)
			gradNorm += gb * gb
			b[c] -= lr.LearningRate * gb
			for j := 0; j < p; j++ {
				g := gradW.At(c, j)/float64(n) + lambda*W.At(c, j)
				gradNorm += g * g
				W.Set(c, j, W.At(c, j)-lr.LearningRate*g)
			}
		}

		lr.NIter = iter + 1
		if math.Sqrt(gradNorm) < lr.Tol {
			converged = true
			break
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.NIter, ""))
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", W, k, p, lr.NIter); err != nil {
		return err
	}

	lr.Weights = W
	lr.Intercepts = b
	lr.SetFitted()
	return nil
}

// PredictProba returns the n×k matrix of class probabilities.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LogisticRegression", "PredictProba")
	}
	n, p := X.Dims()
	if p != lr.nFeatures {
		return nil, errors.NewDimensionError("LogisticRegression.PredictProba", lr.nFeatures, p, 1)
	}

	k := len(lr.classes)
	out := mat.NewDense(n, k, nil)
	scores := make([]float64, k)
	for i := 0; i < n; i++ {
		maxScore := math.Inf(-1)
		for c := 0; c < k; c++ {
			s := lr.Intercepts[c]
			for j := 0; j < p; j++ {
				s += lr.Weights.At(c, j) * X.At(i, j)
			}
			scores[c] = s
			if s > maxScore {
				maxScore = s
			}
		}
		var z float64
		for c := 0; c < k; c++ {
			scores[c] = math.Exp(scores[c] - maxScore)
			z += scores[c]
		}
		for c := 0; c < k; c++ {
			out.Set(i, c, scores[c]/z)
		}
	}
	return out, nil
}

// Predict returns the most probable class label per row.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best, bestP := 0, proba.At(i, 0)
		for c := 1; c < k; c++ {
			if proba.At(i, c) > bestP {
				best, bestP = c, proba.At(i, c)
			}
		}
		out.Set(i, 0, lr.classes[best])
	}
	return out, nil
}

// Classes returns the sorted distinct labels seen during Fit.
func (lr *LogisticRegression) Classes() []float64 {
	out := make([]float64, len(lr.classes))
	copy(out, lr.classes)
	return out
}

// Score returns the mean accuracy on the given labels.
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	n, _ := y.Dims()
	if n == 0 {
		return 0, errors.NewValueError("LogisticRegression.Score", "empty labels")
	}
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}
