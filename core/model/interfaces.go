package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter is the interface of models trained on (X, y).
type Fitter interface {
	// Fit trains the model. y is an n×1 matrix.
	Fit(X, y mat.Matrix) error
}

// WeightedFitter is implemented by models that accept per-sample weights.
// Estimators that require weighted nuisance fits (e.g. the domain adaptation
// metalearner) demand this interface.
type WeightedFitter interface {
	// FitWeighted trains the model with non-negative sample weights.
	// A nil weight slice means uniform weights.
	FitWeighted(X, y mat.Matrix, sampleWeight []float64) error
}

// Predictor is the interface of models that predict from features.
type Predictor interface {
	// Predict returns an n×1 matrix of predictions.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer is the interface of models that report a goodness-of-fit score.
type Scorer interface {
	// Score returns the coefficient of determination R² of the prediction.
	Score(X, y mat.Matrix) (float64, error)
}

// Regressor is the contract a pluggable nuisance regressor must satisfy.
type Regressor interface {
	Fitter
	Predictor
}

// Classifier is the contract a pluggable nuisance classifier must satisfy.
// Labels are numeric category codes carried in an n×1 matrix.
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns an n×k matrix of class probabilities, columns
	// ordered like Classes.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted distinct labels seen during fitting.
	Classes() []float64
}

// Transformer is the interface of feature transformations (scalers,
// featurizers, encoders).
type Transformer interface {
	// Fit learns the transformation parameters from X.
	Fit(X mat.Matrix) error

	// Transform applies the fitted transformation.
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform fits and transforms in one step.
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// RegressorFactory builds fresh, unfitted regressors. Cross-fitting fits an
// independent model per fold, so estimators take factories rather than model
// instances.
type RegressorFactory func() Regressor

// ClassifierFactory builds fresh, unfitted classifiers.
type ClassifierFactory func() Classifier

// TransformerFactory builds fresh, unfitted transformers. Estimators that
// refit on resampled data construct one transformer per fit so that
// concurrent refits never share state.
type TransformerFactory func() Transformer
