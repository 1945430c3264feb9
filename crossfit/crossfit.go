package crossfit

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	"github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// Predict computes out-of-fold predictions: for every fold a fresh model from
// factory is fitted on the complement and predicts on the fold, so each row's
// prediction never saw that row during training. Folds are fitted
// concurrently. The result is n×1, aligned with the input rows.
func Predict(factory model.RegressorFactory, X, y mat.Matrix, folds []Fold) (*mat.Dense, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	covered := make([]bool, n)
	var mu sync.Mutex

	logger := log.GetLoggerWithName("crossfit")
	logger.Debug("cross-fitting nuisance model",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.FoldsKey, len(folds),
	)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, fold := range folds {
		g.Go(func() (err error) {
			defer errors.Recover("crossfit.Predict", &err)

			m := factory()
			trainX := tensor.GatherRows(X, fold.TrainIndices)
			trainY := tensor.GatherRows(y, fold.TrainIndices)
			if err := m.Fit(trainX, trainY); err != nil {
				return err
			}

			testX := tensor.GatherRows(X, fold.TestIndices)
			pred, err := m.Predict(testX)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for i, row := range fold.TestIndices {
				out.Set(row, 0, pred.At(i, 0))
				covered[row] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range covered {
		if !c {
			return nil, errors.Newf("causalgo: crossfit.Predict: row %d is not covered by any fold", i)
		}
	}
	return out, nil
}

// PredictProba computes out-of-fold class probabilities from a classifier
// factory. classes fixes the column order; every fold's model must observe
// all classes. The result is n×len(classes).
func PredictProba(factory model.ClassifierFactory, X, labels mat.Matrix, classes []float64, folds []Fold) (*mat.Dense, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(classes), nil)
	covered := make([]bool, n)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, fold := range folds {
		g.Go(func() (err error) {
			defer errors.Recover("crossfit.PredictProba", &err)

			m := factory()
			trainX := tensor.GatherRows(X, fold.TrainIndices)
			trainL := tensor.GatherRows(labels, fold.TrainIndices)
			if err := m.Fit(trainX, trainL); err != nil {
				return err
			}

			seen := m.Classes()
			if len(seen) != len(classes) {
				return errors.NewValueError("crossfit.PredictProba",
					"a fold's propensity model did not observe every treatment category; use a stratified splitter")
			}

			testX := tensor.GatherRows(X, fold.TestIndices)
			proba, err := m.PredictProba(testX)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for i, row := range fold.TestIndices {
				for c := range classes {
					out.Set(row, c, proba.At(i, c))
				}
				covered[row] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range covered {
		if !c {
			return nil, errors.Newf("causalgo: crossfit.PredictProba: row %d is not covered by any fold", i)
		}
	}
	return out, nil
}
