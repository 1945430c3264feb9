package crossfit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/linear"
)

func TestKFold(t *testing.T) {
	t.Run("covers every index exactly once", func(t *testing.T) {
		folds, err := NewKFold(3, false, 0).Split(10, nil)
		require.NoError(t, err)
		require.Len(t, folds, 3)

		seen := make([]int, 10)
		for _, f := range folds {
			for _, i := range f.TestIndices {
				seen[i]++
			}
			assert.Len(t, f.TrainIndices, 10-len(f.TestIndices))
		}
		for i, c := range seen {
			assert.Equalf(t, 1, c, "index %d", i)
		}
	})

	t.Run("shuffle is seeded", func(t *testing.T) {
		a, err := NewKFold(2, true, 7).Split(20, nil)
		require.NoError(t, err)
		b, err := NewKFold(2, true, 7).Split(20, nil)
		require.NoError(t, err)
		assert.Equal(t, a[0].TestIndices, b[0].TestIndices)
	})

	t.Run("fewer than 2 splits falls back", func(t *testing.T) {
		kf := NewKFold(1, false, 0)
		assert.Equal(t, 2, kf.NSplits)
	})

	t.Run("more splits than samples", func(t *testing.T) {
		_, err := NewKFold(5, false, 0).Split(3, nil)
		assert.Error(t, err)
	})
}

func TestStratifiedKFold(t *testing.T) {
	labels := make([]float64, 30)
	for i := range labels {
		labels[i] = float64(i % 3)
	}

	t.Run("every fold sees every label", func(t *testing.T) {
		folds, err := NewStratifiedKFold(2, 1).Split(30, labels)
		require.NoError(t, err)
		for _, f := range folds {
			got := map[float64]bool{}
			for _, i := range f.TestIndices {
				got[labels[i]] = true
			}
			assert.Len(t, got, 3)
		}
	})

	t.Run("nil labels rejected", func(t *testing.T) {
		_, err := NewStratifiedKFold(2, 1).Split(30, nil)
		assert.Error(t, err)
	})

	t.Run("sparse category rejected", func(t *testing.T) {
		sparse := append([]float64{}, labels...)
		for i := range sparse {
			sparse[i] = 0
		}
		sparse[0] = 1
		_, err := NewStratifiedKFold(2, 1).Split(30, sparse)
		assert.Error(t, err)
	})
}

func TestFoldList(t *testing.T) {
	t.Run("passes through valid folds", func(t *testing.T) {
		fl := FoldList{{TrainIndices: []int{0, 1}, TestIndices: []int{2, 3}}}
		folds, err := fl.Split(4, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, folds[0].TestIndices)
	})

	t.Run("rejects out-of-range indices", func(t *testing.T) {
		fl := FoldList{{TrainIndices: []int{0}, TestIndices: []int{9}}}
		_, err := fl.Split(4, nil)
		assert.Error(t, err)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		_, err := FoldList{}.Split(4, nil)
		assert.Error(t, err)
	})
}

func TestPredict(t *testing.T) {
	// y = 3x fitted out of fold: predictions still track the line since
	// each training half identifies the same slope.
	n := 40
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n)
		X.Set(i, 0, x)
		y.Set(i, 0, 3*x)
	}

	factory := func() model.Regressor { return linear.NewLinearRegression() }
	folds, err := NewKFold(2, true, 4).Split(n, nil)
	require.NoError(t, err)

	pred, err := Predict(factory, X, y, folds)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.InDelta(t, y.At(i, 0), pred.At(i, 0), 1e-6)
	}
}

func TestPredictProba(t *testing.T) {
	n := 60
	X := mat.NewDense(n, 1, nil)
	labels := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := float64(i%2)*4 - 2
		X.Set(i, 0, x)
		labels.Set(i, 0, float64(i%2))
	}
	classes := []float64{0, 1}

	factory := func() model.Classifier { return linear.NewLogisticRegression() }
	lab := make([]float64, n)
	for i := 0; i < n; i++ {
		lab[i] = labels.At(i, 0)
	}
	folds, err := NewStratifiedKFold(2, 2).Split(n, lab)
	require.NoError(t, err)

	proba, err := PredictProba(factory, X, labels, classes, folds)
	require.NoError(t, err)

	r, c := proba.Dims()
	assert.Equal(t, n, r)
	assert.Equal(t, 2, c)
	for i := 0; i < n; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
		want := labels.At(i, 0)
		got := 0.0
		if proba.At(i, 1) > 0.5 {
			got = 1.0
		}
		assert.Equal(t, want, got)
	}
}
