// Package crossfit provides the cross-fitting machinery underneath the
// orthogonal estimators: fold splitters and out-of-fold nuisance prediction.
package crossfit

import (
	"math/rand/v2"

	"github.com/causalgo/causalgo/pkg/errors"
)

// Fold is one train/predict pair of index sets.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter produces the folds used for cross-fitting.
type Splitter interface {
	// Split returns folds over n samples. labels carries the discrete
	// treatment per sample, or nil for continuous treatments; stratified
	// splitters use it, others ignore it.
	Split(n int, labels []float64) ([]Fold, error)
}

// KFold is a k-fold splitter with optional shuffling.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewKFold creates a k-fold splitter. Fewer than 2 splits falls back to 2.
func NewKFold(nSplits int, shuffle bool, seed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 2
	}
	return &KFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// Split implements Splitter.
func (kf *KFold) Split(n int, _ []float64) ([]Fold, error) {
	if n < kf.NSplits {
		return nil, errors.NewValueError("KFold.Split", "more splits than samples")
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.Seed, kf.Seed))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([]Fold, kf.NSplits)
	foldSize := n / kf.NSplits
	remainder := n % kf.NSplits

	current := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}

		test := make([]int, testSize)
		copy(test, indices[current:current+testSize])

		train := make([]int, 0, n-testSize)
		train = append(train, indices[:current]...)
		train = append(train, indices[current+testSize:]...)

		folds[i] = Fold{TrainIndices: train, TestIndices: test}
		current += testSize
	}
	return folds, nil
}

// StratifiedKFold splits so that every fold sees every treatment category.
// Discrete-treatment estimators use it so each fold's propensity model
// observes all classes.
type StratifiedKFold struct {
	NSplits int
	Seed    uint64
}

// NewStratifiedKFold creates a stratified k-fold splitter.
func NewStratifiedKFold(nSplits int, seed uint64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 2
	}
	return &StratifiedKFold{NSplits: nSplits, Seed: seed}
}

// Split implements Splitter; labels must be non-nil.
func (sf *StratifiedKFold) Split(n int, labels []float64) ([]Fold, error) {
	if labels == nil {
		return nil, errors.NewValueError("StratifiedKFold.Split", "labels are required for stratified splitting")
	}
	if len(labels) != n {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", n, len(labels), 0)
	}

	// Group indices per label, shuffle within groups, then deal them out
	// round-robin so every fold gets a proportional share of each label.
	groups := make(map[float64][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}

	r := rand.New(rand.NewPCG(sf.Seed, sf.Seed))
	testSets := make([][]int, sf.NSplits)
	for _, idx := range groups {
		if len(idx) < sf.NSplits {
			return nil, errors.NewValueError("StratifiedKFold.Split", "a treatment category has fewer samples than splits")
		}
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, row := range idx {
			f := i % sf.NSplits
			testSets[f] = append(testSets[f], row)
		}
	}

	folds := make([]Fold, sf.NSplits)
	for f := 0; f < sf.NSplits; f++ {
		inTest := make([]bool, n)
		for _, i := range testSets[f] {
			inTest[i] = true
		}
		train := make([]int, 0, n-len(testSets[f]))
		for i := 0; i < n; i++ {
			if !inTest[i] {
				train = append(train, i)
			}
		}
		folds[f] = Fold{TrainIndices: train, TestIndices: testSets[f]}
	}
	return folds, nil
}

// FoldList is an explicit, caller-supplied list of folds.
type FoldList []Fold

// Split implements Splitter, validating the supplied indices.
func (fl FoldList) Split(n int, _ []float64) ([]Fold, error) {
	if len(fl) == 0 {
		return nil, errors.NewValueError("FoldList.Split", "empty fold list")
	}
	for _, f := range fl {
		for _, i := range append(append([]int{}, f.TrainIndices...), f.TestIndices...) {
			if i < 0 || i >= n {
				return nil, errors.NewValueError("FoldList.Split", "fold index out of range")
			}
		}
	}
	return []Fold(fl), nil
}
