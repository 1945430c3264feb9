package forest

import (
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
	"github.com/causalgo/causalgo/pkg/log"
)

// RandomForestRegressor is a bagged ensemble of variance-split regression
// trees. With Honest set, each tree's subsample is halved into a structure
// half (chooses splits) and an estimation half (sets leaf values), which is
// the construction the orthogonal forest's weighting kernel relies on.
type RandomForestRegressor struct {
	model.BaseEstimator

	// NumTrees is the ensemble size.
	NumTrees int

	// MaxDepth bounds tree depth; <= 0 means unbounded.
	MaxDepth int

	// MinLeaf is the minimum number of samples per leaf.
	MinLeaf int

	// MaxFeatures is the number of features tried per split; <= 0 means all.
	MaxFeatures int

	// SubsampleRatio is the fraction of rows drawn (without replacement) per
	// tree.
	SubsampleRatio float64

	// Honest splits each subsample into structure and estimation halves.
	Honest bool

	// Seed drives all randomness; fixed seeds give reproducible forests.
	Seed uint64

	trees     []*regressionTree
	trainX    [][]float64
	nFeatures int
	nSamples  int
}

// ForestOption configures a RandomForestRegressor.
type ForestOption func(*RandomForestRegressor)

// WithNumTrees sets the ensemble size.
func WithNumTrees(n int) ForestOption {
	return func(f *RandomForestRegressor) { f.NumTrees = n }
}

// WithMaxDepth bounds the tree depth.
func WithMaxDepth(d int) ForestOption {
	return func(f *RandomForestRegressor) { f.MaxDepth = d }
}

// WithMinLeaf sets the minimum samples per leaf.
func WithMinLeaf(m int) ForestOption {
	return func(f *RandomForestRegressor) { f.MinLeaf = m }
}

// WithMaxFeatures sets the number of features tried per split.
func WithMaxFeatures(m int) ForestOption {
	return func(f *RandomForestRegressor) { f.MaxFeatures = m }
}

// WithSubsampleRatio sets the per-tree row subsample fraction.
func WithSubsampleRatio(r float64) ForestOption {
	return func(f *RandomForestRegressor) { f.SubsampleRatio = r }
}

// WithHonest enables honest leaf estimation.
func WithHonest(honest bool) ForestOption {
	return func(f *RandomForestRegressor) { f.Honest = honest }
}

// WithSeed fixes the random seed.
func WithSeed(seed uint64) ForestOption {
	return func(f *RandomForestRegressor) { f.Seed = seed }
}

// NewRandomForestRegressor creates a forest with the given options.
func NewRandomForestRegressor(options ...ForestOption) *RandomForestRegressor {
	f := &RandomForestRegressor{
		NumTrees:       100,
		MinLeaf:        5,
		SubsampleRatio: 0.7,
		Seed:           42,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

func matrixToRows(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = X.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

// Fit grows the forest. Trees grow concurrently, one RNG stream per tree.
func (f *RandomForestRegressor) Fit(X, y mat.Matrix) error {
	n, c := X.Dims()
	ry, cy := y.Dims()
	if n == 0 || c == 0 {
		return errors.NewModelError("RandomForestRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != n {
		return errors.NewDimensionError("RandomForestRegressor.Fit", n, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("RandomForestRegressor.Fit", "y must be a column vector")
	}
	if f.NumTrees <= 0 {
		return errors.NewValidationError("numTrees", "must be positive", f.NumTrees)
	}
	if f.SubsampleRatio <= 0 || f.SubsampleRatio > 1 {
		return errors.NewValidationError("subsampleRatio", "must be in (0, 1]", f.SubsampleRatio)
	}

	f.trainX = matrixToRows(X)
	f.nFeatures = c
	f.nSamples = n

	yv := make([]float64, n)
	for i := 0; i < n; i++ {
		yv[i] = y.At(i, 0)
	}

	cfg := treeConfig{maxDepth: f.MaxDepth, minLeaf: f.MinLeaf, maxFeatures: f.MaxFeatures}
	subsample := int(f.SubsampleRatio * float64(n))
	if subsample < 2*f.MinLeaf {
		subsample = min(n, 2*f.MinLeaf)
	}

	logger := log.GetLoggerWithName("forest")
	logger.Debug("growing forest",
		log.OperationKey, "fit",
		log.SamplesKey, n,
		log.FeaturesKey, c,
		log.TreesKey, f.NumTrees,
	)

	f.trees = make([]*regressionTree, f.NumTrees)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for b := 0; b < f.NumTrees; b++ {
		g.Go(func() (err error) {
			defer errors.Recover("RandomForestRegressor.Fit", &err)

			rng := rand.New(rand.NewPCG(f.Seed, uint64(b)))
			perm := rng.Perm(n)
			sub := perm[:subsample]

			var structureRows, estimationRows []int
			if f.Honest {
				half := len(sub) / 2
				structureRows = sub[:half]
				estimationRows = sub[half:]
			} else {
				structureRows = sub
			}

			f.trees[b] = growTree(f.trainX, yv, structureRows, estimationRows, cfg, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.SetFitted()
	return nil
}

// Predict averages the per-tree predictions.
func (f *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != f.nFeatures {
		return nil, errors.NewDimensionError("RandomForestRegressor.Predict", f.nFeatures, c, 1)
	}

	rows := matrixToRows(X)
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		var sum float64
		for _, t := range f.trees {
			sum += t.predict(rows[i])
		}
		out.Set(i, 0, sum/float64(len(f.trees)))
	}
	return out, nil
}

// Score returns the coefficient of determination R².
func (f *RandomForestRegressor) Score(X, y mat.Matrix) (float64, error) {
	yPred, err := f.Predict(X)
	if err != nil {
		return 0, err
	}
	r, _ := y.Dims()
	var mean float64
	for i := 0; i < r; i++ {
		mean += y.At(i, 0)
	}
	mean /= float64(r)
	var tss, rss float64
	for i := 0; i < r; i++ {
		d := y.At(i, 0) - mean
		tss += d * d
		e := y.At(i, 0) - yPred.At(i, 0)
		rss += e * e
	}
	if tss == 0 {
		return 0, errors.NewValueError("RandomForestRegressor.Score", "total sum of squares is zero")
	}
	return 1 - rss/tss, nil
}

// SimilarityWeights returns, for a target point x, one non-negative weight
// per training row: the average over trees of 1/|leaf| for rows sharing x's
// leaf. Weights sum to (approximately) one and define the local neighborhood
// the orthogonal forest solves its moment equation over.
func (f *RandomForestRegressor) SimilarityWeights(x []float64) ([]float64, error) {
	if !f.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestRegressor", "SimilarityWeights")
	}
	if len(x) != f.nFeatures {
		return nil, errors.NewDimensionError("RandomForestRegressor.SimilarityWeights", f.nFeatures, len(x), 1)
	}

	weights := make([]float64, f.nSamples)
	for _, t := range f.trees {
		id := t.leafOf(x)
		members := t.leafSamples[id]
		if len(members) == 0 {
			continue
		}
		w := 1 / float64(len(members))
		for _, r := range members {
			weights[r] += w
		}
	}
	norm := 1 / float64(len(f.trees))
	for i := range weights {
		weights[i] *= norm
	}
	return weights, nil
}
