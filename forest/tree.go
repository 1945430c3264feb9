// Package forest provides a random forest regressor with optional honest
// estimation and leaf co-membership similarity weights. It serves two roles:
// a pluggable nonlinear nuisance regressor, and the local weighting kernel of
// the orthogonal random forest.
package forest

import (
	"math"
	"math/rand/v2"
	"sort"
)

// treeNode is a node of a regression tree. Leaves have feature == -1.
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode

	value  float64
	count  int
	leafID int
}

type regressionTree struct {
	root    *treeNode
	nLeaves int

	// leafSamples maps leaf IDs to the training rows used for estimation in
	// that leaf. SimilarityWeights reads it.
	leafSamples map[int][]int
}

type treeConfig struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int
}

// bestSplit finds the variance-minimizing split of rows on a random feature
// subset. Returns ok=false when no split satisfies the leaf-size constraint.
func bestSplit(X [][]float64, y []float64, rows []int, cfg treeConfig, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	nFeatures := len(X[0])
	k := cfg.maxFeatures
	if k <= 0 || k > nFeatures {
		k = nFeatures
	}

	perm := rng.Perm(nFeatures)
	candidates := perm[:k]

	bestScore := math.Inf(1)
	vals := make([]float64, len(rows))

	for _, f := range candidates {
		for i, r := range rows {
			vals[i] = X[r][f]
		}
		order := make([]int, len(rows))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return vals[order[a]] < vals[order[b]] })

		// Prefix sums over the sorted order for O(1) variance updates.
		var sumLeft, sqLeft float64
		var sumRight, sqRight float64
		for _, r := range rows {
			sumRight += y[r]
			sqRight += y[r] * y[r]
		}

		for i := 0; i < len(order)-1; i++ {
			yi := y[rows[order[i]]]
			sumLeft += yi
			sqLeft += yi * yi
			sumRight -= yi
			sqRight -= yi * yi

			nl := float64(i + 1)
			nr := float64(len(order) - i - 1)
			if int(nl) < cfg.minLeaf || int(nr) < cfg.minLeaf {
				continue
			}
			// Skip ties: cannot split between equal values.
			if vals[order[i]] == vals[order[i+1]] {
				continue
			}

			score := (sqLeft - sumLeft*sumLeft/nl) + (sqRight - sumRight*sumRight/nr)
			if score < bestScore {
				bestScore = score
				feature = f
				threshold = (vals[order[i]] + vals[order[i+1]]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func buildNode(X [][]float64, y []float64, rows []int, depth int, cfg treeConfig, rng *rand.Rand) *treeNode {
	node := &treeNode{feature: -1}
	var sum float64
	for _, r := range rows {
		sum += y[r]
	}
	node.count = len(rows)
	if node.count > 0 {
		node.value = sum / float64(node.count)
	}

	if len(rows) < 2*cfg.minLeaf || (cfg.maxDepth > 0 && depth >= cfg.maxDepth) {
		return node
	}

	f, thr, ok := bestSplit(X, y, rows, cfg, rng)
	if !ok {
		return node
	}

	var leftRows, rightRows []int
	for _, r := range rows {
		if X[r][f] <= thr {
			leftRows = append(leftRows, r)
		} else {
			rightRows = append(rightRows, r)
		}
	}
	if len(leftRows) < cfg.minLeaf || len(rightRows) < cfg.minLeaf {
		return node
	}

	node.feature = f
	node.threshold = thr
	node.left = buildNode(X, y, leftRows, depth+1, cfg, rng)
	node.right = buildNode(X, y, rightRows, depth+1, cfg, rng)
	return node
}

// growTree builds a tree on structureRows and, when honest estimation rows
// are supplied, re-estimates every leaf value from estimationRows only.
func growTree(X [][]float64, y []float64, structureRows, estimationRows []int, cfg treeConfig, rng *rand.Rand) *regressionTree {
	t := &regressionTree{leafSamples: make(map[int][]int)}
	t.root = buildNode(X, y, structureRows, 0, cfg, rng)
	t.assignLeafIDs(t.root)

	rows := estimationRows
	if rows == nil {
		rows = structureRows
	}

	// Route estimation rows to leaves and recompute leaf values.
	sums := make([]float64, t.nLeaves)
	counts := make([]int, t.nLeaves)
	for _, r := range rows {
		id := t.leafOf(X[r])
		sums[id] += y[r]
		counts[id]++
		t.leafSamples[id] = append(t.leafSamples[id], r)
	}
	t.overwriteLeafValues(t.root, sums, counts)
	return t
}

func (t *regressionTree) assignLeafIDs(n *treeNode) {
	if n.feature < 0 {
		n.leafID = t.nLeaves
		t.nLeaves++
		return
	}
	t.assignLeafIDs(n.left)
	t.assignLeafIDs(n.right)
}

func (t *regressionTree) overwriteLeafValues(n *treeNode, sums []float64, counts []int) {
	if n.feature < 0 {
		if counts[n.leafID] > 0 {
			n.value = sums[n.leafID] / float64(counts[n.leafID])
			n.count = counts[n.leafID]
		}
		// Leaves with no estimation samples keep the structure-sample mean.
		return
	}
	t.overwriteLeafValues(n.left, sums, counts)
	t.overwriteLeafValues(n.right, sums, counts)
}

func (t *regressionTree) leafOf(x []float64) int {
	n := t.root
	for n.feature >= 0 {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.leafID
}

func (t *regressionTree) predict(x []float64) float64 {
	n := t.root
	for n.feature >= 0 {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}
