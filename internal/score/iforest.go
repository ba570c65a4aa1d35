package score

import (
	"context"
	"math"
	"math/rand"

	"tracefuse/internal/config"
	"tracefuse/internal/feature"
)

// IsolationForest scores points by average isolation path length over an
// ensemble of random trees. The anomaly flag is drawn at the batch
// quantile implied by the contamination fraction.
type IsolationForest struct {
	trees         int
	sampleSize    int
	contamination float64
	seed          int64
}

func NewIsolationForest(cfg config.ScorerConfig, contamination float64) *IsolationForest {
	trees := cfg.Trees
	if trees <= 0 {
		trees = 100
	}
	sample := cfg.SampleSize
	if sample <= 0 {
		sample = 256
	}
	if contamination <= 0 {
		contamination = 0.1
	}
	return &IsolationForest{
		trees:         trees,
		sampleSize:    sample,
		contamination: contamination,
		seed:          cfg.Seed,
	}
}

func (f *IsolationForest) Name() string { return config.BackendIsolationForest }

func (f *IsolationForest) FitScore(ctx context.Context, m feature.Matrix) ([]Annotation, error) {
	if err := checkMatrix(m); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(f.seed))
	n := len(m)
	sample := f.sampleSize
	if sample > n {
		sample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sample) + 1)))

	roots := make([]*iNode, 0, f.trees)
	for i := 0; i < f.trees; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idxs := rng.Perm(n)[:sample]
		rows := make(feature.Matrix, sample)
		for j, idx := range idxs {
			rows[j] = m[idx]
		}
		roots = append(roots, buildTree(rows, 0, heightLimit, rng))
	}

	norm := cFactor(sample)
	if norm <= 0 {
		norm = 1
	}
	scores := make([]float64, n)
	for i, row := range m {
		sum := 0.0
		for _, root := range roots {
			sum += pathLength(root, row, 0)
		}
		scores[i] = math.Pow(2, -(sum/float64(len(roots)))/norm)
	}

	threshold := quantile(scores, 1-f.contamination)
	out := make([]Annotation, n)
	for i, s := range scores {
		out[i] = Annotation{Score: s, IsAnomaly: s >= threshold}
	}
	return out, nil
}

type iNode struct {
	leaf     bool
	size     int
	dim      int
	splitVal float64
	left     *iNode
	right    *iNode
}

func buildTree(rows feature.Matrix, height, limit int, rng *rand.Rand) *iNode {
	if len(rows) <= 1 || height >= limit {
		return &iNode{leaf: true, size: len(rows)}
	}
	dim := rng.Intn(len(rows[0]))
	minV, maxV := rows[0][dim], rows[0][dim]
	for _, row := range rows[1:] {
		if row[dim] < minV {
			minV = row[dim]
		}
		if row[dim] > maxV {
			maxV = row[dim]
		}
	}
	if minV == maxV {
		return &iNode{leaf: true, size: len(rows)}
	}
	split := minV + rng.Float64()*(maxV-minV)
	left := make(feature.Matrix, 0, len(rows))
	right := make(feature.Matrix, 0, len(rows))
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{leaf: true, size: len(rows)}
	}
	return &iNode{
		dim:      dim,
		splitVal: split,
		left:     buildTree(left, height+1, limit, rng),
		right:    buildTree(right, height+1, limit, rng),
	}
}

// cFactor is the average unsuccessful-search path length in a BST of n
// nodes, the standard isolation forest normalizer.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *iNode, row []float64, depth int) float64 {
	if node.leaf {
		if node.size <= 1 {
			return float64(depth)
		}
		return float64(depth) + cFactor(node.size)
	}
	if row[node.dim] < node.splitVal {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}
