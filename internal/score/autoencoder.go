package score

import (
	"context"
	"math"
	"math/rand"

	"tracefuse/internal/config"
	"tracefuse/internal/feature"
)

const l1Penalty = 1e-4

// Autoencoder is a single-bottleneck reconstruction network: a ReLU
// encoding layer with an L1 activity penalty and a linear output layer,
// trained with Adam on mean squared reconstruction error. The per-row MSE
// is the anomaly score; rows above the configured batch quantile are
// flagged.
type Autoencoder struct {
	encodingDim     int
	epochs          int
	batchSize       int
	validationSplit float64
	quantileQ       float64
	learningRate    float64
	seed            int64
}

func NewAutoencoder(cfg config.ScorerConfig) *Autoencoder {
	a := &Autoencoder{
		encodingDim:     cfg.EncodingDim,
		epochs:          cfg.Epochs,
		batchSize:       cfg.BatchSize,
		validationSplit: cfg.ValidationSplit,
		quantileQ:       cfg.ThresholdQuantile,
		learningRate:    cfg.LearningRate,
		seed:            cfg.Seed,
	}
	if a.encodingDim <= 0 {
		a.encodingDim = 8
	}
	if a.epochs <= 0 {
		a.epochs = 50
	}
	if a.batchSize <= 0 {
		a.batchSize = 32
	}
	if a.validationSplit <= 0 {
		a.validationSplit = 0.1
	}
	if a.quantileQ <= 0 {
		a.quantileQ = 0.95
	}
	if a.learningRate <= 0 {
		a.learningRate = 0.01
	}
	return a
}

func (a *Autoencoder) Name() string { return config.BackendAutoencoder }

func (a *Autoencoder) FitScore(ctx context.Context, m feature.Matrix) ([]Annotation, error) {
	if err := checkMatrix(m); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(a.seed))
	in := len(m[0])
	h := a.encodingDim
	net := newAeNet(in, h, rng)
	opt := newAdam(net, a.learningRate)

	// Shuffled split: the tail fraction is held out for validation and
	// not trained on.
	order := rng.Perm(len(m))
	holdout := int(float64(len(m)) * a.validationSplit)
	trainIdx := order[:len(order)-holdout]
	if len(trainIdx) == 0 {
		trainIdx = order
	}

	for epoch := 0; epoch < a.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})
		for start := 0; start < len(trainIdx); start += a.batchSize {
			end := start + a.batchSize
			if end > len(trainIdx) {
				end = len(trainIdx)
			}
			net.zeroGrads()
			for _, idx := range trainIdx[start:end] {
				net.accumulate(m[idx])
			}
			opt.step(net, end-start)
		}
	}

	scores := make([]float64, len(m))
	for i, row := range m {
		scores[i] = net.reconstructionError(row)
	}
	threshold := quantile(scores, a.quantileQ)
	out := make([]Annotation, len(m))
	for i, s := range scores {
		out[i] = Annotation{Score: s, IsAnomaly: s > threshold}
	}
	return out, nil
}

type aeNet struct {
	in, hidden int
	w1, b1     []float64 // in*hidden, hidden
	w2, b2     []float64 // hidden*in, in
	gw1, gb1   []float64
	gw2, gb2   []float64
}

func newAeNet(in, hidden int, rng *rand.Rand) *aeNet {
	n := &aeNet{
		in:     in,
		hidden: hidden,
		w1:     make([]float64, in*hidden),
		b1:     make([]float64, hidden),
		w2:     make([]float64, hidden*in),
		b2:     make([]float64, in),
		gw1:    make([]float64, in*hidden),
		gb1:    make([]float64, hidden),
		gw2:    make([]float64, hidden*in),
		gb2:    make([]float64, in),
	}
	scale1 := math.Sqrt(2.0 / float64(in+hidden))
	for i := range n.w1 {
		n.w1[i] = rng.NormFloat64() * scale1
	}
	for i := range n.w2 {
		n.w2[i] = rng.NormFloat64() * scale1
	}
	return n
}

func (n *aeNet) zeroGrads() {
	clear(n.gw1)
	clear(n.gb1)
	clear(n.gw2)
	clear(n.gb2)
}

func (n *aeNet) forward(x []float64, act, out []float64) {
	for j := 0; j < n.hidden; j++ {
		z := n.b1[j]
		for i := 0; i < n.in; i++ {
			z += x[i] * n.w1[i*n.hidden+j]
		}
		if z < 0 {
			z = 0
		}
		act[j] = z
	}
	for k := 0; k < n.in; k++ {
		o := n.b2[k]
		for j := 0; j < n.hidden; j++ {
			o += act[j] * n.w2[j*n.in+k]
		}
		out[k] = o
	}
}

// accumulate adds one sample's gradients (MSE + L1 activity penalty on
// the encoding) into the gradient buffers.
func (n *aeNet) accumulate(x []float64) {
	act := make([]float64, n.hidden)
	out := make([]float64, n.in)
	n.forward(x, act, out)

	dOut := make([]float64, n.in)
	for k := 0; k < n.in; k++ {
		dOut[k] = 2 * (out[k] - x[k]) / float64(n.in)
	}
	dAct := make([]float64, n.hidden)
	for j := 0; j < n.hidden; j++ {
		for k := 0; k < n.in; k++ {
			n.gw2[j*n.in+k] += act[j] * dOut[k]
			dAct[j] += dOut[k] * n.w2[j*n.in+k]
		}
		if act[j] > 0 {
			dAct[j] += l1Penalty
		} else {
			dAct[j] = 0 // ReLU gate
		}
	}
	for k := 0; k < n.in; k++ {
		n.gb2[k] += dOut[k]
	}
	for j := 0; j < n.hidden; j++ {
		if dAct[j] == 0 {
			continue
		}
		for i := 0; i < n.in; i++ {
			n.gw1[i*n.hidden+j] += x[i] * dAct[j]
		}
		n.gb1[j] += dAct[j]
	}
}

func (n *aeNet) reconstructionError(x []float64) float64 {
	act := make([]float64, n.hidden)
	out := make([]float64, n.in)
	n.forward(x, act, out)
	mse := 0.0
	for k := 0; k < n.in; k++ {
		d := out[k] - x[k]
		mse += d * d
	}
	return mse / float64(n.in)
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [4][]float64
}

func newAdam(n *aeNet, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	sizes := []int{len(n.w1), len(n.b1), len(n.w2), len(n.b2)}
	for i, s := range sizes {
		a.m[i] = make([]float64, s)
		a.v[i] = make([]float64, s)
	}
	return a
}

func (a *adam) step(n *aeNet, batch int) {
	if batch <= 0 {
		return
	}
	a.t++
	params := [4][]float64{n.w1, n.b1, n.w2, n.b2}
	grads := [4][]float64{n.gw1, n.gb1, n.gw2, n.gb2}
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for p := 0; p < 4; p++ {
		for i := range params[p] {
			g := grads[p][i] / float64(batch)
			a.m[p][i] = a.beta1*a.m[p][i] + (1-a.beta1)*g
			a.v[p][i] = a.beta2*a.v[p][i] + (1-a.beta2)*g*g
			mHat := a.m[p][i] / bc1
			vHat := a.v[p][i] / bc2
			params[p][i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
