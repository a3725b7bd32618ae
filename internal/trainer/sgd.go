package trainer

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/hyperjump/cavstudio/internal/models"
)

const (
	// noImprovementLimit is the number of epochs without a tol*n loss
	// improvement after which fitting stops.
	noImprovementLimit = 5
	minWeightScale     = 1e-9
	maxDLoss           = 1e12
)

// classifier is a binary linear model fitted by plain stochastic gradient
// descent on the hinge loss with an L2 penalty and the "optimal" learning
// rate schedule. Weights are stored as w*wscale so the per-step L2
// shrinkage is a single multiplication.
type classifier struct {
	w         []float64
	wscale    float64
	intercept float64
	// epochs is the number of passes actually run.
	epochs int
}

// fit trains on rows of x with labels y in {-1, +1} and per-row weights.
func fit(x [][]float64, y, sampleWeight []float64, opts Options, rng *rand.Rand) (*classifier, error) {
	n := len(x)
	if n == 0 || len(y) != n || len(sampleWeight) != n {
		return nil, fmt.Errorf("%w: %d samples, %d labels, %d weights", models.ErrInvalidInput, n, len(y), len(sampleWeight))
	}
	dim := len(x[0])
	for i, row := range x {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: sample %d has length %d, expected %d", models.ErrInvalidInput, i, len(row), dim)
		}
	}
	alpha := opts.Alpha

	c := &classifier{w: make([]float64, dim), wscale: 1}

	typw := math.Sqrt(1 / math.Sqrt(alpha))
	eta0 := typw / math.Max(1, hingeDLoss(-typw, 1))
	optimalInit := 1 / (eta0 * alpha)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	bestLoss := math.Inf(1)
	noImprovement := 0
	t := 1.0

	for epoch := 0; epoch < opts.MaxIter; epoch++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		sumLoss := 0.0
		for _, i := range order {
			xi := x[i]
			p := floats.Dot(c.w, xi)*c.wscale + c.intercept
			sumLoss += hingeLoss(p, y[i])

			eta := 1 / (alpha * (optimalInit + t - 1))
			dloss := math.Max(-maxDLoss, math.Min(maxDLoss, hingeDLoss(p, y[i])))
			update := -eta * dloss * sampleWeight[i]

			c.scale(math.Max(0, 1-eta*alpha))
			if update != 0 {
				floats.AddScaled(c.w, update/c.wscale, xi)
				c.intercept += update
			}
			t++
		}
		c.epochs = epoch + 1

		if sumLoss > bestLoss-opts.Tol*float64(n) {
			noImprovement++
		} else {
			noImprovement = 0
		}
		if sumLoss < bestLoss {
			bestLoss = sumLoss
		}
		if noImprovement >= noImprovementLimit {
			break
		}
	}
	return c, nil
}

func (c *classifier) scale(f float64) {
	c.wscale *= f
	if c.wscale < minWeightScale {
		c.resetScale()
	}
}

func (c *classifier) resetScale() {
	floats.Scale(c.wscale, c.w)
	c.wscale = 1
}

// coef returns the effective weight vector.
func (c *classifier) coef() []float64 {
	out := make([]float64, len(c.w))
	floats.ScaleTo(out, c.wscale, c.w)
	return out
}

// decision returns the signed distance of x from the separating hyperplane.
func (c *classifier) decision(x []float64) float64 {
	return floats.Dot(c.w, x)*c.wscale + c.intercept
}

func hingeLoss(p, y float64) float64 {
	if z := p * y; z <= 1 {
		return 1 - z
	}
	return 0
}

func hingeDLoss(p, y float64) float64 {
	if p*y <= 1 {
		return -y
	}
	return 0
}
