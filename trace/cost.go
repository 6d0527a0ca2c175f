package trace

import "math"

const (
	// zScale compresses intensity z-scores so very bright voxels remain numerically
	// distinguishable after erfc.
	zScale = 0.8

	// stepCostLowerBound keeps every step cost positive so paths don't meander
	// through saturated voxels.
	stepCostLowerBound = 1e-60
)

// CostFunc prices steps through a volume.  A step of length d onto a voxel with
// intensity v costs StepCost(v) * d.
type CostFunc interface {
	StepCost(intensity int32) float64

	// MinStepCost must not exceed StepCost for any intensity in the volume.
	MinStepCost() float64
}

// IntensityCost makes bright voxels cheap: the cost of an intensity is the chance it
// would occur in the background, erfc(0.8 z) for its z-score.  It is not safe for
// concurrent use.
type IntensityCost struct {
	mean    float64
	stdDev  float64
	minStep float64
	memo    map[int32]float64
}

// NewIntensityCost returns a cost function for a volume with the given intensity
// statistics.  A zero standard deviation is treated as one.
func NewIntensityCost(mean, stdDev float64, max int32) *IntensityCost {
	if stdDev <= 0 || math.IsNaN(stdDev) {
		stdDev = 1
	}
	c := &IntensityCost{
		mean:   mean,
		stdDev: stdDev,
		memo:   make(map[int32]float64),
	}
	c.minStep = c.StepCost(max)
	return c
}

func (c *IntensityCost) StepCost(intensity int32) float64 {
	if cost, found := c.memo[intensity]; found {
		return cost
	}
	z := (float64(intensity) - c.mean) / c.stdDev
	cost := math.Erfc(zScale*z) + stepCostLowerBound
	c.memo[intensity] = cost
	return cost
}

func (c *IntensityCost) MinStepCost() float64 {
	return c.minStep
}

// UniformCost prices every voxel the same, giving geometric shortest paths.
type UniformCost float64

func (u UniformCost) StepCost(int32) float64 {
	return float64(u)
}

func (u UniformCost) MinStepCost() float64 {
	return float64(u)
}
