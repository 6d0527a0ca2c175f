package trace

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/voxels"
)

// ErrCancelled is returned when a search's context is done before it finishes.
var ErrCancelled = errors.New("trace cancelled")

// Volume is a voxel box that can be searched.
type Volume interface {
	Intensity(p horta.Point3d, channel int) int32
	Extents() horta.Extents3d
}

// Outcome is how a search ended.
type Outcome uint8

const (
	Found Outcome = iota
	TimedOut
	NoPath
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case TimedOut:
		return "timed out"
	case NoPath:
		return "no path"
	default:
		return fmt.Sprintf("unknown outcome %d", o)
	}
}

// Result is the output of a search.  Path and Intensities are set only if a path was
// found; the path runs from start to goal inclusive.
type Result struct {
	Outcome     Outcome
	Path        []horta.Point3d
	Intensities []int32
	Cost        float64
	Expanded    int
	Elapsed     time.Duration
}

// Tracer finds least-cost paths through a volume with A* over the 26-connected voxel
// graph.  Voxels without data are not traversed.
type Tracer struct {
	Volume    Volume
	Cost      CostFunc
	Channel   int
	VoxelSize [3]float64 // physical size along each axis; zero values are 1
}

type step struct {
	d    horta.Point3d
	dist float64
}

func (t *Tracer) voxelSize() [3]float64 {
	size := t.VoxelSize
	for i := range size {
		if size[i] <= 0 {
			size[i] = 1
		}
	}
	return size
}

func neighborSteps(size [3]float64) []step {
	steps := make([]step, 0, 26)
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				d := horta.Point3d{dx, dy, dz}
				steps = append(steps, step{d: d, dist: scaledDistance(d, size)})
			}
		}
	}
	return steps
}

func scaledDistance(d horta.Point3d, size [3]float64) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		v := float64(d[i]) * size[i]
		sum += v * v
	}
	return math.Sqrt(sum)
}

type node struct {
	p      horta.Point3d
	g      float64
	parent int
	closed bool
}

type openItem struct {
	f    float64
	seq  uint64
	g    float64
	node int
}

// openSet orders by f, then by insertion.
type openSet []openItem

func (h openSet) Len() int { return len(h) }
func (h openSet) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h openSet) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *openSet) Push(x interface{}) { *h = append(*h, x.(openItem)) }
func (h *openSet) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Trace searches from start to goal.  A timeout of zero or less means no time limit.
// Running out of time or finding no path are outcomes, not errors; an error is
// returned only for endpoints outside the volume or a done context.
func (t *Tracer) Trace(ctx context.Context, start, goal horta.Point3d, timeout time.Duration) (Result, error) {
	began := time.Now()
	ext := t.Volume.Extents()
	if !ext.Contains(start) || !ext.Contains(goal) {
		return Result{}, fmt.Errorf("trace endpoints %s and %s must be within %s", start, goal, ext)
	}
	size := t.voxelSize()
	steps := neighborSteps(size)
	minStep := t.Cost.MinStepCost()
	heuristic := func(p horta.Point3d) float64 {
		return scaledDistance(goal.Sub(p), size) * minStep
	}

	nodes := []node{{p: start, parent: -1}}
	index := map[horta.Point3d]int{start: 0}
	open := &openSet{{f: heuristic(start), node: 0}}
	var seq uint64
	var expanded int

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return Result{Expanded: expanded, Elapsed: time.Since(began)}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if timeout > 0 && time.Since(began) > timeout {
			horta.Debugf("Trace %s -> %s timed out after %d expansions\n", start, goal, expanded)
			return Result{Outcome: TimedOut, Expanded: expanded, Elapsed: time.Since(began)}, nil
		}
		item := heap.Pop(open).(openItem)
		cur := &nodes[item.node]
		if cur.closed || item.g > cur.g {
			continue
		}
		if cur.p == goal {
			r := t.reconstruct(nodes, item.node)
			r.Expanded, r.Elapsed = expanded, time.Since(began)
			return r, nil
		}
		cur.closed = true
		expanded++
		curIndex, curPoint, curG := item.node, cur.p, cur.g

		for _, s := range steps {
			q := curPoint.Add(s.d)
			if !ext.Contains(q) {
				continue
			}
			v := t.Volume.Intensity(q, t.Channel)
			if v == voxels.NoData {
				continue
			}
			g := curG + t.Cost.StepCost(v)*s.dist
			i, seen := index[q]
			if seen {
				if nodes[i].closed || g >= nodes[i].g {
					continue
				}
				nodes[i].g, nodes[i].parent = g, curIndex
			} else {
				i = len(nodes)
				nodes = append(nodes, node{p: q, g: g, parent: curIndex})
				index[q] = i
			}
			seq++
			heap.Push(open, openItem{f: g + heuristic(q), seq: seq, g: g, node: i})
		}
	}
	return Result{Outcome: NoPath, Expanded: expanded, Elapsed: time.Since(began)}, nil
}

func (t *Tracer) reconstruct(nodes []node, goal int) Result {
	var n int
	for i := goal; i >= 0; i = nodes[i].parent {
		n++
	}
	r := Result{
		Outcome:     Found,
		Path:        make([]horta.Point3d, n),
		Intensities: make([]int32, n),
		Cost:        nodes[goal].g,
	}
	for i := goal; i >= 0; i = nodes[i].parent {
		n--
		r.Path[n] = nodes[i].p
		r.Intensities[n] = t.Volume.Intensity(nodes[i].p, t.Channel)
	}
	return r
}
