package trace

import (
	"fmt"

	"github.com/janelia-flyem/horta/horta"
)

// SegmentIndex identifies the path between two anchors regardless of direction.
// Anchor1 <= Anchor2 always holds.
type SegmentIndex struct {
	Anchor1 uint64
	Anchor2 uint64
}

// NewSegmentIndex returns the index for the unordered anchor pair.
func NewSegmentIndex(a, b uint64) SegmentIndex {
	if a > b {
		a, b = b, a
	}
	return SegmentIndex{Anchor1: a, Anchor2: b}
}

func (s SegmentIndex) String() string {
	return fmt.Sprintf("%d-%d", s.Anchor1, s.Anchor2)
}

// PathTraceRequest asks for a path between two anchored voxels.  XYZ1 is the location
// of Segment.Anchor1.
type PathTraceRequest struct {
	Segment  SegmentIndex
	XYZ1     horta.Point3d
	XYZ2     horta.Point3d
	NeuronID uint64 // optional owner of the anchors
}

// NewPathTraceRequest returns a request between anchor1 at xyz1 and anchor2 at xyz2.
// Requests for the same anchors in either order are identical.
func NewPathTraceRequest(anchor1, anchor2 uint64, xyz1, xyz2 horta.Point3d) PathTraceRequest {
	if anchor1 > anchor2 {
		anchor1, anchor2 = anchor2, anchor1
		xyz1, xyz2 = xyz2, xyz1
	}
	return PathTraceRequest{
		Segment: SegmentIndex{Anchor1: anchor1, Anchor2: anchor2},
		XYZ1:    xyz1,
		XYZ2:    xyz2,
	}
}

// TracedPathSegment is a found path with the intensity sampled at each voxel.
type TracedPathSegment struct {
	Segment     SegmentIndex
	Path        []horta.Point3d
	Intensities []int32
	Cost        float64
}

// NewTracedPathSegment returns the segment for a found result.
func NewTracedPathSegment(idx SegmentIndex, r Result) TracedPathSegment {
	return TracedPathSegment{
		Segment:     idx,
		Path:        r.Path,
		Intensities: r.Intensities,
		Cost:        r.Cost,
	}
}
