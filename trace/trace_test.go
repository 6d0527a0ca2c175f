package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shopify/sarama/mocks"
	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/subvolume"
	"github.com/janelia-flyem/horta/voxels"
)

type funcVolume struct {
	ext       horta.Extents3d
	intensity func(p horta.Point3d) int32
}

func (v funcVolume) Intensity(p horta.Point3d, c int) int32 {
	if !v.ext.Contains(p) || c != 0 {
		return voxels.NoData
	}
	return v.intensity(p)
}

func (v funcVolume) Extents() horta.Extents3d {
	return v.ext
}

func TestSegmentIndex(t *testing.T) {
	pairs := [][2]uint64{{0, 0}, {1, 2}, {2, 1}, {1 << 63, 7}, {42, 42}}
	for _, pair := range pairs {
		a, b := pair[0], pair[1]
		if NewSegmentIndex(a, b) != NewSegmentIndex(b, a) {
			t.Errorf("segment index for %d,%d not symmetric\n", a, b)
		}
		if idx := NewSegmentIndex(a, b); idx.Anchor1 > idx.Anchor2 {
			t.Errorf("segment index %s not normalized\n", idx)
		}
	}
	p1, p2 := horta.Point3d{1, 2, 3}, horta.Point3d{4, 5, 6}
	r1 := NewPathTraceRequest(9, 3, p1, p2)
	r2 := NewPathTraceRequest(3, 9, p2, p1)
	if r1 != r2 {
		t.Errorf("reversed requests differ: %+v vs %+v\n", r1, r2)
	}
	if r1.XYZ1 != p2 {
		t.Errorf("expected XYZ1 to follow lower anchor, got %s\n", r1.XYZ1)
	}
}

func TestStraightPath(t *testing.T) {
	bld := voxels.NewBuilder(16, 8, 8, 1, 1, voxels.LittleEndian)
	bld.Fill(0, 100)
	sv := subvolume.FromBlock(horta.Point3d{0, 0, 0}, bld.Block())
	stats := sv.Stats(0)
	tracer := &Tracer{Volume: sv, Cost: NewIntensityCost(stats.Mean, stats.StdDev, stats.Max)}

	r, err := tracer.Trace(context.Background(), horta.Point3d{0, 0, 0}, horta.Point3d{5, 0, 0}, time.Second)
	if err != nil {
		t.Fatalf("trace failed: %v\n", err)
	}
	if r.Outcome != Found {
		t.Fatalf("expected path, got %s\n", r.Outcome)
	}
	if len(r.Path) != 6 {
		t.Fatalf("expected 6 voxel path, got %v\n", r.Path)
	}
	for i, p := range r.Path {
		if p != (horta.Point3d{int32(i), 0, 0}) {
			t.Errorf("path voxel %d is %s, expected straight line\n", i, p)
		}
		if r.Intensities[i] != 100 {
			t.Errorf("path intensity %d is %d\n", i, r.Intensities[i])
		}
	}
}

func TestBrightDetour(t *testing.T) {
	ext := horta.Extents3d{MaxPoint: horta.Point3d{10, 6, 0}}
	vol := funcVolume{ext: ext, intensity: func(p horta.Point3d) int32 {
		if p[1] == 0 || ((p[0] == 0 || p[0] == 10) && p[1] <= 3) {
			return 1000
		}
		return 0
	}}
	var sum, sumSq float64
	var max int32
	for y := int32(0); y <= 6; y++ {
		for x := int32(0); x <= 10; x++ {
			v := vol.intensity(horta.Point3d{x, y, 0})
			sum += float64(v)
			sumSq += float64(v) * float64(v)
			if v > max {
				max = v
			}
		}
	}
	mean := sum / 77
	stdDev := math.Sqrt(sumSq/77 - mean*mean)
	tracer := &Tracer{Volume: vol, Cost: NewIntensityCost(mean, stdDev, max)}
	r, err := tracer.Trace(context.Background(), horta.Point3d{0, 3, 0}, horta.Point3d{10, 3, 0}, time.Second)
	if err != nil || r.Outcome != Found {
		t.Fatalf("expected path, got %s: %v\n", r.Outcome, err)
	}
	for i, p := range r.Path {
		if r.Intensities[i] != 1000 {
			t.Errorf("path left bright voxels at %s\n", p)
		}
	}
	if r.Path[0] != (horta.Point3d{0, 3, 0}) || r.Path[len(r.Path)-1] != (horta.Point3d{10, 3, 0}) {
		t.Errorf("path does not run start to goal: %v\n", r.Path)
	}
}

func TestNoPath(t *testing.T) {
	vol := funcVolume{
		ext: horta.Extents3d{MaxPoint: horta.Point3d{7, 7, 7}},
		intensity: func(p horta.Point3d) int32 {
			if p[0] == 3 {
				return voxels.NoData
			}
			return 10
		},
	}
	tracer := &Tracer{Volume: vol, Cost: UniformCost(1)}
	r, err := tracer.Trace(context.Background(), horta.Point3d{0, 0, 0}, horta.Point3d{7, 7, 7}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if r.Outcome != NoPath || r.Path != nil {
		t.Errorf("expected no path, got %s\n", r.Outcome)
	}
	if r.Expanded != 3*8*8 {
		t.Errorf("expected every reachable voxel expanded, got %d\n", r.Expanded)
	}
}

type slowCost struct {
	UniformCost
	delay time.Duration
}

func (s slowCost) StepCost(v int32) float64 {
	time.Sleep(s.delay)
	return s.UniformCost.StepCost(v)
}

func TestTimeout(t *testing.T) {
	vol := funcVolume{
		ext:       horta.Extents3d{MaxPoint: horta.Point3d{63, 63, 63}},
		intensity: func(horta.Point3d) int32 { return 1 },
	}
	tracer := &Tracer{Volume: vol, Cost: slowCost{UniformCost: 1, delay: 500 * time.Microsecond}}
	began := time.Now()
	r, err := tracer.Trace(context.Background(), horta.Point3d{0, 0, 0}, horta.Point3d{63, 63, 63}, 50*time.Millisecond)
	elapsed := time.Since(began)
	if err != nil {
		t.Fatalf("timeout reported as error: %v\n", err)
	}
	if r.Outcome != TimedOut {
		t.Errorf("expected timeout, got %s\n", r.Outcome)
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("search took %s to time out\n", elapsed)
	}
}

func TestTraceErrors(t *testing.T) {
	vol := funcVolume{
		ext:       horta.Extents3d{MaxPoint: horta.Point3d{7, 7, 7}},
		intensity: func(horta.Point3d) int32 { return 1 },
	}
	tracer := &Tracer{Volume: vol, Cost: UniformCost(1)}
	if _, err := tracer.Trace(context.Background(), horta.Point3d{0, 0, 0}, horta.Point3d{8, 0, 0}, 0); err == nil {
		t.Errorf("expected error for goal outside volume\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tracer.Trace(ctx, horta.Point3d{0, 0, 0}, horta.Point3d{7, 0, 0}, 0); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancellation, got %v\n", err)
	}
}

func TestAnisotropicVoxels(t *testing.T) {
	vol := funcVolume{
		ext:       horta.Extents3d{MaxPoint: horta.Point3d{4, 4, 0}},
		intensity: func(horta.Point3d) int32 { return 1 },
	}
	tracer := &Tracer{Volume: vol, Cost: UniformCost(1), VoxelSize: [3]float64{1, 2, 1}}
	r, err := tracer.Trace(context.Background(), horta.Point3d{0, 0, 0}, horta.Point3d{2, 2, 0}, 0)
	if err != nil || r.Outcome != Found {
		t.Fatalf("expected path, got %s: %v\n", r.Outcome, err)
	}
	expected := 2 * scaledDistance(horta.Point3d{1, 1, 0}, [3]float64{1, 2, 1})
	if diff := r.Cost - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cost %f, got %f\n", expected, r.Cost)
	}
}

func TestTracedPathSegmentMsgp(t *testing.T) {
	seg := TracedPathSegment{
		Segment:     NewSegmentIndex(17, 4),
		Path:        []horta.Point3d{{-1, 2, 3}, {0, 2, 3}, {1, 3, 4}},
		Intensities: []int32{100, 2000, 65535},
		Cost:        1.25,
	}
	b, err := seg.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("marshal failed: %v\n", err)
	}
	var got TracedPathSegment
	left, err := got.UnmarshalMsg(b)
	if err != nil || len(left) != 0 {
		t.Fatalf("unmarshal failed with %d bytes left: %v\n", len(left), err)
	}
	if !reflect.DeepEqual(seg, got) {
		t.Errorf("expected %+v, got %+v\n", seg, got)
	}

	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := seg.EncodeMsg(w); err != nil {
		t.Fatalf("encode failed: %v\n", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v\n", err)
	}
	if !bytes.Equal(buf.Bytes(), b) {
		t.Errorf("streamed encoding differs from marshaled bytes\n")
	}
	var decoded TracedPathSegment
	if err := decoded.DecodeMsg(msgp.NewReader(&buf)); err != nil {
		t.Fatalf("decode failed: %v\n", err)
	}
	if !reflect.DeepEqual(seg, decoded) {
		t.Errorf("expected %+v, got %+v\n", seg, decoded)
	}
	if _, err := got.UnmarshalMsg(b[:len(b)-3]); err == nil {
		t.Errorf("expected error on truncated message\n")
	}
}

var serviceLayout = octree.Layout{
	BlockSize: horta.Point3d{16, 16, 16},
	MaxDepth:  2,
	SourceID:  "test",
}

// uniformSource serves uniform tiles, optionally holding loads until released.
type uniformSource struct {
	gate  chan struct{}
	loads int32
}

func (s *uniformSource) Resident(octree.TileKey) (*voxels.Block, func(), bool) {
	return nil, nil, false
}

func (s *uniformSource) Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error) {
	atomic.AddInt32(&s.loads, 1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	bs := serviceLayout.BlockSize
	bld := voxels.NewBuilder(int(bs[0]), int(bs[1]), int(bs[2]), 1, 2, voxels.LittleEndian)
	bld.Fill(0, 500)
	return bld.Block(), nil
}

func waitFuture(t *testing.T, f *Future) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job %s never finished\n", f.JobID())
	}
	return r, err
}

func TestServiceCoalesces(t *testing.T) {
	src := &uniformSource{gate: make(chan struct{})}
	s, err := NewService(Config{Layout: serviceLayout, Depth: 2, Blocks: src})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	defer s.Close()

	p1, p2 := horta.Point3d{20, 20, 20}, horta.Point3d{30, 20, 20}
	var wg sync.WaitGroup
	futures := make([]*Future, 8)
	for i := range futures {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				futures[i] = s.Submit(NewPathTraceRequest(1, 2, p1, p2))
			} else {
				futures[i] = s.Submit(NewPathTraceRequest(2, 1, p2, p1))
			}
		}(i)
	}
	wg.Wait()
	if n := s.Running(); n != 1 {
		t.Errorf("expected 1 running job, got %d\n", n)
	}
	close(src.gate)
	for i, f := range futures {
		if f != futures[0] {
			t.Errorf("submit %d got a different job %s\n", i, f.JobID())
		}
		r, err := waitFuture(t, f)
		if err != nil || r.Outcome != Found {
			t.Fatalf("expected path, got %s: %v\n", r.Outcome, err)
		}
		if len(r.Path) != 11 {
			t.Errorf("expected 11 voxel path, got %d\n", len(r.Path))
		}
	}
	// The padded box [10,10,10]-[40,30,30] spans blocks 0..2 x 0..1 x 0..1 at depth 2.
	if n := atomic.LoadInt32(&src.loads); n != 12 {
		t.Errorf("expected one subvolume of 12 tiles, got %d loads\n", n)
	}
	if futures[0].Segment() != NewSegmentIndex(1, 2) {
		t.Errorf("unexpected segment %s\n", futures[0].Segment())
	}

	// Once finished, the same segment runs a new job.
	again := s.Submit(NewPathTraceRequest(1, 2, p1, p2))
	if again.JobID() == futures[0].JobID() {
		t.Errorf("finished job was reused\n")
	}
	waitFuture(t, again)
}

func TestServiceCancel(t *testing.T) {
	src := &uniformSource{gate: make(chan struct{})}
	s, err := NewService(Config{Layout: serviceLayout, Depth: 2, Blocks: src})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	defer s.Close()

	req := NewPathTraceRequest(5, 6, horta.Point3d{1, 1, 1}, horta.Point3d{9, 9, 9})
	f := s.Submit(req)
	if s.Cancel(NewSegmentIndex(7, 8)) {
		t.Errorf("cancelled a segment that was never submitted\n")
	}
	if !s.Cancel(NewSegmentIndex(6, 5)) {
		t.Fatalf("unable to cancel running job\n")
	}
	if _, err := waitFuture(t, f); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancellation, got %v\n", err)
	}
	if n := s.Running(); n != 0 {
		t.Errorf("cancelled job still running\n")
	}
}

func TestServiceResubmitAfterCancel(t *testing.T) {
	src := &uniformSource{gate: make(chan struct{})}
	s, err := NewService(Config{Layout: serviceLayout, Depth: 2, Blocks: src})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	defer s.Close()

	req := NewPathTraceRequest(5, 6, horta.Point3d{1, 1, 1}, horta.Point3d{9, 9, 9})
	cancelled := s.Submit(req)
	if !s.Cancel(req.Segment) {
		t.Fatalf("unable to cancel running job\n")
	}
	retried := s.Submit(req)
	if retried.JobID() == cancelled.JobID() {
		t.Fatalf("resubmitted request joined cancelled job %s\n", cancelled.JobID())
	}
	if n := s.Running(); n != 1 {
		t.Errorf("expected only the resubmitted job running, got %d\n", n)
	}
	if _, err := waitFuture(t, cancelled); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected cancellation, got %v\n", err)
	}
	close(src.gate)
	r, err := waitFuture(t, retried)
	if err != nil || r.Outcome != Found {
		t.Fatalf("expected resubmitted trace to find a path, got %s: %v\n", r.Outcome, err)
	}
	if n := s.Running(); n != 0 {
		t.Errorf("expected no running jobs, got %d\n", n)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	s, err := NewService(Config{Layout: serviceLayout, Depth: 2, Blocks: &uniformSource{}})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("error closing service: %v\n", err)
	}
	f := s.Submit(NewPathTraceRequest(1, 2, horta.Point3d{1, 1, 1}, horta.Point3d{2, 2, 2}))
	if _, err := waitFuture(t, f); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected submit after close to be cancelled, got %v\n", err)
	}
	if n := s.Running(); n != 0 {
		t.Errorf("closed service started a job\n")
	}
}

func TestServiceTimeout(t *testing.T) {
	src := &uniformSource{}
	s, err := NewService(Config{Layout: serviceLayout, Depth: 2, Blocks: src, Timeout: time.Nanosecond, Padding: -1})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	defer s.Close()
	r, err := waitFuture(t, s.Submit(NewPathTraceRequest(1, 2, horta.Point3d{0, 0, 0}, horta.Point3d{40, 40, 40})))
	if err != nil {
		t.Fatalf("timeout reported as error: %v\n", err)
	}
	if r.Outcome != TimedOut {
		t.Errorf("expected timeout, got %s\n", r.Outcome)
	}
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Anchor1 != 3 || e.Anchor2 != 4 || e.Outcome != Found.String() || e.PathLength != 2 || e.JobID == "" {
			return fmt.Errorf("unexpected event %+v", e)
		}
		return nil
	})

	s, err := NewService(Config{
		Layout:    serviceLayout,
		Depth:     2,
		Blocks:    &uniformSource{},
		Publisher: NewKafkaPublisherFromProducer(producer, "traces"),
	})
	if err != nil {
		t.Fatalf("can't create service: %v\n", err)
	}
	r, err := waitFuture(t, s.Submit(NewPathTraceRequest(4, 3, horta.Point3d{1, 1, 1}, horta.Point3d{2, 2, 2})))
	if err != nil || r.Outcome != Found {
		t.Fatalf("expected path, got %s: %v\n", r.Outcome, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("error closing service: %v\n", err)
	}
}
