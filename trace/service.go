package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/subvolume"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxConcurrent = 4
)

// Config describes where a Service finds voxels and how it runs searches.
type Config struct {
	Layout        octree.Layout
	Depth         int // octree depth searched, usually the full-resolution depth
	Blocks        subvolume.BlockSource
	Timeout       time.Duration // search time limit; 0 is DefaultTimeout
	Padding       int32         // voxels added around the endpoints' box; 0 is the default, negative is none
	MaxConcurrent int           // searches run at once; 0 is DefaultMaxConcurrent
	Channel       int
	VoxelSize     [3]float64
	Publisher     Publisher // optional
}

// Service runs trace requests as background jobs.  Concurrent requests for the same
// segment share one job.
type Service struct {
	config Config
	sem    chan struct{}

	mu   sync.Mutex
	jobs map[SegmentIndex]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	id      string
	request PathTraceRequest
	cancel  context.CancelFunc
	future  *Future
}

// Future is the pending result of a submitted request.
type Future struct {
	jobID   string
	segment SegmentIndex
	done    chan struct{}
	result  Result
	err     error
}

// JobID returns the unique id of the job computing this result.
func (f *Future) JobID() string {
	return f.jobID
}

// Segment returns the requested segment.
func (f *Future) Segment() SegmentIndex {
	return f.segment
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or the context is done.  Abandoning a
// wait does not cancel the job; use Service.Cancel for that.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// NewService returns a service ready to accept requests.
func NewService(config Config) (*Service, error) {
	if config.Blocks == nil {
		return nil, fmt.Errorf("trace service requires a block source")
	}
	if err := config.Layout.Validate(); err != nil {
		return nil, err
	}
	if config.Depth < 0 || config.Depth > config.Layout.MaxDepth {
		return nil, fmt.Errorf("trace depth %d is outside octree of depth %d", config.Depth, config.Layout.MaxDepth)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	switch {
	case config.Padding == 0:
		config.Padding = subvolume.DefaultPadding
	case config.Padding < 0:
		config.Padding = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.Publisher == nil {
		config.Publisher = NopPublisher{}
	}
	s := &Service{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
		jobs:   make(map[SegmentIndex]*job),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Submit starts a job for the request, or joins the running job for the same segment.
func (s *Service) Submit(req PathTraceRequest) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		f := &Future{segment: req.Segment, done: make(chan struct{}), err: fmt.Errorf("%w: service closed", ErrCancelled)}
		close(f.done)
		return f
	}
	if j, found := s.jobs[req.Segment]; found {
		horta.Debugf("Trace of segment %s joined running job %s\n", req.Segment, j.id)
		return j.future
	}
	ctx, cancel := context.WithCancel(s.ctx)
	id := uuid.NewV4().String()
	j := &job{
		id:      id,
		request: req,
		cancel:  cancel,
		future:  &Future{jobID: id, segment: req.Segment, done: make(chan struct{})},
	}
	s.jobs[req.Segment] = j
	s.wg.Add(1)
	go s.run(ctx, j)
	return j.future
}

// Cancel stops the running job for the segment.  It returns false if no job is running.
// Requests submitted after Cancel start a new job.
func (s *Service) Cancel(idx SegmentIndex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, found := s.jobs[idx]
	if found {
		j.cancel()
		delete(s.jobs, idx)
	}
	return found
}

// Running returns the number of unfinished jobs.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close cancels all jobs and waits for them to finish.
func (s *Service) Close() error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	return s.config.Publisher.Close()
}

func (s *Service) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	timedLog := horta.NewTimeLog()
	result, err := s.trace(ctx, j.request)
	j.cancel()

	s.mu.Lock()
	if s.jobs[j.request.Segment] == j {
		delete(s.jobs, j.request.Segment)
	}
	s.mu.Unlock()

	j.future.result, j.future.err = result, err
	close(j.future.done)

	if err != nil {
		timedLog.Infof("Trace job %s for segment %s failed: %v", j.id, j.request.Segment, err)
	} else {
		timedLog.Debugf("Trace job %s for segment %s: %s after %d expansions",
			j.id, j.request.Segment, result.Outcome, result.Expanded)
	}
	if perr := s.config.Publisher.Publish(NewEvent(j.id, j.request, result, err)); perr != nil {
		horta.Errorf("Unable to publish trace job %s: %v\n", j.id, perr)
	}
}

func (s *Service) trace(ctx context.Context, req PathTraceRequest) (Result, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	ext := subvolume.PaddedExtents(req.XYZ1, req.XYZ2, s.config.Padding)
	sv, err := subvolume.New(ctx, s.config.Layout, s.config.Depth, ext, s.config.Blocks)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return Result{}, err
	}
	defer sv.Release()

	stats := sv.Stats(s.config.Channel)
	tracer := &Tracer{
		Volume:    sv,
		Cost:      NewIntensityCost(stats.Mean, stats.StdDev, stats.Max),
		Channel:   s.config.Channel,
		VoxelSize: s.config.VoxelSize,
	}
	return tracer.Trace(ctx, req.XYZ1, req.XYZ2, s.config.Timeout)
}
