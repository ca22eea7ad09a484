package zone

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/storage"
)

// Job is one background graph build.
type Job struct {
	ID       uuid.UUID
	Zone     string
	Settings navgraph.Settings
	Started  time.Time

	tracker *navgraph.PhaseTracker
	cancel  context.CancelFunc
	done    chan struct{}

	// set before done is closed
	graph     *navgraph.Graph
	err       error
	fromCache bool
	finished  time.Time
}

// Done is closed when the build finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finished reports whether the build has ended.
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the build ends or ctx is done.
func (j *Job) Wait(ctx context.Context) (*navgraph.Graph, error) {
	select {
	case <-j.done:
		return j.graph, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the build to stop. It returns immediately.
func (j *Job) Cancel() {
	j.cancel()
}

// Phase returns the zone's build phase while this job runs and PhaseNone after.
func (j *Job) Phase() navgraph.Phase {
	if j.Finished() {
		return navgraph.PhaseNone
	}
	return j.tracker.Phase()
}

// Err returns the build error once finished.
func (j *Job) Err() error {
	if !j.Finished() {
		return nil
	}
	return j.err
}

// Graph returns the built graph once finished without error.
func (j *Job) Graph() *navgraph.Graph {
	if !j.Finished() {
		return nil
	}
	return j.graph
}

// FromCache reports whether the finished graph came from the graph cache.
func (j *Job) FromCache() bool {
	return j.Finished() && j.fromCache
}

// Elapsed returns the build duration so far, or the total once finished.
func (j *Job) Elapsed() time.Duration {
	if j.Finished() {
		return j.finished.Sub(j.Started)
	}
	return time.Since(j.Started)
}

// StartBuild begins a background build with s. It fails with
// navgraph.ErrBuildInProgress while another build of this zone runs, and
// with navgraph.ErrGridTooFine when s would sample too many points.
func (z *Zone) StartBuild(s navgraph.Settings) (*Job, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if lo, hi, ok := z.Map.Bounds(); ok {
		if err := s.CheckGrid(lo, hi, z.Water != nil); err != nil {
			return nil, err
		}
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil, ErrClosed
	}
	if z.job != nil && !z.job.Finished() {
		return nil, navgraph.ErrBuildInProgress
	}

	ctx, cancel := context.WithCancel(z.ctx)
	job := &Job{
		ID:       uuid.New(),
		Zone:     z.Name,
		Settings: s,
		Started:  time.Now(),
		tracker:  &z.tracker,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	z.job = job

	z.wg.Add(1)
	go func() {
		defer z.wg.Done()
		defer cancel()
		z.run(ctx, job)
	}()
	return job, nil
}

// Build runs a build to completion on the calling goroutine.
func (z *Zone) Build(ctx context.Context, s navgraph.Settings) (*navgraph.Graph, error) {
	job, err := z.StartBuild(s)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, job.Cancel)
	defer stop()
	return job.Wait(context.Background())
}

func (z *Zone) run(ctx context.Context, job *Job) {
	log := z.log.With(zap.String("job", job.ID.String()))
	defer close(job.done)

	key := ""
	if z.cache != nil && z.MapDigest != "" {
		key = storage.GraphKey(z.Name, z.MapDigest, z.Map.FloorRange(), job.Settings)
		g, err := z.cache.Load(key)
		z.metrics.CacheLookup("graph", err == nil)
		if err == nil {
			job.graph, job.fromCache, job.finished = g, true, time.Now()
			z.SetGraph(g)
			log.Info("nav graph loaded from cache", zap.Int("nodes", g.Len()))
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("graph cache lookup failed", zap.Error(err))
		}
	}

	b := navgraph.NewBuilder(z.Map, z.liquids(), job.Settings, &z.tracker)
	log.Info("nav graph build started")
	g, err := b.Build(ctx)
	job.finished = time.Now()
	elapsed := job.finished.Sub(job.Started)

	if err != nil {
		job.err = err
		result := "error"
		if errors.Is(err, navgraph.ErrCancelled) {
			result = "cancelled"
		}
		z.metrics.BuildFinished(z.Name, result, elapsed, 0)
		log.Warn("nav graph build failed", zap.Error(err))
		return
	}

	job.graph = g
	z.SetGraph(g)
	z.tracker.Compiled()
	z.metrics.BuildFinished(z.Name, "ok", elapsed, g.Len())

	if key != "" {
		if err := z.cache.Save(key, g); err != nil {
			log.Warn("graph cache save failed", zap.Error(err))
		}
	}
}

// liquids avoids handing the builder a typed nil.
func (z *Zone) liquids() navgraph.Liquids {
	if z.Water == nil {
		return nil
	}
	return z.Water
}
