// Package zone ties a zone's collision oracle, liquid classifier and current
// navigation graph together and runs graph builds in the background.
package zone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-nav/internal/logger"
	"github.com/Faultbox/midgard-nav/internal/metrics"
	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/storage"
	"github.com/Faultbox/midgard-nav/internal/watermap"
	"github.com/Faultbox/midgard-nav/internal/zonemap"
	"github.com/Faultbox/midgard-nav/pkg/formats"
)

var (
	// ErrInvalidName is returned for zone names that are not plain file stems.
	ErrInvalidName = errors.New("invalid zone name")
	// ErrClosed is returned when starting a build on a closed zone.
	ErrClosed = errors.New("zone closed")
)

// GraphCache persists built graphs. *storage.GraphStore implements it.
type GraphCache interface {
	Load(key string) (*navgraph.Graph, error)
	Save(key string, g *navgraph.Graph) error
}

// Options configures Load.
type Options struct {
	// FloorRange overrides the plausible floor height bound; 0 keeps the default.
	FloorRange float32
	Cache      GraphCache
	Metrics    *metrics.Metrics
}

// Zone is one loaded zone. Queries are safe for concurrent use; at most one
// graph build runs at a time.
type Zone struct {
	Name string
	// Map is nil when the zone has no usable geometry.
	Map *zonemap.ZoneMap
	// Water is nil when the zone has no liquid data.
	Water *watermap.WaterMap
	// MapDigest is the SHA-256 of the .map file, empty when it failed to load.
	MapDigest string

	cache   GraphCache
	metrics *metrics.Metrics
	log     *zap.Logger

	tracker navgraph.PhaseTracker
	graph   atomic.Pointer[navgraph.Graph]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	job    *Job
	closed bool
}

// ValidName reports whether name can be used as a zone file stem.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// Load reads <dir>/<name>.map and <dir>/<name>.wtr concurrently. A missing or
// corrupt map yields a zone without geometry, and missing or corrupt liquid
// data yields a zone without liquids; both are logged, not returned.
func Load(ctx context.Context, dir, name string, opts Options) (*Zone, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	log := logger.Named("zone").With(zap.String("zone", name))

	z := &Zone{
		Name:    name,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		log:     log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		path := filepath.Join(dir, name+".map")
		data, err := os.ReadFile(path)
		if cerr := gctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			log.Warn("zone geometry unavailable", zap.String("path", path), zap.Error(err))
			return nil
		}
		geom, err := formats.ParseMap(data)
		if err != nil {
			log.Warn("zone geometry unreadable", zap.String("path", path), zap.Error(err))
			return nil
		}
		zm, err := zonemap.New(geom)
		if err != nil {
			log.Warn("zone geometry rejected", zap.String("path", path), zap.Error(err))
			return nil
		}
		if opts.FloorRange > 0 {
			zm.SetFloorRange(opts.FloorRange)
		}
		z.Map = zm
		z.MapDigest = storage.Digest(data)
		log.Debug("zone geometry loaded",
			zap.String("version", geom.Version.String()),
			zap.Int("triangles", zm.TriangleCount()),
		)
		return nil
	})
	g.Go(func() error {
		path := filepath.Join(dir, name+".wtr")
		wm, err := watermap.LoadWaterFile(path)
		if gctx.Err() != nil {
			return gctx.Err()
		}
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug("zone has no liquid data")
		case err != nil:
			log.Warn("zone liquid data unreadable", zap.String("path", path), zap.Error(err))
		default:
			z.Water = wm
			log.Debug("zone liquid data loaded", zap.Int("regions", wm.RegionCount()))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	z.ctx, z.cancel = context.WithCancel(context.Background())
	z.tracker.Subscribe(func(p navgraph.Phase) {
		z.metrics.BuildPhase(name, int(p))
	})

	result := "ok"
	if z.Map == nil {
		result = "empty"
	}
	z.metrics.ZoneLoaded(result)
	log.Info("zone loaded",
		zap.Bool("geometry", z.Map != nil),
		zap.Bool("liquids", z.Water != nil),
	)
	return z, nil
}

// HasGeometry reports whether the zone has collision triangles.
func (z *Zone) HasGeometry() bool {
	return z.Map.TriangleCount() > 0
}

// Graph returns the current navigation graph, or nil before the first build.
func (z *Zone) Graph() *navgraph.Graph {
	return z.graph.Load()
}

// SetGraph replaces the current graph, e.g. with one decoded from disk.
func (z *Zone) SetGraph(g *navgraph.Graph) {
	z.graph.Store(g)
	z.metrics.GraphNodes(z.Name, g.Len())
}

// Phase returns the build phase of the zone.
func (z *Zone) Phase() navgraph.Phase {
	return z.tracker.Phase()
}

// Tracker exposes the zone's phase tracker for subscriptions.
func (z *Zone) Tracker() *navgraph.PhaseTracker {
	return &z.tracker
}

// Job returns the most recent build job, or nil.
func (z *Zone) Job() *Job {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.job
}

// Close cancels a running build and waits for it to stop.
func (z *Zone) Close() {
	z.mu.Lock()
	if z.closed {
		z.mu.Unlock()
		return
	}
	z.closed = true
	z.mu.Unlock()

	z.cancel()
	z.wg.Wait()
}
