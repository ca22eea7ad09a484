// Package zoneinfo serves zone queries over HTTP and WebSocket.
package zoneinfo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/midgard-nav/internal/logger"
	"github.com/Faultbox/midgard-nav/internal/metrics"
	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/zone"
	"github.com/Faultbox/midgard-nav/internal/zonemap"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

// ErrServerClosed is returned for zone requests after Close.
var ErrServerClosed = errors.New("zone-info server closed")

// Config holds service settings.
type Config struct {
	DataDir      string
	Settings     navgraph.Settings
	FloorRange   float32
	CacheEntries int64
	CacheTTL     time.Duration
	BuildOnLoad  bool
}

// Deps are optional collaborators.
type Deps struct {
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // serves /metrics when set
	GraphCache zone.GraphCache
}

// floorResult is a cached FindBestFloor answer.
type floorResult struct {
	Z  float32
	OK bool
}

// Server owns the loaded zones and the HTTP routes.
type Server struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	floors *ristretto.Cache[string, floorResult]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	zones  map[string]*zone.Zone
	closed bool
	group  singleflight.Group

	engine *gin.Engine
}

// New creates the server and its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = 100_000
	}
	floors, err := ristretto.NewCache(&ristretto.Config[string, floorResult]{
		NumCounters: cfg.CacheEntries * 10,
		MaxCost:     cfg.CacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating floor cache: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    logger.Named("zoneinfo"),
		floors: floors,
		zones:  make(map[string]*zone.Zone),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), s.accessLog())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/ws", s.handleWS)

	zones := e.Group("/zones")
	zones.GET("", s.handleListZones)
	zones.GET("/:zone/info", s.handleInfo)
	zones.GET("/:zone/los", s.handleLoS)
	zones.GET("/:zone/path", s.handlePath)
	zones.GET("/:zone/graph", s.handleGraph)
	zones.POST("/:zone/build", s.handleStartBuild)
	zones.GET("/:zone/build", s.handleBuildStatus)
	zones.DELETE("/:zone/build", s.handleCancelBuild)
	return e
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Zone returns a loaded zone, loading it from the data directory on first use.
// Concurrent first requests share one load.
func (s *Server) Zone(name string) (*zone.Zone, error) {
	s.mu.RLock()
	z, ok := s.zones[name]
	closed := s.closed
	s.mu.RUnlock()
	if ok {
		return z, nil
	}
	if closed {
		return nil, ErrServerClosed
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		s.mu.RLock()
		z, ok := s.zones[name]
		s.mu.RUnlock()
		if ok {
			return z, nil
		}

		z, err := zone.Load(s.ctx, s.cfg.DataDir, name, zone.Options{
			FloorRange: s.cfg.FloorRange,
			Cache:      s.deps.GraphCache,
			Metrics:    s.deps.Metrics,
		})
		if err != nil {
			return nil, err
		}
		if s.cfg.BuildOnLoad && z.HasGeometry() {
			if _, err := z.StartBuild(s.cfg.Settings); err != nil {
				s.log.Warn("build on load failed", zap.String("zone", name), zap.Error(err))
			}
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			z.Close()
			return nil, ErrServerClosed
		}
		s.zones[name] = z
		s.mu.Unlock()
		return z, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*zone.Zone), nil
}

// Zones returns the names of loaded zones in order.
func (s *Server) Zones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.zones))
	for name := range s.zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops running builds and releases the cache. Zones still loading
// are closed by their loader instead of being registered.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	zones := s.zones
	s.zones = make(map[string]*zone.Zone)
	s.mu.Unlock()
	s.cancel()

	for _, z := range zones {
		z.Close()
	}
	s.floors.Close()
}

// Info is the answer for a point in a zone.
type Info struct {
	Status string  `json:"status"`
	BestZ  float32 `json:"best_z"`
	Area   string  `json:"area"`
}

// Info statuses.
const (
	StatusOK         = "ok"
	StatusNoFloor    = "no_floor"
	StatusNoGeometry = "no_geometry"
)

// Query answers the floor and liquid area at p.
func (s *Server) Query(z *zone.Zone, p math.Vec3) Info {
	s.deps.Metrics.Query("info")
	info := Info{
		Status: StatusOK,
		BestZ:  zonemap.BestZInvalid,
		Area:   z.Water.ReturnRegionType(p).String(),
	}
	if !z.HasGeometry() {
		info.Status = StatusNoGeometry
		return info
	}

	floor := s.bestFloor(z, p)
	info.BestZ = floor.Z
	if !floor.OK {
		info.Status = StatusNoFloor
	}
	return info
}

func (s *Server) bestFloor(z *zone.Zone, p math.Vec3) floorResult {
	key := fmt.Sprintf("%s|%g|%g|%g", z.Name, p.X, p.Y, p.Z)
	if r, ok := s.floors.Get(key); ok {
		s.deps.Metrics.CacheLookup("best_z", true)
		return r
	}
	s.deps.Metrics.CacheLookup("best_z", false)

	zf, ok := z.Map.FindBestFloor(p)
	r := floorResult{Z: zf, OK: ok}
	if s.cfg.CacheTTL > 0 {
		s.floors.SetWithTTL(key, r, 1, s.cfg.CacheTTL)
	} else {
		s.floors.Set(key, r, 1)
	}
	return r
}
