package navgraph

import (
	"context"
	"fmt"
	gomath "math"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-nav/internal/logger"
	"github.com/Faultbox/midgard-nav/internal/octree"
	"github.com/Faultbox/midgard-nav/internal/raycast"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

// Geometry is the collision oracle the builder samples.
type Geometry interface {
	Bounds() (lo, hi math.Vec3, ok bool)
	Raycast(from, to math.Vec3) (raycast.Hit, bool)
	IsUnderworld(p math.Vec3) bool
	CheckLoS(a, b math.Vec3) bool
	CheckLosNoHazards(start, end math.Vec3, stepSize, maxDiff float32) bool
}

// Liquids classifies points as swimmable.
type Liquids interface {
	InLiquid(p math.Vec3) bool
}

// Settings are the sampling and connection thresholds of a build.
type Settings struct {
	StepSizeLand      float32 `json:"step_size_land"`
	StepSizeWater     float32 `json:"step_size_water"`
	MaxSlopeOnLand    float32 `json:"max_slope_on_land"` // degrees
	ConnectRangeLand  float32 `json:"connect_range_land"`
	ConnectRangeWater float32 `json:"connect_range_water"`
	AgentHeight       float32 `json:"agent_height"`
	HazardStep        float32 `json:"hazard_step"`
	MaxHazardDiff     float32 `json:"max_hazard_diff"`
	// Workers bounds connection pass parallelism; 0 means GOMAXPROCS.
	Workers int `json:"-"`
}

// DefaultSettings returns the stock thresholds.
func DefaultSettings() Settings {
	return Settings{
		StepSizeLand:      10,
		StepSizeWater:     20,
		MaxSlopeOnLand:    60,
		ConnectRangeLand:  50,
		ConnectRangeWater: 50,
		AgentHeight:       6,
		HazardStep:        1,
		MaxHazardDiff:     10,
	}
}

// Validate rejects settings that would sample nothing or never terminate.
func (s Settings) Validate() error {
	if s.StepSizeLand <= 0 || s.StepSizeWater <= 0 {
		return fmt.Errorf("step sizes must be positive (land %v, water %v)", s.StepSizeLand, s.StepSizeWater)
	}
	if s.ConnectRangeLand < 0 || s.ConnectRangeWater < 0 {
		return fmt.Errorf("connect ranges must not be negative")
	}
	if s.HazardStep <= 0 {
		return fmt.Errorf("hazard step must be positive, got %v", s.HazardStep)
	}
	return nil
}

// Sampling grid limits. Land columns each cost a column of raycasts; water
// cells cost a region lookup.
const (
	maxLandColumns = 1 << 26
	maxWaterCells  = 1 << 32
)

// gridCount returns how many samples step apart fit in [lo, hi].
func gridCount(lo, hi, step float32) float64 {
	span := float64(hi) - float64(lo)
	if span < 0 {
		return 0
	}
	return gomath.Floor(span/float64(step)) + 1
}

// gridAt returns the i-th sample coordinate. Positions are derived from the
// index so the walk ends even when step is below float32 resolution at lo.
func gridAt(lo, step float32, i int) float32 {
	return float32(float64(lo) + float64(i)*float64(step))
}

// CheckGrid rejects step sizes whose sampling grids over [lo, hi] are too
// large to walk. The water grid only counts when the zone has liquids.
func (s Settings) CheckGrid(lo, hi math.Vec3, liquids bool) error {
	land := gridCount(lo.X, hi.X, s.StepSizeLand) * gridCount(lo.Z, hi.Z, s.StepSizeLand)
	if land > maxLandColumns {
		return fmt.Errorf("%w: land step %v gives %.0f columns (max %d)",
			ErrGridTooFine, s.StepSizeLand, land, maxLandColumns)
	}
	if !liquids {
		return nil
	}
	water := gridCount(lo.X, hi.X, s.StepSizeWater) *
		gridCount(lo.Y, hi.Y, s.StepSizeWater) *
		gridCount(lo.Z, hi.Z, s.StepSizeWater)
	if water > maxWaterCells {
		return fmt.Errorf("%w: water step %v gives %.0f cells (max %d)",
			ErrGridTooFine, s.StepSizeWater, water, int64(maxWaterCells))
	}
	return nil
}

// Builder runs one graph build at a time against a zone.
type Builder struct {
	geo      Geometry
	liquids  Liquids
	settings Settings
	tracker  *PhaseTracker
	log      *zap.Logger
}

// NewBuilder creates a builder. liquids may be nil for zones without liquid
// data. A nil tracker gets a private one.
func NewBuilder(geo Geometry, liquids Liquids, settings Settings, tracker *PhaseTracker) *Builder {
	if tracker == nil {
		tracker = &PhaseTracker{}
	}
	return &Builder{
		geo:      geo,
		liquids:  liquids,
		settings: settings,
		tracker:  tracker,
		log:      logger.Named("navgraph"),
	}
}

// Tracker returns the phase tracker the builder reports to.
func (b *Builder) Tracker() *PhaseTracker {
	return b.tracker
}

func (b *Builder) inLiquid(p math.Vec3) bool {
	return b.liquids != nil && b.liquids.InLiquid(p)
}

// Build samples and connects a new graph. Cancelling ctx abandons the build
// between samples and passes; no partial graph is ever returned.
//
// A successful build leaves the tracker at PhaseNeedsCompile until the owner
// installs the graph and calls Compiled. Failed builds reset it to PhaseNone.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	if err := b.settings.Validate(); err != nil {
		return nil, err
	}
	if !b.tracker.begin() {
		return nil, ErrBuildInProgress
	}
	built := false
	defer func() {
		if !built {
			b.tracker.set(PhaseNone)
		}
	}()

	lo, hi, ok := b.geo.Bounds()
	if !ok {
		return nil, ErrNoGeometry
	}
	if err := b.settings.CheckGrid(lo, hi, b.liquids != nil); err != nil {
		return nil, err
	}
	started := time.Now()

	var nodes []*Node
	nextID := 0
	add := func(p math.Vec3, t NodeType) {
		nodes = append(nodes, &Node{ID: nextID, Position: p, Type: t})
		nextID++
	}

	if err := b.landPass(ctx, lo, hi, add); err != nil {
		return nil, err
	}
	land := len(nodes)
	b.log.Info("land pass done", zap.Int("nodes", land))

	b.tracker.set(PhaseWaterNodePass)
	if err := b.waterPass(ctx, lo, hi, add); err != nil {
		return nil, err
	}
	b.log.Info("water pass done", zap.Int("nodes", len(nodes)-land))

	b.tracker.set(PhaseConnectionPass)
	edges, err := b.connectionPass(ctx, lo, hi, nodes)
	if err != nil {
		return nil, err
	}
	b.log.Info("connection pass done", zap.Int("edges", edges))

	b.tracker.set(PhaseOptimizationPass)
	kept := nodes[:0]
	for _, n := range nodes {
		if len(n.Connections) > 0 {
			kept = append(kept, n)
		}
	}
	b.log.Info("optimization pass done",
		zap.Int("removed", len(nodes)-len(kept)),
		zap.Int("nodes", len(kept)),
	)

	b.tracker.set(PhaseNeedsCompile)
	g := newGraph(kept)
	b.log.Info("nav graph built",
		zap.Int("nodes", g.Len()),
		zap.Duration("elapsed", time.Since(started)),
	)
	built = true
	return g, nil
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// landPass casts up through every grid column and keeps each crossing that
// is dry and flat enough to stand on.
func (b *Builder) landPass(ctx context.Context, lo, hi math.Vec3, add func(math.Vec3, NodeType)) error {
	step := b.settings.StepSizeLand
	bottom := lo.Y - 10
	top := hi.Y + 10
	nx := int(gridCount(lo.X, hi.X, step))
	nz := int(gridCount(lo.Z, hi.Z, step))

	for i := 0; i < nx; i++ {
		x := gridAt(lo.X, step, i)
		for j := 0; j < nz; j++ {
			if err := cancelled(ctx); err != nil {
				return err
			}
			z := gridAt(lo.Z, step, j)
			from := math.Vec3{X: x, Y: bottom, Z: z}
			to := math.Vec3{X: x, Y: top, Z: z}
			for {
				hit, ok := b.geo.Raycast(from, to)
				if !ok {
					break
				}
				// Skip one unit past the hit; the max keeps the cast moving
				// where +1 is lost to float32 rounding.
				from = math.Vec3{X: x, Y: max(hit.Point.Y+1, gomath.Nextafter32(hit.Point.Y, top)), Z: z}
				if from.Y >= top {
					break
				}

				if b.inLiquid(hit.Point) {
					continue
				}
				if math.AngleDeg(hit.Normal, math.Up) >= b.settings.MaxSlopeOnLand {
					continue
				}
				p := hit.Point
				p.Y = float32(gomath.Floor(float64(p.Y))) + 1
				add(p, NodeLand)
			}
		}
	}
	return nil
}

// waterPass keeps every 3D grid point inside liquid that is not underworld.
func (b *Builder) waterPass(ctx context.Context, lo, hi math.Vec3, add func(math.Vec3, NodeType)) error {
	if b.liquids == nil {
		return nil
	}
	step := b.settings.StepSizeWater
	nx := int(gridCount(lo.X, hi.X, step))
	ny := int(gridCount(lo.Y, hi.Y, step))
	nz := int(gridCount(lo.Z, hi.Z, step))

	for i := 0; i < nx; i++ {
		x := gridAt(lo.X, step, i)
		for j := 0; j < ny; j++ {
			y := gridAt(lo.Y, step, j)
			for k := 0; k < nz; k++ {
				if k%1024 == 0 {
					if err := cancelled(ctx); err != nil {
						return err
					}
				}
				p := math.Vec3{X: x, Y: y, Z: gridAt(lo.Z, step, k)}
				if !b.liquids.InLiquid(p) || b.geo.IsUnderworld(p) {
					continue
				}
				add(p, NodeWater)
			}
		}
	}
	return nil
}

type link struct {
	a, b   *Node
	weight float32
}

// connectionPass links every compatible pair once. Pairs are evaluated in
// parallel and applied in ID order so repeated builds produce identical graphs.
func (b *Builder) connectionPass(ctx context.Context, lo, hi math.Vec3, nodes []*Node) (int, error) {
	s := b.settings
	maxRange := max(s.ConnectRangeLand, s.ConnectRangeWater)

	// Land nodes sit up to a unit above the mesh.
	tree := octree.New[*Node](octree.Bounds{Min: lo, Max: hi}.Expand(2))
	for _, n := range nodes {
		tree.Insert(n.Position, n)
	}

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(nodes) + workers - 1) / workers
	results := make([][]link, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(nodes))
		if start >= end {
			break
		}
		g.Go(func() error {
			var out []link
			for i, a := range nodes[start:end] {
				if i%64 == 0 {
					if err := cancelled(gctx); err != nil {
						return err
					}
				}
				tree.TraverseRange(a.Position, maxRange, func(e octree.Entry[*Node]) bool {
					if e.Value.ID <= a.ID {
						return true
					}
					if weight, ok := b.connectable(a, e.Value); ok {
						out = append(out, link{a: a, b: e.Value, weight: weight})
					}
					return true
				})
			}
			results[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var all []link
	for _, r := range results {
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].a.ID != all[j].a.ID {
			return all[i].a.ID < all[j].a.ID
		}
		return all[i].b.ID < all[j].b.ID
	})
	for _, l := range all {
		l.a.link(l.b, l.weight)
		l.b.link(l.a, l.weight)
	}
	return len(all), nil
}

// connectable applies the visibility rules for one pair.
func (b *Builder) connectable(a, c *Node) (float32, bool) {
	s := b.settings
	dist := a.Position.Distance(c.Position)

	if a.Type == NodeWater || c.Type == NodeWater {
		if dist > s.ConnectRangeWater {
			return 0, false
		}
		raised := a.Position.Add(math.Vec3{Y: s.AgentHeight})
		return dist, b.geo.CheckLoS(raised, c.Position)
	}

	if dist > s.ConnectRangeLand {
		return 0, false
	}
	return dist, b.geo.CheckLosNoHazards(a.Position, c.Position, s.HazardStep, s.MaxHazardDiff)
}
