// navtool is a CLI utility for inspecting zone geometry and building nav graphs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Faultbox/midgard-nav/internal/config"
	"github.com/Faultbox/midgard-nav/internal/logger"
	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/storage"
	"github.com/Faultbox/midgard-nav/internal/watermap"
	"github.com/Faultbox/midgard-nav/internal/zone"
	"github.com/Faultbox/midgard-nav/internal/zonemap"
	"github.com/Faultbox/midgard-nav/pkg/formats"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "floor":
		cmdFloor(args)
	case "los":
		cmdLoS(args)
	case "water":
		cmdWater(args)
	case "build":
		cmdBuild(args)
	case "path":
		cmdPath(args)
	case "flatten":
		cmdFlatten(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`navtool - zone geometry and navigation graph utility

Usage:
  navtool <command> [options]

Commands:
  info <file.map> [file.wtr]                 Show geometry and liquid summary
  floor <file.map> <x> <y> <z>               Best floor and underworld check
  los <file.map> <x1> <y1> <z1> <x2> <y2> <z2>
                                             Line of sight (-hazards for walkability)
  water <file.wtr> <x> <y> <z>               Liquid type at a point
  build [options] <zone>                     Build a nav graph from <data>/<zone>.map/.wtr
  path <file.nav> <x1> <y1> <z1> <x2> <y2> <z2>
                                             Shortest path over a built graph
  flatten <in.map> <out.map>                 Rewrite a zone's collision mesh as a V1 file
  config [-o file]                           Print or write the default service config

Coordinates are world space (Y up).

Examples:
  navtool info maps/qeynos.map maps/qeynos.wtr
  navtool floor maps/qeynos.map 120 15 -300
  navtool build -data maps -o qeynos.nav qeynos
  navtool path qeynos.nav 0 5 0 250 5 -80`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// parseVecs reads groups of three floats.
func parseVecs(args []string) ([]math.Vec3, error) {
	if len(args)%3 != 0 {
		return nil, fmt.Errorf("expected coordinates in groups of 3, got %d values", len(args))
	}
	out := make([]math.Vec3, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		var f [3]float32
		for j := range f {
			v, err := strconv.ParseFloat(args[i+j], 32)
			if err != nil {
				return nil, fmt.Errorf("bad coordinate %q", args[i+j])
			}
			f[j] = float32(v)
		}
		out = append(out, math.Vec3{X: f[0], Y: f[1], Z: f[2]})
	}
	return out, nil
}

func fmtVec(v math.Vec3) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: navtool info <file.map> [file.wtr]")
		os.Exit(1)
	}

	zm, err := zonemap.LoadMapFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	geom := zm.Geometry()

	fmt.Printf("Map:          %s\n", args[0])
	fmt.Printf("Version:      %s\n", geom.Version)
	fmt.Printf("Collision:    %d triangles, %d vertices\n", geom.Collision.TriangleCount(), len(geom.Collision.Vertices))
	fmt.Printf("NonCollision: %d triangles, %d vertices\n", geom.NonCollision.TriangleCount(), len(geom.NonCollision.Vertices))
	if lo, hi, ok := zm.Bounds(); ok {
		fmt.Printf("Bounds:       %s - %s\n", fmtVec(lo), fmtVec(hi))
	}

	if len(args) < 2 {
		return
	}
	wm, err := watermap.LoadWaterFile(args[1])
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println()
	fmt.Printf("Liquids:      %s (%d regions)\n", args[1], wm.RegionCount())

	counts := make(map[formats.LiquidType]int)
	for _, r := range wm.Regions() {
		counts[r.Type]++
	}
	for t := formats.LiquidUnsupported; t <= formats.LiquidGeneralArea; t++ {
		if counts[t] > 0 {
			fmt.Printf("  %-12s %d\n", t, counts[t])
		}
	}
}

func cmdFloor(args []string) {
	if len(args) != 4 {
		fmt.Fprintln(os.Stderr, "Usage: navtool floor <file.map> <x> <y> <z>")
		os.Exit(1)
	}
	pts, err := parseVecs(args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	zm, err := zonemap.LoadMapFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	p := pts[0]
	if best, ok := zm.FindBestFloor(p); ok {
		fmt.Printf("Best floor: %.3f\n", best)
	} else {
		fmt.Println("Best floor: none")
	}
	fmt.Printf("Underworld: %v\n", zm.IsUnderworld(p))
}

func cmdLoS(args []string) {
	fs := flag.NewFlagSet("los", flag.ExitOnError)
	hazards := fs.Bool("hazards", false, "Also check the path is walkable")
	step := fs.Float64("step", 1, "Hazard sample spacing")
	maxDiff := fs.Float64("maxdiff", 10, "Largest allowed floor drop between samples")
	fs.Parse(args)

	if fs.NArg() != 7 {
		fmt.Fprintln(os.Stderr, "Usage: navtool los [-hazards] <file.map> <x1> <y1> <z1> <x2> <y2> <z2>")
		os.Exit(1)
	}
	pts, err := parseVecs(fs.Args()[1:])
	if err != nil {
		fatalf("%v", err)
	}
	zm, err := zonemap.LoadMapFile(fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Line of sight: %v\n", zm.CheckLoS(pts[0], pts[1]))
	if hit, ok := zm.Raycast(pts[0], pts[1]); ok {
		fmt.Printf("First hit:     %s at %.2f\n", fmtVec(hit.Point), hit.Distance)
	}
	if *hazards {
		fmt.Printf("Walkable:      %v\n", zm.CheckLosNoHazards(pts[0], pts[1], float32(*step), float32(*maxDiff)))
	}
}

func cmdWater(args []string) {
	if len(args) != 4 {
		fmt.Fprintln(os.Stderr, "Usage: navtool water <file.wtr> <x> <y> <z>")
		os.Exit(1)
	}
	pts, err := parseVecs(args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	wm, err := watermap.LoadWaterFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	p := pts[0]
	fmt.Printf("Region:    %s\n", wm.ReturnRegionType(p))
	fmt.Printf("In liquid: %v\n", wm.InLiquid(p))
}

func cmdBuild(args []string) {
	def := navgraph.DefaultSettings()
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dataDir := fs.String("data", ".", "Directory holding <zone>.map and <zone>.wtr")
	output := fs.String("o", "", "Output file (default <zone>.nav)")
	cacheDir := fs.String("cache", "", "Graph cache directory (disabled when empty)")
	verbose := fs.Bool("v", false, "Log build progress")
	workers := fs.Int("workers", 0, "Connection pass workers (0 = all CPUs)")
	stepLand := fs.Float64("step-land", float64(def.StepSizeLand), "Land sampling step")
	stepWater := fs.Float64("step-water", float64(def.StepSizeWater), "Water sampling step")
	maxSlope := fs.Float64("max-slope", float64(def.MaxSlopeOnLand), "Steepest walkable slope in degrees")
	rangeLand := fs.Float64("range-land", float64(def.ConnectRangeLand), "Land connection range")
	rangeWater := fs.Float64("range-water", float64(def.ConnectRangeWater), "Water connection range")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: navtool build [options] <zone>")
		os.Exit(1)
	}
	name := fs.Arg(0)

	level := "warn"
	if *verbose {
		level = "info"
	}
	if err := logger.Init(level, ""); err != nil {
		fatalf("%v", err)
	}
	defer logger.Sync()

	settings := def
	settings.Workers = *workers
	settings.StepSizeLand = float32(*stepLand)
	settings.StepSizeWater = float32(*stepWater)
	settings.MaxSlopeOnLand = float32(*maxSlope)
	settings.ConnectRangeLand = float32(*rangeLand)
	settings.ConnectRangeWater = float32(*rangeWater)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := zone.Options{}
	if *cacheDir != "" {
		store, err := storage.Open(*cacheDir)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()
		opts.Cache = store
	}

	z, err := zone.Load(ctx, *dataDir, name, opts)
	if err != nil {
		fatalf("%v", err)
	}
	defer z.Close()
	if !z.HasGeometry() {
		fatalf("zone %s has no usable geometry in %s", name, *dataDir)
	}

	start := time.Now()
	g, err := z.Build(ctx, settings)
	if errors.Is(err, navgraph.ErrCancelled) {
		fmt.Fprintln(os.Stderr, "Build cancelled")
		os.Exit(130)
	}
	if err != nil {
		fatalf("%v", err)
	}

	data, err := g.MarshalBinary()
	if err != nil {
		fatalf("%v", err)
	}
	out := *output
	if out == "" {
		out = name + ".nav"
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		fatalf("%v", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		fatalf("%v", err)
	}

	st := g.Stats()
	fmt.Printf("Zone:    %s\n", name)
	fmt.Printf("Nodes:   %d (%d land, %d water)\n", st.Nodes, st.LandNodes, st.WaterNodes)
	fmt.Printf("Edges:   %d (avg degree %.1f)\n", st.Edges, st.AvgDegree)
	fmt.Printf("Elapsed: %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Written: %s (%d bytes)\n", out, len(data))
}

func cmdPath(args []string) {
	if len(args) != 7 {
		fmt.Fprintln(os.Stderr, "Usage: navtool path <file.nav> <x1> <y1> <z1> <x2> <y2> <z2>")
		os.Exit(1)
	}
	pts, err := parseVecs(args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	g, err := navgraph.UnmarshalGraph(data)
	if err != nil {
		fatalf("%v", err)
	}

	path, err := g.FindPath(pts[0], pts[1])
	if err != nil {
		fatalf("%v", err)
	}
	for i, n := range path {
		fmt.Printf("%3d  node %-6d %-5s %s\n", i, n.ID, n.Type, fmtVec(n.Position))
	}
	fmt.Printf("\n%d nodes, length %.2f\n", len(path), navgraph.PathLength(path))
}

func cmdFlatten(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: navtool flatten <in.map> <out.map>")
		os.Exit(1)
	}
	geom, err := formats.ParseMapFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	// V1 files are Z-up; undo the decode swap.
	mesh := &geom.Collision
	tris := make([][3]math.Vec3, mesh.TriangleCount())
	for i := range tris {
		a, b, c := mesh.Triangle(i)
		tris[i] = [3]math.Vec3{a.SwapYZ(), b.SwapYZ(), c.SwapYZ()}
	}
	data := formats.EncodeMapV1(tris)
	if err := os.WriteFile(args[1], data, 0644); err != nil {
		fatalf("%v", err)
	}

	ext := strings.ToLower(filepath.Ext(args[1]))
	if ext != ".map" {
		fmt.Fprintf(os.Stderr, "warning: %s does not end in .map\n", args[1])
	}
	fmt.Printf("Wrote %s: %d triangles (%s -> V1)\n", args[1], len(tris), geom.Version)
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	output := fs.String("o", "", "Write to file instead of stdout")
	fs.Parse(args)

	cfg := config.Default()
	if *output != "" {
		if err := cfg.SaveTo(*output); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s\n", *output)
		return
	}
	data, err := cfg.YAML()
	if err != nil {
		fatalf("%v", err)
	}
	os.Stdout.Write(data)
}
