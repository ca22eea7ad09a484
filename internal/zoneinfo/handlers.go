package zoneinfo

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
	"github.com/Faultbox/midgard-nav/internal/zone"
	"github.com/Faultbox/midgard-nav/pkg/math"
)

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// loadZone resolves the :zone parameter, answering the request on failure.
func (s *Server) loadZone(c *gin.Context) (*zone.Zone, bool) {
	z, err := s.Zone(c.Param("zone"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, zone.ErrInvalidName):
			status = http.StatusBadRequest
		case errors.Is(err, ErrServerClosed):
			status = http.StatusServiceUnavailable
		}
		abort(c, status, err)
		return nil, false
	}
	return z, true
}

// parseVec reads "x,y,z".
func parseVec(s string) (math.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return math.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var f [3]float32
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return math.Vec3{}, fmt.Errorf("coordinate %q: %w", p, err)
		}
		f[i] = float32(v)
	}
	return math.Vec3{X: f[0], Y: f[1], Z: f[2]}, nil
}

func queryFloat(c *gin.Context, key string) (float32, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return float32(v), nil
}

func (s *Server) handleListZones(c *gin.Context) {
	type zoneSummary struct {
		Name     string          `json:"name"`
		Geometry bool            `json:"geometry"`
		Liquids  bool            `json:"liquids"`
		Phase    string          `json:"phase"`
		Graph    *navgraph.Stats `json:"graph,omitempty"`
	}
	out := []zoneSummary{}
	for _, name := range s.Zones() {
		z, err := s.Zone(name)
		if err != nil {
			continue
		}
		sum := zoneSummary{
			Name:     name,
			Geometry: z.HasGeometry(),
			Liquids:  z.Water != nil,
			Phase:    z.Phase().String(),
		}
		if g := z.Graph(); g != nil {
			st := g.Stats()
			sum.Graph = &st
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleInfo(c *gin.Context) {
	var p math.Vec3
	var err error
	for _, axis := range []struct {
		key string
		dst *float32
	}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
		if *axis.dst, err = queryFloat(c, axis.key); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}

	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Query(z, p))
}

func (s *Server) handleLoS(c *gin.Context) {
	from, err := parseVec(c.Query("from"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseVec(c.Query("to"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	z, ok := s.loadZone(c)
	if !ok {
		return
	}

	s.deps.Metrics.Query("los")
	resp := gin.H{"visible": z.Map.CheckLoS(from, to)}
	if c.Query("hazards") == "true" {
		st := s.cfg.Settings
		s.deps.Metrics.Query("hazards")
		resp["safe"] = z.Map.CheckLosNoHazards(from, to, st.HazardStep, st.MaxHazardDiff)
	}
	c.JSON(http.StatusOK, resp)
}

type pathResponse struct {
	Nodes  []math.Vec3 `json:"nodes"`
	Length float32     `json:"length"`
}

func (s *Server) handlePath(c *gin.Context) {
	from, err := parseVec(c.Query("from"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseVec(c.Query("to"))
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	g := z.Graph()
	if g == nil {
		abort(c, http.StatusConflict, errors.New("zone has no nav graph; start a build first"))
		return
	}

	s.deps.Metrics.Query("path")
	path, err := g.FindPath(from, to)
	switch {
	case errors.Is(err, navgraph.ErrNoPath):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		abort(c, http.StatusConflict, err)
		return
	}

	resp := pathResponse{Nodes: make([]math.Vec3, len(path)), Length: navgraph.PathLength(path)}
	for i, n := range path {
		resp.Nodes[i] = n.Position
	}
	c.JSON(http.StatusOK, resp)
}

// graphNode is the visualisation shape of a node.
type graphNode struct {
	ID       int       `json:"id"`
	Type     string    `json:"type"`
	Position math.Vec3 `json:"position"`
	Links    []int     `json:"links"`
}

func (s *Server) handleGraph(c *gin.Context) {
	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	g := z.Graph()
	if g == nil {
		abort(c, http.StatusNotFound, errors.New("zone has no nav graph"))
		return
	}

	nodes := make([]graphNode, len(g.Nodes))
	for i, n := range g.Nodes {
		links := make([]int, len(n.Connections))
		for j, conn := range n.Connections {
			links[j] = conn.To.ID
		}
		nodes[i] = graphNode{ID: n.ID, Type: n.Type.String(), Position: n.Position, Links: links}
	}
	c.JSON(http.StatusOK, gin.H{"stats": g.Stats(), "nodes": nodes})
}

type buildRequest struct {
	StepSizeLand      *float32 `json:"step_size_land"`
	StepSizeWater     *float32 `json:"step_size_water"`
	MaxSlopeOnLand    *float32 `json:"max_slope_on_land"`
	ConnectRangeLand  *float32 `json:"connect_range_land"`
	ConnectRangeWater *float32 `json:"connect_range_water"`
}

// settings overlays the request on the server defaults.
func (r buildRequest) settings(base navgraph.Settings) navgraph.Settings {
	set := func(dst *float32, v *float32) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.StepSizeLand, r.StepSizeLand)
	set(&base.StepSizeWater, r.StepSizeWater)
	set(&base.MaxSlopeOnLand, r.MaxSlopeOnLand)
	set(&base.ConnectRangeLand, r.ConnectRangeLand)
	set(&base.ConnectRangeWater, r.ConnectRangeWater)
	return base
}

type jobStatus struct {
	ID        string          `json:"id"`
	Phase     string          `json:"phase"`
	Finished  bool            `json:"finished"`
	FromCache bool            `json:"from_cache"`
	Elapsed   float64         `json:"elapsed_seconds"`
	Error     string          `json:"error,omitempty"`
	Graph     *navgraph.Stats `json:"graph,omitempty"`
}

func statusOf(job *zone.Job) jobStatus {
	st := jobStatus{
		ID:        job.ID.String(),
		Phase:     job.Phase().String(),
		Finished:  job.Finished(),
		FromCache: job.FromCache(),
		Elapsed:   job.Elapsed().Round(time.Millisecond).Seconds(),
	}
	if err := job.Err(); err != nil {
		st.Error = err.Error()
	}
	if st.Finished && st.Error == "" {
		if g := job.Graph(); g != nil {
			stats := g.Stats()
			st.Graph = &stats
		}
	}
	return st
}

func (s *Server) handleStartBuild(c *gin.Context) {
	var req buildRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}
	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	if !z.HasGeometry() {
		abort(c, http.StatusConflict, navgraph.ErrNoGeometry)
		return
	}

	job, err := z.StartBuild(req.settings(s.cfg.Settings))
	switch {
	case errors.Is(err, navgraph.ErrBuildInProgress):
		abort(c, http.StatusConflict, err)
		return
	case err != nil:
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusAccepted, statusOf(job))
}

func (s *Server) handleBuildStatus(c *gin.Context) {
	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	job := z.Job()
	if job == nil {
		abort(c, http.StatusNotFound, errors.New("no build has been started"))
		return
	}
	c.JSON(http.StatusOK, statusOf(job))
}

func (s *Server) handleCancelBuild(c *gin.Context) {
	z, ok := s.loadZone(c)
	if !ok {
		return
	}
	job := z.Job()
	if job == nil || job.Finished() {
		abort(c, http.StatusNotFound, errors.New("no build is running"))
		return
	}
	job.Cancel()
	c.JSON(http.StatusAccepted, statusOf(job))
}
