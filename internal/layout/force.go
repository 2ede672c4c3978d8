// Package layout provides force-directed node placement for graph stores.
package layout

import (
	"math"
	"math/rand"
	"sync"

	"github.com/matsen/ontoscope/internal/graph"
)

const (
	// DefaultIterations is the number of relaxation steps for a full pass.
	DefaultIterations = 200

	// DefaultMinDistance is the separation below which two nodes count as overlapping.
	DefaultMinDistance = 10.0

	// incrementalIterations is the number of steps used to settle new nodes.
	incrementalIterations = 60
)

// ForceDirected is a Fruchterman-Reingold layout engine.
type ForceDirected struct {
	iterations  int
	area        float64
	minDistance float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a ForceDirected engine.
type Option func(*ForceDirected)

// WithIterations sets the number of relaxation steps for a full pass.
func WithIterations(n int) Option {
	return func(f *ForceDirected) {
		if n > 0 {
			f.iterations = n
		}
	}
}

// WithSeed makes placement reproducible.
func WithSeed(seed int64) Option {
	return func(f *ForceDirected) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// WithArea fixes the area of the square the layout is computed in.
func WithArea(area float64) Option {
	return func(f *ForceDirected) {
		if area > 0 {
			f.area = area
		}
	}
}

// WithMinDistance sets the separation enforced between nodes.
func WithMinDistance(d float64) Option {
	return func(f *ForceDirected) {
		if d > 0 {
			f.minDistance = d
		}
	}
}

// NewForceDirected creates a layout engine.
func NewForceDirected(opts ...Option) *ForceDirected {
	f := &ForceDirected{
		iterations:  DefaultIterations,
		minDistance: DefaultMinDistance,
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RunFull places every node from scratch.
func (f *ForceDirected) RunFull(nodes []graph.Node, edges []graph.Edge) graph.Positions {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(nodes) == 0 {
		return graph.Positions{}
	}

	side := f.side(len(nodes))
	pos := make(map[string]*vec, len(nodes))
	for _, n := range nodes {
		pos[n.ID] = &vec{x: (f.rng.Float64() - 0.5) * side, y: (f.rng.Float64() - 0.5) * side}
	}

	f.relax(pos, nil, edges, side, f.iterations)
	f.separate(pos, nil)
	return export(pos)
}

// RunIncremental places the added nodes near an existing neighbor and settles
// them without moving any node that already had a position.
func (f *ForceDirected) RunIncremental(current graph.Positions, nodes []graph.Node, edges []graph.Edge, added graph.Delta) graph.Positions {
	f.mu.Lock()
	defer f.mu.Unlock()

	side := f.side(len(nodes))
	pos := make(map[string]*vec, len(nodes))
	fixed := make(map[string]bool, len(current))
	for _, n := range nodes {
		if p, ok := current[n.ID]; ok {
			pos[n.ID] = &vec{x: p.X, y: p.Y}
			fixed[n.ID] = true
		}
	}

	neighbors := adjacency(edges)
	for _, n := range nodes {
		if _, ok := pos[n.ID]; ok {
			continue
		}
		anchor := vec{}
		for _, nb := range neighbors[n.ID] {
			if p, ok := pos[nb]; ok && fixed[nb] {
				anchor = *p
				break
			}
		}
		jitter := f.minDistance * 4
		pos[n.ID] = &vec{
			x: anchor.x + (f.rng.Float64()-0.5)*jitter,
			y: anchor.y + (f.rng.Float64()-0.5)*jitter,
		}
	}

	if len(fixed) < len(pos) {
		f.relax(pos, fixed, edges, side, incrementalIterations)
		f.separate(pos, fixed)
	}
	return export(pos)
}

type vec struct{ x, y float64 }

// side is the edge length of the square the layout is computed in.
func (f *ForceDirected) side(n int) float64 {
	if f.area > 0 {
		return math.Sqrt(f.area)
	}
	return math.Max(100, math.Sqrt(float64(n))*f.minDistance*8)
}

func (f *ForceDirected) relax(pos map[string]*vec, fixed map[string]bool, edges []graph.Edge, side float64, iterations int) {
	n := len(pos)
	if n < 2 {
		return
	}
	k := math.Sqrt(side * side / float64(n))
	temperature := side / 10
	cooling := temperature / float64(iterations+1)

	ids := make([]string, 0, n)
	for id := range pos {
		ids = append(ids, id)
	}

	disp := make(map[string]*vec, n)
	for step := 0; step < iterations; step++ {
		for _, id := range ids {
			disp[id] = &vec{}
		}

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := pos[ids[i]], pos[ids[j]]
				dx, dy := a.x-b.x, a.y-b.y
				dist := math.Max(math.Hypot(dx, dy), 0.01)
				force := k * k / dist
				fx, fy := dx/dist*force, dy/dist*force
				disp[ids[i]].x += fx
				disp[ids[i]].y += fy
				disp[ids[j]].x -= fx
				disp[ids[j]].y -= fy
			}
		}

		for _, e := range edges {
			a, okA := pos[e.Source]
			b, okB := pos[e.Target]
			if !okA || !okB || e.Source == e.Target {
				continue
			}
			dx, dy := a.x-b.x, a.y-b.y
			dist := math.Max(math.Hypot(dx, dy), 0.01)
			force := dist * dist / k
			fx, fy := dx/dist*force, dy/dist*force
			disp[e.Source].x -= fx
			disp[e.Source].y -= fy
			disp[e.Target].x += fx
			disp[e.Target].y += fy
		}

		for _, id := range ids {
			if fixed[id] {
				continue
			}
			d := disp[id]
			length := math.Max(math.Hypot(d.x, d.y), 0.01)
			limit := math.Min(length, temperature)
			pos[id].x += d.x / length * limit
			pos[id].y += d.y / length * limit
		}
		temperature -= cooling
	}
}

// separate pushes apart movable nodes that ended closer than minDistance.
func (f *ForceDirected) separate(pos map[string]*vec, fixed map[string]bool) {
	ids := make([]string, 0, len(pos))
	for id := range pos {
		ids = append(ids, id)
	}
	for pass := 0; pass < 50; pass++ {
		moved := false
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := pos[ids[i]], pos[ids[j]]
				dx, dy := b.x-a.x, b.y-a.y
				dist := math.Hypot(dx, dy)
				if dist >= f.minDistance {
					continue
				}
				if dist < 1e-6 {
					angle := f.rng.Float64() * 2 * math.Pi
					dx, dy, dist = math.Cos(angle), math.Sin(angle), 1
				}
				push := (f.minDistance - dist) / 2 * 1.01
				ux, uy := dx/dist, dy/dist
				switch {
				case fixed[ids[i]] && fixed[ids[j]]:
					continue
				case fixed[ids[i]]:
					b.x += ux * push * 2
					b.y += uy * push * 2
				case fixed[ids[j]]:
					a.x -= ux * push * 2
					a.y -= uy * push * 2
				default:
					a.x -= ux * push
					a.y -= uy * push
					b.x += ux * push
					b.y += uy * push
				}
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

func adjacency(edges []graph.Edge) map[string][]string {
	out := make(map[string][]string)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e.Target)
		out[e.Target] = append(out[e.Target], e.Source)
	}
	return out
}

func export(pos map[string]*vec) graph.Positions {
	out := make(graph.Positions, len(pos))
	for id, p := range pos {
		out[id] = graph.Position{X: p.x, Y: p.y}
	}
	return out
}

// Converged reports whether every position is finite and no two nodes are
// closer than tolerance.
func Converged(positions graph.Positions, tolerance float64) bool {
	pts := make([]graph.Position, 0, len(positions))
	for _, p := range positions {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
		pts = append(pts, p)
	}
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			if math.Hypot(pts[i].X-pts[j].X, pts[i].Y-pts[j].Y) < tolerance {
				return false
			}
		}
	}
	return true
}
